package partner

import "context"

type idKey struct{}

// WithID returns a context carrying the PartnerID of the caller being served.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// IDFromContext returns the caller's PartnerID, if the context carries one.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(idKey{}).(string)
	return id, ok
}
