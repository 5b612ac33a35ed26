package interceptor

import (
	"context"

	"fault-rpc/message"
	"fault-rpc/partner"

	"go.uber.org/zap"
)

type logging struct {
	logger *zap.Logger
}

// Logging logs every request at debug level and every response; error responses
// are logged at info level with their kind.
func Logging(logger *zap.Logger) Interceptor {
	return &logging{logger: logger}
}

func (l *logging) fields(ctx context.Context, req *message.Request) []zap.Field {
	id, _ := partner.IDFromContext(ctx)
	return []zap.Field{
		zap.String("partner", id),
		zap.String("method", req.Method),
		zap.Stringer("id", req.ID),
	}
}

func (l *logging) Pre(ctx context.Context, req *message.Request) *message.Response {
	if ce := l.logger.Check(zap.DebugLevel, "request"); ce != nil {
		ce.Write(append(l.fields(ctx, req), zap.Int("params", len(req.Params)))...)
	}
	return nil
}

func (l *logging) Post(ctx context.Context, req *message.Request, resp *message.Response) {
	if resp.IsError() {
		l.logger.Info("request failed", append(l.fields(ctx, req),
			zap.String("kind", string(resp.Error.Kind)),
			zap.String("error", resp.Error.Message))...)
		return
	}
	l.logger.Debug("request served", l.fields(ctx, req)...)
}
