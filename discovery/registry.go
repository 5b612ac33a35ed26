// Package discovery lets partner servers advertise where they listen and lets
// connecting partners find them by PartnerID.
package discovery

import "context"

// Instance is one advertised server address of a partner.
type Instance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // for weighted load balancing
	Version string `json:"version,omitempty"`
}

// Registry maps a PartnerID to the addresses its servers listen on.
type Registry interface {
	// Register advertises inst under partnerID until Deregister, or until the
	// process stops renewing it for ttl seconds.
	Register(ctx context.Context, partnerID string, inst Instance, ttl int64) error
	Deregister(ctx context.Context, partnerID, addr string) error
	Discover(ctx context.Context, partnerID string) ([]Instance, error)
}
