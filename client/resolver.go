package client

import (
	"context"

	"fault-rpc/discovery"
	"fault-rpc/loadbalance"

	"github.com/pkg/errors"
)

// Resolver finds the address of the remote partner's server. It is consulted on
// every (re)dial, so a resolver backed by discovery follows servers that move.
type Resolver interface {
	// Resolve returns the address to dial. selfID is the caller's own PartnerID.
	Resolve(ctx context.Context, selfID string) (string, error)
}

// StaticResolver always dials the same address.
type StaticResolver string

func (r StaticResolver) Resolve(context.Context, string) (string, error) {
	return string(r), nil
}

// DiscoveryResolver looks PartnerID up in Registry and lets Balancer choose among the
// advertised instances, keyed by the caller's PartnerID.
type DiscoveryResolver struct {
	Registry  discovery.Registry
	Balancer  loadbalance.Balancer
	PartnerID string
}

func (r *DiscoveryResolver) Resolve(ctx context.Context, selfID string) (string, error) {
	instances, err := r.Registry.Discover(ctx, r.PartnerID)
	if err != nil {
		return "", err
	}
	inst, err := r.Balancer.Pick(selfID, instances)
	if err != nil {
		return "", errors.Wrapf(err, "client: resolve %s", r.PartnerID)
	}
	return inst.Addr, nil
}
