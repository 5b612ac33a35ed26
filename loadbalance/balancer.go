// Package loadbalance picks which advertised server instance of a partner to dial.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances, by advertised weight
//   - ConsistentHash:  affinity; keyed by the caller's own PartnerID so a partner
//     that reconnects lands on the same server instance and keeps its service mode
package loadbalance

import (
	"fault-rpc/discovery"

	"github.com/pkg/errors"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance. The client calls Pick on every (re)dial.
type Balancer interface {
	// Pick selects one of instances. key identifies the caller; strategies
	// without affinity ignore it. Must be safe for concurrent use.
	Pick(key string, instances []discovery.Instance) (discovery.Instance, error)

	// Name returns the strategy name, for logging.
	Name() string
}

// New returns the balancer registered under name: "round_robin",
// "weighted_random" or "consistent_hash".
func New(name string) (Balancer, error) {
	switch name {
	case "round_robin", "":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, errors.Errorf("loadbalance: unknown strategy %q", name)
}
