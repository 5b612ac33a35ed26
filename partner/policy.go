package partner

import (
	"math/rand"
)

// Behavior is the concrete delivery decision for one admitted request.
type Behavior int

const (
	Deliver Behavior = iota
	DropBeforeProcessing
	DropBeforeReply
)

func (b Behavior) String() string {
	switch b {
	case Deliver:
		return "deliver"
	case DropBeforeProcessing:
		return "drop_before_processing"
	case DropBeforeReply:
		return "drop_before_reply"
	}
	return "unknown"
}

// Policy turns a partner's ServiceMode into a Behavior for a single request.
// RANDOM is resolved independently per request, uniformly over the three behaviors.
type Policy struct {
	intn func(n int) int
}

// NewPolicy returns a policy drawing from the global math/rand source,
// which is safe for concurrent use.
func NewPolicy() *Policy {
	return &Policy{intn: rand.Intn}
}

// NewPolicyWithSource uses intn for RANDOM decisions. intn must be safe for
// concurrent use if the policy is shared across connections.
func NewPolicyWithSource(intn func(n int) int) *Policy {
	return &Policy{intn: intn}
}

func (p *Policy) Decide(mode ServiceMode) Behavior {
	switch mode {
	case DisconnectBeforeProcessing:
		return DropBeforeProcessing
	case DisconnectBeforeReply:
		return DropBeforeReply
	case Random:
		return Behavior(p.intn(3))
	default:
		return Deliver
	}
}
