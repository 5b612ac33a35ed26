package loadbalance

import (
	"math/rand"

	"fault-rpc/discovery"
)

// WeightedRandomBalancer picks an instance with probability proportional to its
// weight. Instances advertising no weight count as weight 1.
type WeightedRandomBalancer struct{}

func weight(inst discovery.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}

func (b *WeightedRandomBalancer) Pick(_ string, instances []discovery.Instance) (discovery.Instance, error) {
	if len(instances) == 0 {
		return discovery.Instance{}, ErrNoInstances
	}

	total := 0
	for _, inst := range instances {
		total += weight(inst)
	}
	r := rand.Intn(total)
	for _, inst := range instances {
		r -= weight(inst)
		if r < 0 {
			return inst, nil
		}
	}
	return instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
