package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"fault-rpc/discovery"
)

var testInstances = []discovery.Instance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	for i := 0; i < 6; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		if want := testInstances[i%3].Addr; inst.Addr != want {
			t.Fatalf("pick %d = %s, want %s", i, inst.Addr, want)
		}
	}
}

func TestEmpty(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		b, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.Pick("alice", nil); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: err = %v", b.Name(), err)
		}
	}
	if _, err := New("fastest"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	if _, err := b.Pick("", []discovery.Instance{{Addr: ":9000"}}); err != nil {
		t.Fatal(err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	inst1, _ := b.Pick("alice", testInstances)
	inst2, _ := b.Pick("alice", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Order of the discovered list must not matter.
	reversed := []discovery.Instance{testInstances[2], testInstances[1], testInstances[0]}
	if inst3, _ := b.Pick("alice", reversed); inst3.Addr != inst1.Addr {
		t.Fatalf("reordered list moved alice from %s to %s", inst1.Addr, inst3.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	before := map[string]string{}
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		inst, _ := b.Pick(key, testInstances)
		before[key] = inst.Addr
	}

	// Drop :8002; only its keys may move.
	remaining := []discovery.Instance{testInstances[0], testInstances[2]}
	for key, addr := range before {
		inst, err := b.Pick(key, remaining)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr == ":8002" {
			t.Fatalf("%s still mapped to a removed instance", key)
		}
		if addr != ":8002" && inst.Addr != addr {
			t.Fatalf("%s moved from %s to %s", key, addr, inst.Addr)
		}
	}
}
