package discovery

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry for tests and single-host setups.
// TTLs are ignored: entries live until deregistered.
type MemoryRegistry struct {
	mu        sync.RWMutex
	instances map[string]map[string]Instance // partnerID -> addr -> instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{instances: make(map[string]map[string]Instance)}
}

func (m *MemoryRegistry) Register(_ context.Context, partnerID string, inst Instance, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAddr, ok := m.instances[partnerID]
	if !ok {
		byAddr = make(map[string]Instance)
		m.instances[partnerID] = byAddr
	}
	byAddr[inst.Addr] = inst
	return nil
}

func (m *MemoryRegistry) Deregister(_ context.Context, partnerID, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances[partnerID], addr)
	return nil
}

// Discover returns the instances ordered by address.
func (m *MemoryRegistry) Discover(_ context.Context, partnerID string) ([]Instance, error) {
	m.mu.RLock()
	out := make([]Instance, 0, len(m.instances[partnerID]))
	for _, inst := range m.instances[partnerID] {
		out = append(out, inst)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out, nil
}
