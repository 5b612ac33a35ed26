package discovery

import (
	"context"
	"sync"
	"time"

	"fault-rpc/codec"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Prefix is the etcd key space used by EtcdRegistry:
//
//	Key:   /fault-rpc/{PartnerID}/{Addr}
//	Value: JSON-encoded Instance
//
// Keys are bound to a lease, so a crashed server's entry disappears after its TTL
// instead of lingering as a ghost instance.
const Prefix = "/fault-rpc/"

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // shared, safe for concurrent use
	codec  codec.Codec      // instance values

	mu     sync.Mutex
	leases map[string]lease // by key
}

// NewEtcdRegistry connects to the given etcd endpoints. Connecting is lazy: an
// unreachable cluster surfaces as an error from the first operation.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "discovery: connect to etcd")
	}
	return &EtcdRegistry{client: c, codec: codec.Default, leases: make(map[string]lease)}, nil
}

func key(partnerID, addr string) string {
	return Prefix + partnerID + "/" + addr
}

// Register grants a ttl lease, puts the instance under it and keeps the lease alive
// in the background until Deregister or Close. ctx bounds the registration only.
func (r *EtcdRegistry) Register(ctx context.Context, partnerID string, inst Instance, ttl int64) error {
	grant, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "discovery: grant lease")
	}
	val, err := r.codec.Encode(inst)
	if err != nil {
		return err
	}
	k := key(partnerID, inst.Addr)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(grant.ID)); err != nil {
		return errors.Wrapf(err, "discovery: put %s", k)
	}

	// The renewal outlives ctx, so it gets its own.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "discovery: keep lease alive")
	}
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	old, had := r.leases[k]
	r.leases[k] = lease{id: grant.ID, cancel: cancel}
	r.mu.Unlock()
	if had {
		old.cancel()
	}
	return nil
}

// Deregister deletes the instance and stops renewing its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, partnerID, addr string) error {
	k := key(partnerID, addr)
	r.mu.Lock()
	l, ok := r.leases[k]
	delete(r.leases, k)
	r.mu.Unlock()

	if ok {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err != nil {
			return errors.Wrapf(err, "discovery: revoke lease of %s", k)
		}
		return nil
	}
	if _, err := r.client.Delete(ctx, k); err != nil {
		return errors.Wrapf(err, "discovery: delete %s", k)
	}
	return nil
}

// Discover lists the instances currently advertised under partnerID.
func (r *EtcdRegistry) Discover(ctx context.Context, partnerID string) ([]Instance, error) {
	prefix := Prefix + partnerID + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "discovery: get %s", prefix)
	}
	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := r.codec.Decode(kv.Value, &inst); err != nil {
			continue // not ours
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Close stops all lease renewals and closes the etcd client. Entries expire after
// their TTL.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for k, l := range r.leases {
		l.cancel()
		delete(r.leases, k)
	}
	r.mu.Unlock()
	return r.client.Close()
}
