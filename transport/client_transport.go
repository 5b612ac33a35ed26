// Package transport implements the outbound side of a partner connection.
//
// A Conn dials another partner's server, announces its own PartnerID in the handshake,
// and then multiplexes calls over the single stream. Each request carries a fresh
// integer id; a background goroutine (recvLoop) reads responses and routes each one to
// the caller waiting on that id.
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ one TCP conn ──→ partner server
//	goroutine-3 ──Send(id=3)──┘
//
//	recvLoop: ←── {"result":..,"id":2} → pending["2"] → goroutine-2 wakes up
//
// When the stream breaks (including a server closing it on purpose to simulate a
// fault) every pending caller receives a TransportError response.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"fault-rpc/message"
	"fault-rpc/protocol"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned by Send after the connection has gone down. Every error a
// dead connection reports is a TransportError, so errors.Is(err, ErrClosed) holds for all of them.
var ErrClosed = &message.Error{Kind: message.KindTransportError, Message: "connection closed"}

type Conn struct {
	conn      net.Conn
	stream    *protocol.Conn
	partnerID string
	logger    *zap.Logger

	seq     atomic.Uint64
	mu      sync.Mutex // guards pending and err
	pending map[string]chan *message.Response
	err     error
	done    chan struct{}
}

// Option configures a Conn.
type Option func(*Conn)

func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// Dial connects to addr and performs the handshake as partnerID.
func Dial(ctx context.Context, addr, partnerID string, opts ...Option) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &message.Error{Kind: message.KindTransportError, Message: err.Error()}
	}
	c, err := NewConn(ctx, nc, partnerID, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// NewConn performs the handshake on an established connection and starts the
// receive loop. The handshake honours ctx's deadline.
func NewConn(ctx context.Context, nc net.Conn, partnerID string, opts ...Option) (*Conn, error) {
	c := &Conn{
		conn:      nc,
		stream:    protocol.NewConn(nc),
		partnerID: partnerID,
		logger:    zap.NewNop(),
		pending:   make(map[string]chan *message.Response),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if deadline, ok := ctx.Deadline(); ok {
		nc.SetDeadline(deadline)
	}
	if err := c.stream.WriteHandshake(partnerID); err != nil {
		return nil, &message.Error{Kind: message.KindTransportError, Message: errors.Wrap(err, "send handshake").Error()}
	}
	// The acknowledgement content is not interpreted; a missing one means the
	// server rejected the handshake and hung up.
	if err := c.stream.ReadAck(); err != nil {
		return nil, &message.Error{Kind: message.KindHandshakeFailed, Message: errors.Wrap(err, "read handshake ack").Error()}
	}
	nc.SetDeadline(time.Time{})

	go c.recvLoop()
	return c, nil
}

// PartnerID is the id this side announced in the handshake.
func (c *Conn) PartnerID() string {
	return c.partnerID
}

// Send writes a request and returns its id and a channel that receives exactly one
// response: the server's reply, or a TransportError if the connection drops first.
func (c *Conn) Send(method string, params ...message.Parameter) (message.Parameter, <-chan *message.Response, error) {
	id := message.MustParameter(c.seq.Add(1))
	req := &message.Request{Method: method, Params: params, ID: id}
	if req.Params == nil {
		req.Params = []message.Parameter{}
	}

	// Register before writing so recvLoop can never see a response for an unknown id.
	ch := make(chan *message.Response, 1)
	key := id.Key()
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return id, nil, err
	}
	c.pending[key] = ch
	c.mu.Unlock()

	if err := c.stream.WriteRequest(req); err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		c.fail(err)
		return id, nil, &message.Error{Kind: message.KindTransportError, Message: err.Error()}
	}
	return id, ch, nil
}

// Call sends a request and waits for its response or for ctx to end. Arguments are
// encoded with message.NewParameter.
func (c *Conn) Call(ctx context.Context, method string, args ...any) (*message.Response, error) {
	params := make([]message.Parameter, 0, len(args))
	for _, a := range args {
		p, err := message.NewParameter(a)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}

	id, ch, err := c.Send(method, params...)
	if err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		if resp.IsError() && resp.Error.Kind == message.KindTransportError {
			return nil, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id.Key())
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Done is closed once the connection is down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection went down, or nil while it is up.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.fail(ErrClosed)
	return nil
}

// recvLoop is the only reader of the stream; a stream can only be parsed sequentially.
func (c *Conn) recvLoop() {
	for {
		resp, err := c.stream.ReadResponse()
		if err != nil {
			c.fail(err)
			return
		}

		key := resp.ID.Key()
		c.mu.Lock()
		ch, ok := c.pending[key]
		delete(c.pending, key)
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("response for unknown request", zap.String("id", key))
			continue
		}
		ch <- resp
	}
}

// fail closes the connection once and notifies every pending caller so nobody
// blocks forever waiting for a response that will not come.
func (c *Conn) fail(cause error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	if cause == ErrClosed {
		c.err = ErrClosed
	} else {
		c.err = &message.Error{Kind: message.KindTransportError, Message: cause.Error()}
	}
	pending := c.pending
	c.pending = make(map[string]chan *message.Response)
	c.mu.Unlock()

	c.conn.Close()
	close(c.done)
	if cause != ErrClosed {
		c.logger.Debug("connection down", zap.String("partner", c.partnerID), zap.Error(cause))
	}

	for key, ch := range pending {
		id, _ := message.ParameterFromRaw([]byte(key))
		ch <- &message.Response{
			Error: &message.Error{Kind: message.KindTransportError, Message: "connection lost before a response arrived"},
			ID:    id,
		}
	}
}
