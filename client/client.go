// Package client calls a remote partner's server as a named partner.
//
// A Client keeps one outbound connection per remote partner and announces the same
// PartnerID on every connection it opens, so the remote side keeps applying the
// service mode it configured for this partner across reconnects. When the remote
// side drops the connection (a real failure, or a simulated one), the next call
// redials with exponential backoff.
package client

import (
	"context"
	"sync"
	"time"

	"fault-rpc/message"
	"fault-rpc/transport"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrClientClosed = errors.New("client: closed")

type Client struct {
	selfID     string
	resolver   Resolver
	logger     *zap.Logger
	retries    int
	newBackOff func() backoff.BackOff
	dialTO     time.Duration

	mu      sync.Mutex // guards the fields below; never held while dialing
	conn    *transport.Conn
	dialing chan struct{} // closed when the dial in flight finishes
	closed  bool
	stop    chan struct{} // closed by Close
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetries resends a call up to n more times when the connection drops before its
// response arrives. The remote target may then run the call more than once.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithBackOff replaces the redial policy. f is called once per (re)dial.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// WithDialTimeout bounds each dial attempt, handshake included.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTO = d }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// New creates a client that calls the partner found by resolver, announcing selfID.
// No connection is made until the first call.
func New(selfID string, resolver Resolver, opts ...Option) *Client {
	c := &Client{
		selfID:     selfID,
		resolver:   resolver,
		logger:     zap.NewNop(),
		newBackOff: defaultBackOff,
		dialTO:     5 * time.Second,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes method on the remote partner. Recoverable failures (unknown method,
// bad parameters, ...) come back as an error Response; the returned error is set only
// when no response was obtained: the connection dropped on every attempt, the
// partner could not be reached, or ctx ended.
func (c *Client) Call(ctx context.Context, method string, args ...any) (*message.Response, error) {
	for attempt := 0; ; attempt++ {
		conn, err := c.connection(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := conn.Call(ctx, method, args...)
		if err == nil {
			return resp, nil
		}
		if message.KindOf(err) != message.KindTransportError || attempt >= c.retries {
			return nil, err
		}
		c.logger.Info("connection lost, resending",
			zap.String("method", method), zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

// CallInto calls method and decodes its result into result. An error response is
// returned as its *message.Error.
func (c *Client) CallInto(ctx context.Context, result any, method string, args ...any) error {
	resp, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	return resp.Value().Decode(result)
}

// connection returns the live connection, dialing a new one if there is none or the
// previous one went down. Concurrent callers share a single dial.
func (c *Client) connection(ctx context.Context) (*transport.Conn, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClientClosed
		}
		if c.conn != nil {
			select {
			case <-c.conn.Done():
			default:
				conn := c.conn
				c.mu.Unlock()
				return conn, nil
			}
		}
		if wait := c.dialing; wait != nil {
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.dialing = done
		c.mu.Unlock()

		conn, err := c.dial(ctx)

		c.mu.Lock()
		c.dialing = nil
		close(done)
		if c.closed {
			c.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return nil, ErrClientClosed
		}
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.conn = conn
		c.mu.Unlock()
		c.logger.Debug("connected", zap.String("partner", c.selfID))
		return conn, nil
	}
}

// dial resolves and connects with backoff. It gives up when ctx ends or the client
// is closed.
func (c *Client) dial(ctx context.Context) (*transport.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var conn *transport.Conn
	attempt := func() error {
		select {
		case <-c.stop:
			return backoff.Permanent(ErrClientClosed)
		default:
		}
		addr, err := c.resolver.Resolve(ctx, c.selfID)
		if err != nil {
			return err
		}
		dctx, dcancel := context.WithTimeout(ctx, c.dialTO)
		defer dcancel()
		conn, err = transport.Dial(dctx, addr, c.selfID, transport.WithLogger(c.logger))
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Info("dial failed, backing off", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(attempt, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		select {
		case <-c.stop:
			return nil, ErrClientClosed
		default:
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrap(err, "client: dial")
	}
	return conn, nil
}

// Close drops the connection. Calls after Close fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stop)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
