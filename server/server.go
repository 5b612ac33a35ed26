// Package server implements the partner-facing RPC server: it accepts connections,
// learns each partner's id from the handshake, and serves that partner's requests
// under the fault-injection mode configured for it.
//
// Per connection (one goroutine each, nothing shared but the partner registry):
//
//	Accept → handshake (PartnerID) → registry.Attach
//	  → loop: read request → snapshot mode → policy decides
//	      DropBeforeProcessing: close, nothing invoked, nothing sent
//	      otherwise: Interceptor.Pre → Invoker.Dispatch → Interceptor.Post
//	      DropBeforeReply: close, response discarded
//	      Deliver: write response
//	  → on close: registry.Detach (mode kept for a later reconnect)
package server

import (
	"context"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"fault-rpc/discovery"
	"fault-rpc/interceptor"
	"fault-rpc/invoker"
	"fault-rpc/message"
	"fault-rpc/partner"
	"fault-rpc/protocol"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("server: closed")
	// ErrHandshakeFailed is the cause logged for connections whose first document
	// is not a valid handshake.
	ErrHandshakeFailed = protocol.ErrHandshakeFailed
)

// Server serves one invoker target to any number of partners.
type Server struct {
	invoker      *invoker.Invoker
	target       string
	selfID       string
	partners     *partner.Registry
	policy       *partner.Policy
	interceptors interceptor.Chain
	logger       *zap.Logger
	metrics      *serverMetrics
	metricsReg   prometheus.Registerer

	handshakeTimeout time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration

	discovery     discovery.Registry
	advertiseAddr string
	leaseTTL      int64

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{} // closed once listening, or once it is known the server never will
	readyOne sync.Once
	conns    map[net.Conn]struct{} // accepted, including those still in the handshake
	wg       sync.WaitGroup        // one per live connection goroutine
	shutdown atomic.Bool
}

// NewServer creates a server dispatching to inv. It fails if the target to serve is
// ambiguous or unknown, or if metrics cannot be registered.
func NewServer(inv *invoker.Invoker, opts ...Option) (*Server, error) {
	s := &Server{
		invoker:          inv,
		logger:           zap.NewNop(),
		policy:           partner.NewPolicy(),
		metrics:          newServerMetrics(),
		handshakeTimeout: 10 * time.Second,
		leaseTTL:         10,
		ready:            make(chan struct{}),
		conns:            make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.partners == nil {
		s.partners = partner.NewRegistry()
	}

	targets := inv.Targets()
	if s.target == "" {
		if len(targets) != 1 {
			return nil, errors.Errorf("server: %d targets registered, choose one with WithTarget", len(targets))
		}
		s.target = targets[0]
	}
	if !slices.Contains(targets, s.target) {
		return nil, errors.Errorf("server: target %q is not registered", s.target)
	}

	if s.metricsReg != nil {
		if err := s.metrics.register(s.metricsReg); err != nil {
			return nil, errors.Wrap(err, "server: register metrics")
		}
	}
	return s, nil
}

// Use appends an interceptor. Interceptors must be added before Serve.
func (s *Server) Use(ic interceptor.Interceptor) {
	s.interceptors = append(s.interceptors, ic)
}

// Partners exposes the partner registry, e.g. for administrative listings.
func (s *Server) Partners() *partner.Registry {
	return s.partners
}

// SetServiceMode changes how subsequent requests from partnerID are delivered,
// registering the partner in RELIABLE state first if it was never seen. Requests
// already read keep the mode they were admitted under.
func (s *Server) SetServiceMode(partnerID string, mode partner.ServiceMode) error {
	if err := s.partners.SetMode(partnerID, mode); err != nil {
		return err
	}
	s.logger.Info("service mode changed", zap.String("partner", partnerID), zap.Stringer("mode", mode))
	return nil
}

// Serve listens on address and serves until Shutdown.
func (s *Server) Serve(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		s.markReady()
		return errors.Wrapf(err, "server: listen on %s", address)
	}
	return s.ServeListener(l)
}

// Addr blocks until the server is listening and returns the listener address. It
// returns nil if listening failed or the server was shut down before it started.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) markReady() {
	s.readyOne.Do(func() { close(s.ready) })
}

// ServeListener runs the accept loop on l: one goroutine per connection. A failing
// connection never stops the loop. It returns ErrServerClosed after Shutdown.
func (s *Server) ServeListener(l net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server: already serving")
	}
	if s.shutdown.Load() {
		s.mu.Unlock()
		l.Close()
		s.markReady()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()
	s.markReady()

	if s.discovery != nil && s.selfID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.discovery.Register(ctx, s.selfID, discovery.Instance{Addr: s.advertiseAddr, Weight: 10}, s.leaseTTL)
		cancel()
		if err != nil {
			s.logger.Warn("advertise failed", zap.String("addr", s.advertiseAddr), zap.Error(err))
		}
	}

	s.logger.Info("serving", zap.String("addr", l.Addr().String()), zap.String("target", s.target))
	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return errors.Wrap(err, "server: accept")
		}
		tempDelay = 0

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// handleConn drives one connection from AwaitingHandshake through Active to Closed.
func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	log := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	stream := protocol.NewConn(conn)

	// AwaitingHandshake
	if s.handshakeTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	}
	id, err := stream.ReadHandshake()
	if err != nil {
		s.metrics.handshakes.WithLabelValues("failed").Inc()
		log.Warn("handshake failed", zap.Error(err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	previous := s.partners.Attach(id, conn)
	defer s.partners.Detach(id, conn)
	if previous != nil {
		// A partner has one live connection; the new one supersedes a stale predecessor.
		previous.Close()
	}
	if e, _ := s.partners.Lookup(id); e.Connects > 1 {
		s.metrics.handshakes.WithLabelValues("reconnect").Inc()
	} else {
		s.metrics.handshakes.WithLabelValues("new").Inc()
	}

	log = log.With(zap.String("partner", id))
	if err := s.write(conn, func() error { return stream.WriteHandshake(s.selfID) }); err != nil {
		log.Info("handshake ack failed", zap.Error(err))
		return
	}
	log.Info("partner connected")

	// Active
	s.metrics.connections.Inc()
	defer s.metrics.connections.Dec()
	ctx := partner.WithID(context.Background(), id)
	for {
		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		req, err := stream.ReadRequest()
		if err != nil {
			if s.shutdown.Load() {
				log.Debug("connection closed by shutdown")
			} else {
				log.Info("connection closed", zap.Error(err))
			}
			return
		}

		// The mode in force when the request was read decides its fate, even if it
		// changes while the request is being processed.
		mode := s.partners.Mode(id)
		behavior := s.policy.Decide(mode)
		s.metrics.delivered(behavior)

		if behavior == partner.DropBeforeProcessing {
			log.Info("dropping request before processing",
				zap.String("method", req.Method), zap.Stringer("id", req.ID), zap.Stringer("mode", mode))
			return
		}

		resp := s.serve(ctx, req)

		if behavior == partner.DropBeforeReply {
			log.Info("dropping reply",
				zap.String("method", req.Method), zap.Stringer("id", req.ID), zap.Stringer("mode", mode))
			return
		}

		if err := s.write(conn, func() error { return stream.WriteResponse(resp) }); err != nil {
			log.Info("write failed", zap.Error(err))
			return
		}
	}
}

// serve runs the interceptor chain around the invoker for one request. A panicking
// interceptor fails only this request.
func (s *Server) serve(ctx context.Context, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("interceptor panicked", zap.String("method", req.Method), zap.Any("panic", r))
			resp = message.NewErrorResponse(req.ID, message.KindInvocationFailed, "%s: interceptor panicked: %v", req.Method, r)
		}
	}()
	return s.interceptors.Handle(ctx, req, func(ctx context.Context, req *message.Request) *message.Response {
		return s.invoker.Dispatch(ctx, s.target, req)
	})
}

func (s *Server) write(conn net.Conn, fn func() error) error {
	if s.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	return fn()
}

// Shutdown stops the server:
//  1. withdraw the discovery advertisement so partners stop dialing this instance
//  2. close the listener and every open connection
//  3. wait for connection goroutines to finish, up to timeout
//
// Partner entries and their modes survive; only live connections are dropped.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.discovery != nil && s.selfID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.discovery.Deregister(ctx, s.selfID, s.advertiseAddr); err != nil {
			s.logger.Warn("withdraw advertisement failed", zap.Error(err))
		}
		cancel()
	}

	// Set the flag before closing, or the Accept error would look like a real failure.
	s.mu.Lock()
	s.shutdown.Store(true)
	s.markReady()
	l := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	n := s.partners.CloseAll()
	s.logger.Info("shutting down", zap.Int("partners", n), zap.Int("connections", len(conns)))
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("server: timeout waiting for %d connection(s) to close", len(conns))
	}
}
