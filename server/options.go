package server

import (
	"time"

	"fault-rpc/discovery"
	"fault-rpc/interceptor"
	"fault-rpc/partner"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a Server.
type Option func(*Server)

// WithTarget selects the registered target that serves this server's requests.
// Defaults to the only target if exactly one is registered.
func WithTarget(targetID string) Option {
	return func(s *Server) { s.target = targetID }
}

// WithSelfID sets the PartnerID this server announces in handshake acknowledgements
// and under which it advertises itself in discovery.
func WithSelfID(id string) Option {
	return func(s *Server) { s.selfID = id }
}

// WithPartners shares a partner registry, e.g. with an administrative surface that
// was built before the server.
func WithPartners(r *partner.Registry) Option {
	return func(s *Server) { s.partners = r }
}

// WithInterceptors appends interceptors to the chain, in order. See also Server.Use.
func WithInterceptors(ics ...interceptor.Interceptor) Option {
	return func(s *Server) { s.interceptors = append(s.interceptors, ics...) }
}

func WithPolicy(p *partner.Policy) Option {
	return func(s *Server) { s.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTimeouts bounds the handshake, the wait for each request (0 = no idle limit)
// and each response write.
func WithTimeouts(handshake, read, write time.Duration) Option {
	return func(s *Server) {
		s.handshakeTimeout = handshake
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// WithDiscovery advertises the server under its self id at advertiseAddr while it serves.
// advertiseAddr differs from the listen address because ":8080" is not routable.
func WithDiscovery(reg discovery.Registry, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.discovery = reg
		s.advertiseAddr = advertiseAddr
		s.leaseTTL = ttl
	}
}

// WithMetrics registers the server's connection and delivery collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Server) { s.metricsReg = reg }
}
