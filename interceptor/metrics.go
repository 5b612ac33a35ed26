package interceptor

import (
	"context"

	"fault-rpc/message"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	known    map[string]bool
}

// Metrics counts served requests by method and outcome ("ok" or the error kind).
// Method names are caller-supplied, so any name outside methods is counted as
// "unknown". The collector is registered with reg; registering twice on the same
// registerer fails.
func Metrics(reg prometheus.Registerer, methods []string) (Interceptor, error) {
	known := make(map[string]bool, len(methods))
	for _, name := range methods {
		known[name] = true
	}
	m := &metrics{
		known: known,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "faultrpc",
			Name:      "requests_total",
			Help:      "Requests that produced a response, by method and outcome.",
		}, []string{"method", "outcome"}),
	}
	if err := reg.Register(m.requests); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) Pre(context.Context, *message.Request) *message.Response { return nil }

func (m *metrics) Post(ctx context.Context, req *message.Request, resp *message.Response) {
	method, outcome := req.Method, "ok"
	if !m.known[method] {
		method = "unknown"
	}
	if resp.IsError() {
		outcome = string(resp.Error.Kind)
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}
