package interceptor

import (
	"context"
	"testing"
	"time"

	"fault-rpc/message"
	"fault-rpc/partner"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.NewResult(req.ID, message.MustParameter("ok"))
}

func newRequest(method string, id int) *message.Request {
	req, _ := message.NewRequest(method, id)
	return req
}

// recorder appends its name to a shared trace on every hook.
func recorder(name string, trace *[]string, shortCircuit bool) Interceptor {
	return Funcs{
		PreFunc: func(ctx context.Context, req *message.Request) *message.Response {
			*trace = append(*trace, "pre:"+name)
			if shortCircuit {
				return message.NewErrorResponse(message.Parameter{}, message.KindRateLimited, "from %s", name)
			}
			return nil
		},
		PostFunc: func(ctx context.Context, req *message.Request, resp *message.Response) {
			*trace = append(*trace, "post:"+name)
		},
	}
}

func TestChainOrder(t *testing.T) {
	var trace []string
	called := false
	chain := Chain{recorder("a", &trace, false), recorder("b", &trace, false)}

	resp := chain.Handle(context.Background(), newRequest("add", 1), func(ctx context.Context, req *message.Request) *message.Response {
		called = true
		trace = append(trace, "handler")
		return echoHandler(ctx, req)
	})

	if !called || resp.IsError() {
		t.Fatalf("expect handler to run, got %+v", resp)
	}
	want := []string{"pre:a", "pre:b", "handler", "post:a", "post:b"}
	if len(trace) != len(want) {
		t.Fatalf("expect %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, trace)
		}
	}
}

func TestChainShortCircuit(t *testing.T) {
	var trace []string
	chain := Chain{recorder("a", &trace, false), recorder("b", &trace, true), recorder("c", &trace, true)}

	req := newRequest("add", 42)
	resp := chain.Handle(context.Background(), req, func(ctx context.Context, req *message.Request) *message.Response {
		t.Fatal("handler must not run after a short-circuit")
		return nil
	})

	if !resp.IsError() || resp.Error.Message != "from b" {
		t.Fatalf("expect the first short-circuit to win, got %+v", resp)
	}
	if !resp.ID.Equal(req.ID) {
		t.Fatalf("expect short-circuit response to echo id, got %s", resp.ID)
	}
	want := []string{"pre:a", "pre:b", "post:a", "post:b", "post:c"}
	if len(trace) != len(want) {
		t.Fatalf("expect %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, trace)
		}
	}
}

func TestEmptyChain(t *testing.T) {
	resp := Chain(nil).Handle(context.Background(), newRequest("add", 1), echoHandler)
	if resp.IsError() {
		t.Fatalf("unexpected error %v", resp.Error)
	}
}

func TestRateLimitPerPartner(t *testing.T) {
	// rate=1 per second, burst=2: the first two requests of a partner pass, the third is rejected.
	chain := Chain{RateLimit(1, 2, time.Minute)}
	alice := partner.WithID(context.Background(), "alice")
	bob := partner.WithID(context.Background(), "bob")

	for i := 0; i < 2; i++ {
		if resp := chain.Handle(alice, newRequest("add", i), echoHandler); resp.IsError() {
			t.Fatalf("request %d should pass, got %v", i, resp.Error)
		}
	}
	resp := chain.Handle(alice, newRequest("add", 3), echoHandler)
	if !resp.IsError() || resp.Error.Kind != message.KindRateLimited {
		t.Fatalf("request 3 should be rate limited, got %+v", resp)
	}

	// Another partner has its own bucket.
	if resp := chain.Handle(bob, newRequest("add", 4), echoHandler); resp.IsError() {
		t.Fatalf("bob should not be limited by alice's traffic, got %v", resp.Error)
	}
}

func TestRateLimitEvictsIdleBuckets(t *testing.T) {
	rl := RateLimit(1, 1, time.Second).(*rateLimit)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	rl.allow("idle")
	now = now.Add(time.Hour)
	for i := 0; i < 511; i++ {
		rl.allow("busy")
	}
	if _, ok := rl.buckets["idle"]; ok {
		t.Fatal("expect idle bucket to be evicted")
	}
}

func TestMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := Metrics(reg, []string{"add"})
	if err != nil {
		t.Fatal(err)
	}
	chain := Chain{m}

	chain.Handle(context.Background(), newRequest("add", 1), echoHandler)
	chain.Handle(context.Background(), newRequest("add", 2), echoHandler)
	chain.Handle(context.Background(), newRequest("nope", 3), func(ctx context.Context, req *message.Request) *message.Response {
		return message.NewErrorResponse(req.ID, message.KindMethodNotFound, "method %q not found", req.Method)
	})

	// Short-circuited before the invoker could reject the name.
	chain.Handle(context.Background(), newRequest("made-up-1", 4), func(ctx context.Context, req *message.Request) *message.Response {
		return message.NewErrorResponse(req.ID, message.KindRateLimited, "slow down")
	})
	chain.Handle(context.Background(), newRequest("made-up-2", 5), func(ctx context.Context, req *message.Request) *message.Response {
		return message.NewErrorResponse(req.ID, message.KindRateLimited, "slow down")
	})

	counter := m.(*metrics).requests
	if got := testutil.ToFloat64(counter.WithLabelValues("add", "ok")); got != 2 {
		t.Fatalf("expect 2 ok adds, got %v", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("unknown", "MethodNotFound")); got != 1 {
		t.Fatalf("expect 1 unknown method, got %v", got)
	}

	if got := testutil.ToFloat64(counter.WithLabelValues("unknown", "RateLimited")); got != 2 {
		t.Fatalf("expect unknown names bucketed, got %v", got)
	}
	if n := testutil.CollectAndCount(counter); n != 3 {
		t.Fatalf("expect 3 series, got %d", n)
	}

	if _, err := Metrics(reg, nil); err == nil {
		t.Fatal("expect duplicate registration to fail")
	}
}

func TestLoggingInterceptor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	chain := Chain{Logging(zap.New(core))}
	ctx := partner.WithID(context.Background(), "alice")

	chain.Handle(ctx, newRequest("add", 1), echoHandler)
	chain.Handle(ctx, newRequest("sub", 2), func(ctx context.Context, req *message.Request) *message.Response {
		return message.NewErrorResponse(req.ID, message.KindMethodNotFound, "method %q not found", req.Method)
	})

	if n := logs.FilterMessage("request").Len(); n != 2 {
		t.Fatalf("expect 2 request logs, got %d", n)
	}
	failed := logs.FilterMessage("request failed").AllUntimed()
	if len(failed) != 1 {
		t.Fatalf("expect 1 failure log, got %d", len(failed))
	}
	fields := failed[0].ContextMap()
	if fields["partner"] != "alice" || fields["kind"] != "MethodNotFound" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
