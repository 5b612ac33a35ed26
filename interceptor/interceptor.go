// Package interceptor provides pre/post hooks around request dispatch.
//
// Pre hooks run in registration order and may short-circuit the call by returning a
// Response (admission control, synthetic replies). The first non-nil Response wins:
// later Pre hooks and the invoker are skipped. Post hooks always run, in registration
// order, once a response exists, and can only observe it.
package interceptor

import (
	"context"

	"fault-rpc/message"
)

type Interceptor interface {
	// Pre returns a response to short-circuit the call, or nil to continue.
	Pre(ctx context.Context, req *message.Request) *message.Response
	// Post observes the response that is about to be handed to delivery.
	Post(ctx context.Context, req *message.Request, resp *message.Response)
}

// Funcs adapts plain functions to an Interceptor. Either field may be nil.
type Funcs struct {
	PreFunc  func(ctx context.Context, req *message.Request) *message.Response
	PostFunc func(ctx context.Context, req *message.Request, resp *message.Response)
}

func (f Funcs) Pre(ctx context.Context, req *message.Request) *message.Response {
	if f.PreFunc == nil {
		return nil
	}
	return f.PreFunc(ctx, req)
}

func (f Funcs) Post(ctx context.Context, req *message.Request, resp *message.Response) {
	if f.PostFunc != nil {
		f.PostFunc(ctx, req, resp)
	}
}

// HandlerFunc produces the response when no Pre hook short-circuits.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Chain is an ordered list of interceptors.
type Chain []Interceptor

// Pre runs Pre hooks in order and returns the first short-circuit response.
func (c Chain) Pre(ctx context.Context, req *message.Request) *message.Response {
	for _, ic := range c {
		if resp := ic.Pre(ctx, req); resp != nil {
			return resp
		}
	}
	return nil
}

// Post runs every Post hook in order.
func (c Chain) Post(ctx context.Context, req *message.Request, resp *message.Response) {
	for _, ic := range c {
		ic.Post(ctx, req, resp)
	}
}

// Handle runs the whole chain around next. A short-circuit response always carries
// the request's id, whatever the interceptor put there.
func (c Chain) Handle(ctx context.Context, req *message.Request, next HandlerFunc) *message.Response {
	resp := c.Pre(ctx, req)
	if resp != nil {
		resp.ID = req.ID
	} else {
		resp = next(ctx, req)
	}
	c.Post(ctx, req, resp)
	return resp
}
