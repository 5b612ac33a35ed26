package main

import (
	"context"

	"fault-rpc/invoker"
	"fault-rpc/partner"
)

// demoMethods is a small target for trying out service modes from any partner.
func demoMethods() []invoker.Method {
	return []invoker.Method{
		{
			Name:   "sayHello",
			Params: []invoker.Type{invoker.String},
			Result: invoker.String,
			Call: func(ctx context.Context, args invoker.Args) (any, error) {
				caller, _ := partner.IDFromContext(ctx)
				return "Hello " + args.String(0) + ", you are " + caller, nil
			},
		},
		{
			Name:   "echo",
			Params: []invoker.Type{invoker.Any},
			Result: invoker.Any,
			Call: func(ctx context.Context, args invoker.Args) (any, error) {
				return args.Parameter(0), nil
			},
		},
	}
}
