// Package invoker maps method names to explicitly registered callables and performs
// type-checked argument marshalling around each call.
//
// Targets are registered once, through a Builder, before the server starts:
//
//	inv, err := invoker.NewBuilder().
//		Register("calc",
//			invoker.Method{Name: "add", Params: []invoker.Type{invoker.Int, invoker.Int}, Result: invoker.Int,
//				Call: func(ctx context.Context, args invoker.Args) (any, error) {
//					return args.Int(0) + args.Int(1), nil
//				}},
//		).
//		Build()
//
// Concurrency contract: Dispatch calls straight into the registered callables with no
// locking of its own. Two partners calling the same target at the same time run
// concurrently. Targets that share state must synchronize it themselves; the
// framework deliberately leaves that to them.
package invoker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fault-rpc/message"

	"github.com/pkg/errors"
)

// CallFunc is the callable behind a method. args holds one decoded value per declared
// parameter, in order. A returned error becomes an InvocationFailed response.
type CallFunc func(ctx context.Context, args Args) (any, error)

// Method describes one remotely callable method.
type Method struct {
	Name   string
	Params []Type
	Result Type
	Call   CallFunc
}

// Signature renders the method as "name(type, ...) result".
func (m *Method) Signature() string {
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name()
	}
	result := "void"
	if m.Result != nil {
		result = m.Result.Name()
	}
	return fmt.Sprintf("%s(%s) %s", m.Name, strings.Join(names, ", "), result)
}

type target struct {
	id      string
	methods map[string]*Method
}

// Invoker is the immutable dispatch table produced by a Builder.
type Invoker struct {
	targets map[string]*target
}

// Builder collects targets and validates them in Build. Registration errors are
// accumulated and reported together.
type Builder struct {
	targets map[string]*target
	errs    []string
}

func NewBuilder() *Builder {
	return &Builder{targets: make(map[string]*target)}
}

// Register adds a target and its remotely callable methods. Registering more methods
// under an already known target id extends it.
func (b *Builder) Register(targetID string, methods ...Method) *Builder {
	if targetID == "" {
		b.errs = append(b.errs, "empty target id")
		return b
	}
	t, ok := b.targets[targetID]
	if !ok {
		t = &target{id: targetID, methods: make(map[string]*Method)}
		b.targets[targetID] = t
	}
	for i := range methods {
		m := methods[i]
		switch {
		case m.Name == "":
			b.errs = append(b.errs, fmt.Sprintf("%s: method without a name", targetID))
			continue
		case m.Call == nil:
			b.errs = append(b.errs, fmt.Sprintf("%s.%s: nil callable", targetID, m.Name))
			continue
		}
		if _, dup := t.methods[m.Name]; dup {
			b.errs = append(b.errs, fmt.Sprintf("%s.%s: registered twice", targetID, m.Name))
			continue
		}
		if m.Result == nil {
			m.Result = Void
		}
		for _, p := range m.Params {
			if p == nil || p == Void {
				b.errs = append(b.errs, fmt.Sprintf("%s.%s: invalid parameter type", targetID, m.Name))
			}
		}
		t.methods[m.Name] = &m
	}
	return b
}

// Build freezes the registered targets. The returned Invoker never changes.
func (b *Builder) Build() (*Invoker, error) {
	if len(b.errs) > 0 {
		return nil, errors.Errorf("invoker: %s", strings.Join(b.errs, "; "))
	}
	inv := &Invoker{targets: make(map[string]*target, len(b.targets))}
	for id, t := range b.targets {
		inv.targets[id] = t
	}
	b.targets = make(map[string]*target)
	return inv, nil
}

// Targets lists registered target ids in sorted order.
func (inv *Invoker) Targets() []string {
	ids := make([]string, 0, len(inv.targets))
	for id := range inv.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Methods lists the method names of a target in sorted order.
func (inv *Invoker) Methods(targetID string) []string {
	t, ok := inv.targets[targetID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(t.methods))
	for name := range t.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe lists the signatures of a target's methods in sorted order.
func (inv *Invoker) Describe(targetID string) []string {
	t, ok := inv.targets[targetID]
	if !ok {
		return nil
	}
	sigs := make([]string, 0, len(t.methods))
	for _, m := range t.methods {
		sigs = append(sigs, m.Signature())
	}
	sort.Strings(sigs)
	return sigs
}

// Dispatch resolves req.Method on the given target, checks and decodes the
// parameters, calls the method and wraps its result. Every failure comes back as an
// error Response; Dispatch never panics because of a request or a target.
func (inv *Invoker) Dispatch(ctx context.Context, targetID string, req *message.Request) *message.Response {
	t, ok := inv.targets[targetID]
	if !ok {
		return message.NewErrorResponse(req.ID, message.KindMethodNotFound, "no target %q", targetID)
	}
	m, ok := t.methods[req.Method]
	if !ok {
		return message.NewErrorResponse(req.ID, message.KindMethodNotFound, "method %q not found", req.Method)
	}

	if len(req.Params) != len(m.Params) {
		return message.NewErrorResponse(req.ID, message.KindBadParameters,
			"expected %s, got %d parameter(s)", m.Signature(), len(req.Params))
	}
	args := make(Args, len(m.Params))
	for i, typ := range m.Params {
		v, err := typ.Decode(req.Params[i])
		if err != nil {
			return message.NewErrorResponse(req.ID, message.KindBadParameters,
				"expected %s: parameter %d: %v", m.Signature(), i, err)
		}
		args[i] = v
	}

	result, err := call(ctx, m, args)
	if err != nil {
		return message.NewErrorResponse(req.ID, message.KindInvocationFailed, "%s", err.Error())
	}

	p, err := m.Result.Encode(result)
	if err != nil {
		return message.ErrorResponse(req.ID, err)
	}
	return message.NewResult(req.ID, p)
}

// call invokes m, turning a panic in the target into an error.
func call(ctx context.Context, m *Method, args Args) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%s panicked: %v", m.Name, r)
		}
	}()
	return m.Call(ctx, args)
}
