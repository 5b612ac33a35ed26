package invoker

import (
	"fmt"
	"slices"
	"strings"

	"fault-rpc/message"
)

// Type is a declared parameter or return type. It decodes a wire Parameter into
// the Go value handed to a method, and encodes a method's result for the wire.
type Type interface {
	Name() string
	Decode(p message.Parameter) (any, error)
	Encode(v any) (message.Parameter, error)
}

var (
	String Type = scalar[string]{name: "string"}
	Int    Type = scalar[int]{name: "int"}
	Float  Type = scalar[float64]{name: "float"}
	Bool   Type = scalar[bool]{name: "bool"}

	// Any passes the Parameter through undecoded; the method decides how to read it.
	Any Type = anyType{}

	// Void is the result type of methods returning nothing. They reply with null.
	Void Type = voidType{}
)

func mismatch(format string, args ...any) error {
	return &message.Error{Kind: message.KindTypeMismatch, Message: fmt.Sprintf(format, args...)}
}

type scalar[T any] struct {
	name string
}

func (s scalar[T]) Name() string { return s.name }

func (s scalar[T]) Decode(p message.Parameter) (any, error) {
	if p.IsNull() {
		return nil, mismatch("null is not a %s", s.name)
	}
	var v T
	if err := p.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s scalar[T]) Encode(v any) (message.Parameter, error) {
	if _, ok := v.(T); !ok {
		return message.Parameter{}, mismatch("result %v (%T) is not a %s", v, v, s.name)
	}
	return message.NewParameter(v)
}

type anyType struct{}

func (anyType) Name() string { return "any" }

func (anyType) Decode(p message.Parameter) (any, error) { return p, nil }

func (anyType) Encode(v any) (message.Parameter, error) { return message.NewParameter(v) }

type voidType struct{}

func (voidType) Name() string { return "void" }

func (voidType) Decode(p message.Parameter) (any, error) {
	return nil, mismatch("void cannot be a parameter type")
}

func (voidType) Encode(v any) (message.Parameter, error) { return message.Parameter{}, nil }

type enumType struct {
	name   string
	values []string
}

// Enum declares an enum-like string type carried by name on the wire.
func Enum(name string, values ...string) Type {
	return enumType{name: name, values: slices.Clone(values)}
}

func (e enumType) Name() string { return e.name }

func (e enumType) Decode(p message.Parameter) (any, error) {
	var s string
	if p.Kind() != message.KindString {
		return nil, mismatch("%s expects a string, got %s", e.name, p.Kind())
	}
	if err := p.Decode(&s); err != nil {
		return nil, err
	}
	if !slices.Contains(e.values, s) {
		return nil, mismatch("%q is not a %s (one of %s)", s, e.name, strings.Join(e.values, ", "))
	}
	return s, nil
}

func (e enumType) Encode(v any) (message.Parameter, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case fmt.Stringer:
		s = x.String()
	default:
		return message.Parameter{}, mismatch("result %v (%T) is not a %s", v, v, e.name)
	}
	if !slices.Contains(e.values, s) {
		return message.Parameter{}, mismatch("%q is not a %s", s, e.name)
	}
	return message.NewParameter(s)
}

type structured[T any] struct {
	name string
}

// Structured declares a composite type decoded into T through the generic
// structured-value fallback. Methods receive a T value.
func Structured[T any](name string) Type {
	return structured[T]{name: name}
}

func (s structured[T]) Name() string { return s.name }

func (s structured[T]) Decode(p message.Parameter) (any, error) {
	if p.IsNull() {
		return nil, mismatch("null is not a %s", s.name)
	}
	var v T
	if err := p.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s structured[T]) Encode(v any) (message.Parameter, error) {
	switch x := v.(type) {
	case T:
		return message.NewParameter(x)
	case *T:
		return message.NewParameter(x)
	}
	return message.Parameter{}, mismatch("result %T is not a %s", v, s.name)
}
