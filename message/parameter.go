package message

import (
	"bytes"
	"fmt"

	"fault-rpc/codec"
)

// Kind is the runtime type tag of a Parameter, derived from its encoded payload.
type Kind byte

const (
	KindNull       Kind = iota // null or absent
	KindString                 // JSON string, also used for enum-like values
	KindNumber                 // JSON number, integer or floating point
	KindBool                   // true / false
	KindStructured             // object or array: composite and user types
)

var kindNames = [...]string{"null", "string", "number", "bool", "structured"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Parameter is a type-tagged value used for call arguments, call results and
// correlation ids. It holds the encoded payload and defers decoding until the
// reader knows which type it wants, so the same value can be read back as
// different types across hops.
//
// A Parameter is immutable once constructed; the zero value is null.
type Parameter struct {
	kind Kind
	raw  []byte
}

var nullRaw = []byte("null")

// NewParameter encodes v into a Parameter.
func NewParameter(v any) (Parameter, error) {
	if p, ok := v.(Parameter); ok {
		return p, nil
	}
	raw, err := codec.Marshal(v)
	if err != nil {
		return Parameter{}, &Error{Kind: KindTypeMismatch, Message: fmt.Sprintf("cannot encode %T: %v", v, err)}
	}
	return Parameter{kind: kindOf(raw), raw: raw}, nil
}

// MustParameter is like NewParameter but panics if v cannot be encoded.
func MustParameter(v any) Parameter {
	p, err := NewParameter(v)
	if err != nil {
		panic(err)
	}
	return p
}

// ParameterFromRaw wraps an already encoded JSON document.
func ParameterFromRaw(raw []byte) (Parameter, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Parameter{}, nil
	}
	if !codec.Valid(raw) {
		return Parameter{}, &Error{Kind: KindTypeMismatch, Message: "parameter is not a valid JSON value"}
	}
	return wrapRaw(raw), nil
}

func wrapRaw(raw []byte) Parameter {
	if len(raw) == 0 {
		return Parameter{}
	}
	return Parameter{kind: kindOf(raw), raw: append([]byte(nil), raw...)}
}

func kindOf(raw []byte) Kind {
	if len(raw) == 0 {
		return KindNull
	}
	switch raw[0] {
	case '"':
		return KindString
	case 't', 'f':
		return KindBool
	case '{', '[':
		return KindStructured
	case 'n':
		return KindNull
	default:
		return KindNumber
	}
}

func (p Parameter) Kind() Kind {
	return p.kind
}

func (p Parameter) IsNull() bool {
	return p.kind == KindNull
}

// Raw returns a copy of the encoded payload.
func (p Parameter) Raw() []byte {
	if len(p.raw) == 0 {
		return append([]byte(nil), nullRaw...)
	}
	return append([]byte(nil), p.raw...)
}

// Decode reads the payload into target, which must be a non-nil pointer.
// Decoding into an incompatible type yields a TypeMismatch error.
func (p Parameter) Decode(target any) error {
	raw := p.raw
	if len(raw) == 0 {
		raw = nullRaw
	}
	if err := codec.Unmarshal(raw, target); err != nil {
		return &Error{
			Kind:    KindTypeMismatch,
			Message: fmt.Sprintf("cannot decode %s value %s as %T: %v", p.kind, p.String(), target, err),
		}
	}
	return nil
}

// Key returns a canonical form of the payload, suitable as a map key for
// correlating responses with requests.
func (p Parameter) Key() string {
	if len(p.raw) == 0 {
		return "null"
	}
	return string(p.raw)
}

// Equal reports whether two parameters carry the same encoded payload.
func (p Parameter) Equal(o Parameter) bool {
	return p.Key() == o.Key()
}

func (p Parameter) String() string {
	return p.Key()
}

func (p Parameter) MarshalJSON() ([]byte, error) {
	return p.Raw(), nil
}

// UnmarshalJSON keeps the value as delimited by the decoder, which has already
// checked it is well formed.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	*p = wrapRaw(bytes.TrimSpace(data))
	return nil
}
