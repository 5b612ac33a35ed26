package message

import (
	"bytes"
	"testing"

	"fault-rpc/codec"

	"github.com/pkg/errors"
)

type betSlip struct {
	Match int     `json:"match"`
	Team  string  `json:"team"`
	Stake int     `json:"stake"`
	Odds  float64 `json:"odds"`
}

func TestParameterPrimitives(t *testing.T) {
	s := MustParameter("Alice")
	var str string
	if err := s.Decode(&str); err != nil || str != "Alice" {
		t.Fatalf("string: got %q, err %v", str, err)
	}
	if s.Kind() != KindString {
		t.Fatalf("expect string kind, got %s", s.Kind())
	}

	i := MustParameter(42)
	var n int
	if err := i.Decode(&n); err != nil || n != 42 {
		t.Fatalf("int: got %d, err %v", n, err)
	}

	f := MustParameter(1.5)
	var x float64
	if err := f.Decode(&x); err != nil || x != 1.5 {
		t.Fatalf("float: got %v, err %v", x, err)
	}

	b := MustParameter(true)
	var ok bool
	if err := b.Decode(&ok); err != nil || !ok {
		t.Fatalf("bool: got %v, err %v", ok, err)
	}
	if b.Kind() != KindBool {
		t.Fatalf("expect bool kind, got %s", b.Kind())
	}
}

func TestParameterStructured(t *testing.T) {
	in := betSlip{Match: 3, Team: "LUX", Stake: 20, Odds: 2.5}
	p := MustParameter(in)
	if p.Kind() != KindStructured {
		t.Fatalf("expect structured kind, got %s", p.Kind())
	}

	var out betSlip
	if err := p.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}

	// The same payload read back generically.
	var generic map[string]any
	if err := p.Decode(&generic); err != nil {
		t.Fatal(err)
	}
	if generic["team"] != "LUX" {
		t.Fatalf("generic decode lost field: %v", generic)
	}
}

func TestParameterRedecodeAsDifferentTypes(t *testing.T) {
	p := MustParameter(7)

	var asInt int
	var asFloat float64
	var asAny any
	if err := p.Decode(&asInt); err != nil {
		t.Fatal(err)
	}
	if err := p.Decode(&asFloat); err != nil {
		t.Fatal(err)
	}
	if err := p.Decode(&asAny); err != nil {
		t.Fatal(err)
	}
	if asInt != 7 || asFloat != 7 || asAny.(float64) != 7 {
		t.Fatalf("got %v %v %v", asInt, asFloat, asAny)
	}
}

func TestParameterTypeMismatch(t *testing.T) {
	cases := []struct {
		name   string
		p      Parameter
		target any
	}{
		{"string as int", MustParameter("five"), new(int)},
		{"float as int", MustParameter(2.5), new(int)},
		{"bool as string", MustParameter(true), new(string)},
		{"object as int", MustParameter(betSlip{}), new(int)},
	}
	for _, tc := range cases {
		err := tc.p.Decode(tc.target)
		if err == nil {
			t.Fatalf("%s: expect error", tc.name)
		}
		if KindOf(err) != KindTypeMismatch {
			t.Fatalf("%s: expect TypeMismatch, got %v", tc.name, err)
		}
	}
}

func TestRequestWireShape(t *testing.T) {
	req, err := NewRequest("add", 7, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	data, err := codec.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"method":"add","params":[2,3],"id":7}` {
		t.Fatalf("unexpected wire shape: %s", data)
	}

	var back Request
	if err := codec.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Method != "add" || len(back.Params) != 2 || !back.ID.Equal(req.ID) {
		t.Fatalf("decoded %+v", back)
	}
}

func TestNumericRequestOffStream(t *testing.T) {
	stream := bytes.NewBufferString(`{"method":"add","params":[2,3],"id":7}{"method":"add","params":[3.5,-1e3],"id":8}`)
	dec := codec.NewDecoder(stream)

	var first, second Request
	if err := dec.Decode(&first); err != nil {
		t.Fatal(err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatal(err)
	}
	var x, y int
	if err := first.Params[0].Decode(&x); err != nil {
		t.Fatal(err)
	}
	first.Params[1].Decode(&y)
	if x+y != 5 || first.ID.String() != "7" || first.ID.Kind() != KindNumber {
		t.Fatalf("first = %+v", first)
	}
	var f float64
	if err := second.Params[0].Decode(&f); err != nil || f != 3.5 {
		t.Fatalf("second param = %v, %v", f, err)
	}
}

func TestParameterFromRawNumbers(t *testing.T) {
	for _, raw := range []string{"7", "3.5", " -1e3 "} {
		p, err := ParameterFromRaw([]byte(raw))
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if p.Kind() != KindNumber {
			t.Fatalf("%q: kind %s", raw, p.Kind())
		}
	}
	if _, err := ParameterFromRaw([]byte("7 8")); KindOf(err) != KindTypeMismatch {
		t.Fatalf("expect TypeMismatch for two values, got %v", err)
	}
}

func TestResponseWireShape(t *testing.T) {
	ok := NewResult(MustParameter(7), MustParameter(5))
	data, _ := codec.Marshal(ok)
	if string(data) != `{"result":5,"id":7}` {
		t.Fatalf("unexpected success shape: %s", data)
	}

	failed := NewErrorResponse(MustParameter(8), KindMethodNotFound, "no method %q", "sub")
	data, _ = codec.Marshal(failed)
	if string(data) != `{"error":{"kind":"MethodNotFound","message":"no method \"sub\""},"id":8}` {
		t.Fatalf("unexpected error shape: %s", data)
	}

	var back Response
	if err := codec.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.IsError() || back.Error.Kind != KindMethodNotFound {
		t.Fatalf("decoded %+v", back)
	}
	if !errors.Is(back.Err(), &Error{Kind: KindMethodNotFound}) {
		t.Fatal("expect errors.Is to match on kind")
	}
}

func TestResponseValidate(t *testing.T) {
	id := MustParameter(1)
	if err := NewResult(id, Parameter{}).Validate(); err != nil {
		t.Fatalf("null result is a valid result: %v", err)
	}
	if err := (&Response{ID: id}).Validate(); err == nil {
		t.Fatal("expect error for empty response")
	}
	both := NewResult(id, MustParameter(1))
	both.Error = &Error{Kind: KindInvocationFailed}
	if err := both.Validate(); err == nil {
		t.Fatal("expect error for response with result and error")
	}
}

func TestErrorResponseKeepsKind(t *testing.T) {
	id := MustParameter("x")
	resp := ErrorResponse(id, errors.Wrap(&Error{Kind: KindBadParameters, Message: "arity"}, "dispatch"))
	if resp.Error.Kind != KindBadParameters {
		t.Fatalf("expect BadParameters, got %s", resp.Error.Kind)
	}
	resp = ErrorResponse(id, errors.New("boom"))
	if resp.Error.Kind != KindInvocationFailed || resp.Error.Message != "boom" {
		t.Fatalf("expect InvocationFailed boom, got %+v", resp.Error)
	}
}
