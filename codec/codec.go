// Package codec holds the JSON engine shared by the message model and the wire protocol.
//
// Every document on the wire is a self-delimiting JSON value, so the same engine is used
// both for whole-buffer encoding (Marshal/Unmarshal) and for streaming decode of one
// document at a time off a connection (NewDecoder).
package codec

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

// API is the frozen jsoniter configuration used across the module. It behaves like
// encoding/json, including json.Marshaler/json.Unmarshaler support, which Parameter relies on.
var API = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec encodes and decodes whole values.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Decoder reads consecutive documents from a stream.
type Decoder interface {
	Decode(v any) error
}

// Default is the codec used when none is configured.
var Default Codec = &JSONCodec{}

func Marshal(v any) ([]byte, error) {
	return API.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return API.Unmarshal(data, v)
}

// NewDecoder returns a streaming decoder over r. A decoder buffers ahead of the
// document it returns, so exactly one decoder must own a given reader.
func NewDecoder(r io.Reader) Decoder {
	return API.NewDecoder(r)
}

// Valid reports whether data is a single well-formed JSON document.
func Valid(data []byte) bool {
	// jsoniter only knows a bare number has ended when it sees the next byte, and
	// reports io.EOF otherwise; a trailing space terminates it.
	buf := make([]byte, len(data)+1)
	copy(buf, data)
	buf[len(data)] = ' '

	iter := API.BorrowIterator(buf)
	defer API.ReturnIterator(iter)
	iter.Skip()
	if iter.Error != nil {
		return false
	}
	if iter.WhatIsNext() != jsoniter.InvalidValue {
		return false // trailing content
	}
	return iter.Error == io.EOF
}
