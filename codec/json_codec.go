package codec

// JSONCodec encodes with the module's jsoniter configuration.
// Pros: human-readable, cross-language, self-delimiting on a byte stream.
// Cons: numbers lose their Go type on the wire, so receivers re-decode against a declared type.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return Unmarshal(data, v)
}
