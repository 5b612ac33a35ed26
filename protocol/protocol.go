// Package protocol implements the partner wire protocol over a byte stream.
//
// There is no length framing: every message is one self-delimiting JSON document,
// and the reader decodes whole documents straight off the stream.
//
//	connecting side                          accepting side
//	  ── {"id":"alice"} ──────────────────────►  handshake: learn PartnerID
//	  ◄───────────────────── {"id":"bookie-1"} ─  ack (content ignored)
//	  ── {"method":"add","params":[2,3],"id":7} ►
//	  ◄────────────────────── {"result":5,"id":7}
//
// Each document is marshalled up front and handed to the stream with a single
// Write, so concurrent writers on one Conn never interleave documents.
package protocol

import (
	"io"
	"strings"
	"sync"

	"fault-rpc/codec"
	"fault-rpc/message"

	"github.com/pkg/errors"
)

// Handshake is the first document sent by the connecting side.
type Handshake struct {
	ID string `json:"id"`
}

// handshakeFrame is what the accepting side decodes the first document into. Anything
// other than an object with a non-empty string id, and no method, is rejected.
type handshakeFrame struct {
	ID     *string `json:"id"`
	Method *string `json:"method"`
}

// ErrHandshakeFailed is returned when the first document is not a valid PartnerID.
var ErrHandshakeFailed = &message.Error{Kind: message.KindHandshakeFailed}

// Conn reads and writes protocol documents on one stream.
// Reads must come from a single goroutine; writes may be concurrent.
type Conn struct {
	w   io.Writer
	dec codec.Decoder
	wmu sync.Mutex
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{w: rw, dec: codec.NewDecoder(rw)}
}

// ReadHandshake reads the first document and returns the announced PartnerID.
func (c *Conn) ReadHandshake() (string, error) {
	var frame handshakeFrame
	if err := c.dec.Decode(&frame); err != nil {
		if isStreamEnd(err) {
			return "", err
		}
		return "", &message.Error{Kind: message.KindHandshakeFailed, Message: err.Error()}
	}
	if frame.Method != nil {
		return "", &message.Error{Kind: message.KindHandshakeFailed, Message: "received a request before the handshake"}
	}
	if frame.ID == nil || strings.TrimSpace(*frame.ID) == "" {
		return "", &message.Error{Kind: message.KindHandshakeFailed, Message: "missing partner id"}
	}
	return *frame.ID, nil
}

// WriteHandshake announces id to the other side.
func (c *Conn) WriteHandshake(id string) error {
	return c.write(&Handshake{ID: id})
}

// ReadAck consumes the accepting side's handshake reply. Its content is not interpreted.
func (c *Conn) ReadAck() error {
	var ack map[string]any
	return c.read(&ack)
}

func (c *Conn) ReadRequest() (*message.Request, error) {
	req := &message.Request{}
	if err := c.read(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Conn) WriteRequest(req *message.Request) error {
	return c.write(req)
}

func (c *Conn) ReadResponse() (*message.Response, error) {
	resp := &message.Response{}
	if err := c.read(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Conn) WriteResponse(resp *message.Response) error {
	if err := resp.Validate(); err != nil {
		return err
	}
	return c.write(resp)
}

func (c *Conn) read(v any) error {
	if err := c.dec.Decode(v); err != nil {
		if isStreamEnd(err) {
			return err
		}
		return errors.Wrap(err, "protocol: decode document")
	}
	return nil
}

func (c *Conn) write(v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "protocol: encode document")
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	return nil
}

func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
