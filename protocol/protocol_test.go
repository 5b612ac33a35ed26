package protocol

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"fault-rpc/message"
)

// duplex joins a reader and a writer into one io.ReadWriter.
type duplex struct {
	io.Reader
	io.Writer
}

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := NewConn(&duplex{Reader: &bytes.Buffer{}, Writer: &buf}).WriteHandshake("alice"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != `{"id":"alice"}` {
		t.Fatalf("unexpected handshake bytes: %s", buf.String())
	}

	id, err := NewConn(&duplex{Reader: &buf, Writer: io.Discard}).ReadHandshake()
	if err != nil {
		t.Fatal(err)
	}
	if id != "alice" {
		t.Fatalf("expect alice, got %q", id)
	}
}

func TestHandshakeRejected(t *testing.T) {
	cases := map[string]string{
		"request first": `{"method":"add","params":[],"id":"alice"}`,
		"numeric id":    `{"id":7}`,
		"empty id":      `{"id":""}`,
		"missing id":    `{"name":"alice"}`,
		"not an object": `"alice"`,
		"garbage":       `{id: alice}`,
	}
	for name, input := range cases {
		c := NewConn(&duplex{Reader: bytes.NewBufferString(input), Writer: io.Discard})
		_, err := c.ReadHandshake()
		if err == nil {
			t.Fatalf("%s: expect handshake failure", name)
		}
		if message.KindOf(err) != message.KindHandshakeFailed {
			t.Fatalf("%s: expect HandshakeFailed, got %v", name, err)
		}
	}
}

func TestHandshakeOnClosedStream(t *testing.T) {
	c := NewConn(&duplex{Reader: &bytes.Buffer{}, Writer: io.Discard})
	if _, err := c.ReadHandshake(); err != io.EOF {
		t.Fatalf("expect io.EOF, got %v", err)
	}
}

func TestRequestsAndResponsesOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	a.SetDeadline(time.Now().Add(5 * time.Second))
	b.SetDeadline(time.Now().Add(5 * time.Second))

	client := NewConn(a)
	server := NewConn(b)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 3; i++ {
			req, err := server.ReadRequest()
			if err != nil {
				done <- err
				return
			}
			var x, y int
			req.Params[0].Decode(&x)
			req.Params[1].Decode(&y)
			if err := server.WriteResponse(message.NewResult(req.ID, message.MustParameter(x+y))); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < 3; i++ {
		req, _ := message.NewRequest("add", i, i, 10)
		if err := client.WriteRequest(req); err != nil {
			t.Fatal(err)
		}
		resp, err := client.ReadResponse()
		if err != nil {
			select {
			case serr := <-done:
				t.Fatalf("server side: %v", serr)
			default:
			}
			t.Fatal(err)
		}
		if !resp.ID.Equal(req.ID) {
			t.Fatalf("expect id %s, got %s", req.ID, resp.ID)
		}
		var sum int
		if err := resp.Value().Decode(&sum); err != nil {
			t.Fatal(err)
		}
		if sum != i+10 {
			t.Fatalf("expect %d, got %d", i+10, sum)
		}
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	a.SetDeadline(time.Now().Add(5 * time.Second))
	b.SetDeadline(time.Now().Add(5 * time.Second))

	writer := NewConn(a)
	reader := NewConn(b)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := message.NewRequest("echo", i, "some payload long enough to matter")
			if err := writer.WriteRequest(req); err != nil {
				t.Errorf("write %d: %v", i, err)
			}
		}(i)
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		req, err := reader.ReadRequest()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		seen[req.ID.Key()] = true
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("expect %d distinct requests, got %d", n, len(seen))
	}
}

func TestNumericRequestOverStream(t *testing.T) {
	c := NewConn(&duplex{Reader: bytes.NewBufferString(`{"method":"add","params":[2,3],"id":7}`), Writer: io.Discard})
	req, err := c.ReadRequest()
	if err != nil {
		t.Fatal(err)
	}
	var x, y int
	req.Params[0].Decode(&x)
	req.Params[1].Decode(&y)
	if req.Method != "add" || x != 2 || y != 3 || req.ID.String() != "7" {
		t.Fatalf("decoded %+v", req)
	}
}

func TestWriteResponseRejectsInvalid(t *testing.T) {
	c := NewConn(&duplex{Reader: &bytes.Buffer{}, Writer: io.Discard})
	if err := c.WriteResponse(&message.Response{ID: message.MustParameter(1)}); err == nil {
		t.Fatal("expect error for response without result or error")
	}
}
