// Package message defines the values exchanged between partners: type-tagged
// Parameters, Requests, Responses and the error taxonomy carried on the wire.
//
// Wire shapes:
//
//	request:  {"method": "add", "params": [2, 3], "id": 7}
//	response: {"result": 5, "id": 7}
//	          {"error": {"kind": "MethodNotFound", "message": "..."}, "id": 8}
package message

import (
	"fmt"

	"github.com/pkg/errors"
)

// Request is a single remote call. Method names are case-sensitive and the id is
// chosen by the caller; it is echoed verbatim in the response.
type Request struct {
	Method string      `json:"method"`
	Params []Parameter `json:"params"`
	ID     Parameter   `json:"id"`
}

// NewRequest builds a request, encoding each argument into a Parameter.
func NewRequest(method string, id any, args ...any) (*Request, error) {
	idParam, err := NewParameter(id)
	if err != nil {
		return nil, err
	}
	params := make([]Parameter, 0, len(args))
	for _, a := range args {
		p, err := NewParameter(a)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return &Request{Method: method, Params: params, ID: idParam}, nil
}

// Response carries either a Result or an Error, never both, plus the echoed id.
type Response struct {
	Result *Parameter `json:"result,omitempty"`
	Error  *Error     `json:"error,omitempty"`
	ID     Parameter  `json:"id"`
}

// NewResult builds a successful response. A null result is still a result.
func NewResult(id Parameter, result Parameter) *Response {
	return &Response{Result: &result, ID: id}
}

// NewErrorResponse builds a failed response of the given kind.
func NewErrorResponse(id Parameter, kind ErrorKind, format string, args ...any) *Response {
	return &Response{Error: &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}, ID: id}
}

// ErrorResponse wraps err into a response. A *Error keeps its kind; anything
// else is reported as InvocationFailed.
func ErrorResponse(id Parameter, err error) *Response {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		e := *rpcErr
		return &Response{Error: &e, ID: id}
	}
	return &Response{Error: &Error{Kind: KindInvocationFailed, Message: err.Error()}, ID: id}
}

func (r *Response) IsError() bool {
	return r.Error != nil
}

// Value returns the result parameter. A success whose result was null on the
// wire decodes with a nil Result, so a missing result reads as null.
func (r *Response) Value() Parameter {
	if r.Result == nil {
		return Parameter{}
	}
	return *r.Result
}

// Err returns the response error as a Go error, or nil on success.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Validate checks the exactly-one-of rule on an outgoing response.
func (r *Response) Validate() error {
	if r.Result != nil && r.Error != nil {
		return errors.New("message: response carries both result and error")
	}
	if r.Result == nil && r.Error == nil {
		return errors.New("message: response carries neither result nor error")
	}
	return nil
}
