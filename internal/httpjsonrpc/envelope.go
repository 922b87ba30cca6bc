// Package httpjsonrpc holds the JSON-RPC 2.0 wire types and the
// Server-Sent-Events response reader shared by everything in this repository
// that speaks JSON-RPC over HTTP: the A2A dispatcher, the streaming-HTTP
// capability client, and the peer agent client.
package httpjsonrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Version is the only JSON-RPC version this runtime speaks.
const Version = "2.0"

// Request is a JSON-RPC 2.0 request object. ID is any so both string and
// numeric IDs round-trip untouched.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request with the fixed jsonrpc version already set.
func NewRequest(id any, method string, params any) *Request {
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewNotification builds a request with no id, per JSON-RPC 2.0 notification
// semantics (no response expected).
func NewNotification(method string, params any) *Request {
	return &Request{JSONRPC: Version, Method: method, Params: params}
}

// Error is the JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is a JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// DecodeResult unmarshals the response's result field into out. Callers
// should check resp.Error first.
func (r *Response) DecodeResult(out any) error {
	if r.Result == nil {
		return fmt.Errorf("jsonrpc response has no result")
	}
	return json.Unmarshal(r.Result, out)
}

// ReadResponse reads a JSON-RPC response from body, transparently handling
// both a single JSON object and a Server-Sent-Events stream whose
// concatenated "data:" lines decode to one JSON-RPC response object. The
// spec requires both framings be accepted indistinguishably.
func ReadResponse(contentType string, body io.Reader) (*Response, error) {
	if strings.Contains(contentType, "text/event-stream") {
		return readSSEResponse(body)
	}
	return readPlainResponse(body)
}

func readPlainResponse(body io.Reader) (*Response, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode jsonrpc response: %w", err)
	}
	return &resp, nil
}

// readSSEResponse reads the first complete JSON-RPC response encoded across
// one or more "data:" lines of an SSE event, terminated by a blank line.
func readSSEResponse(body io.Reader) (*Response, error) {
	reader := bufio.NewReader(body)
	var data strings.Builder

	flush := func() (*Response, bool) {
		if data.Len() == 0 {
			return nil, false
		}
		var resp Response
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			data.Reset()
			return nil, false
		}
		return &resp, true
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		if trimmed == "" {
			if resp, ok := flush(); ok {
				return resp, nil
			}
		} else if strings.HasPrefix(trimmed, "data:") {
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
		}

		if err != nil {
			if err == io.EOF {
				if resp, ok := flush(); ok {
					return resp, nil
				}
				return nil, fmt.Errorf("sse stream ended without a complete jsonrpc message")
			}
			return nil, fmt.Errorf("read sse stream: %w", err)
		}
	}
}
