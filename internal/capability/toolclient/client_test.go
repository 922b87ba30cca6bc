package toolclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
	"github.com/agentfabric/a2acore/internal/httpjsonrpc"
)

// fakeToolServer replays the exact streaming-HTTP wire protocol Client
// expects, with a toggle for whether tools/list and tools/call answer with
// plain JSON or a single-event SSE frame, so both framings can be exercised
// against the same handshake logic, and a strict session-header check on
// every call after initialize.
type fakeToolServer struct {
	sse             bool
	sessionID       string
	initializedSeen bool
}

func (f *fakeToolServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req httpjsonrpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", f.sessionID)
			f.writeResult(w, req.ID, map[string]any{"protocolVersion": protocolVersion})
		case "notifications/initialized":
			if r.Header.Get("Mcp-Session-Id") != f.sessionID {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.initializedSeen = true
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			if r.Header.Get("Mcp-Session-Id") != f.sessionID {
				f.writeError(w, req.ID, "missing Mcp-Session-Id")
				return
			}
			f.writeResult(w, req.ID, map[string]any{"tools": []any{
				map[string]any{"name": "echo", "description": "echoes text"},
			}})
		case "tools/call":
			if r.Header.Get("Mcp-Session-Id") != f.sessionID {
				f.writeError(w, req.ID, "missing Mcp-Session-Id")
				return
			}
			var params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			raw, _ := json.Marshal(req.Params)
			_ = json.Unmarshal(raw, &params)
			text, _ := params.Arguments["text"].(string)
			f.writeResult(w, req.ID, map[string]any{
				"isError": false,
				"content": []any{map[string]any{"type": "text", "text": text}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeToolServer) writeResult(w http.ResponseWriter, id any, result any) {
	data, _ := json.Marshal(result)
	resp := httpjsonrpc.Response{JSONRPC: httpjsonrpc.Version, ID: id, Result: data}
	if f.sse {
		body, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", body)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeToolServer) writeError(w http.ResponseWriter, id any, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(httpjsonrpc.Response{
		JSONRPC: httpjsonrpc.Version,
		ID:      id,
		Error:   &httpjsonrpc.Error{Code: a2aerrors.CodeInvalidRequest, Message: message},
	})
}

func TestOpenAndCallOverPlainJSON(t *testing.T) {
	srv := &fakeToolServer{sessionID: "sess-1"}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	c := New(ts.URL)
	info, err := c.Open(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", info.SessionID)
	require.Len(t, info.Tools, 1)
	assert.Equal(t, "echo", info.Tools[0].Name)
	assert.True(t, srv.initializedSeen)

	text, err := c.Call(t.Context(), info.SessionID, "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

// TestOpenAndCallOverSSEFramingIsEquivalent is the SSE-framing boundary
// behavior (spec section 8): a response consisting of one data: line with a
// valid JSON-RPC body must be handled identically to the same body
// delivered as plain JSON.
func TestOpenAndCallOverSSEFramingIsEquivalent(t *testing.T) {
	srv := &fakeToolServer{sessionID: "sess-2", sse: true}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	c := New(ts.URL)
	info, err := c.Open(t.Context())
	require.NoError(t, err)

	text, err := c.Call(t.Context(), info.SessionID, "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

// TestSessionHandshakeIsReusedAcrossCalls is scenario S4 (spec section 8):
// the session id captured on initialize is carried, unchanged, on every
// subsequent tools/call for the life of the handle - the server never sees
// a second initialize.
func TestSessionHandshakeIsReusedAcrossCalls(t *testing.T) {
	srv := &fakeToolServer{sessionID: "sess-4"}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	c := New(ts.URL)
	info, err := c.Open(t.Context())
	require.NoError(t, err)
	require.Equal(t, "sess-4", info.SessionID)

	for i := 0; i < 3; i++ {
		text, err := c.Call(t.Context(), info.SessionID, "echo", map[string]any{"text": "hello"})
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	}
}

// TestCallWithoutSessionHeaderIsRemoteError is the stateful-remote boundary
// behavior (spec section 8): a call issued without the session header the
// server assigned on initialize must fail as a RemoteError, not silently
// reinitialize.
func TestCallWithoutSessionHeaderIsRemoteError(t *testing.T) {
	srv := &fakeToolServer{sessionID: "sess-3"}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.Call(t.Context(), "", "echo", map[string]any{"text": "hello"})
	require.Error(t, err)
	assert.True(t, a2aerrors.Is(err, a2aerrors.KindRemote))
}
