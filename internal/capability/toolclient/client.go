// Package toolclient implements the streaming-HTTP capability client (spec
// section 4.1): the wire logic for talking to an MCP-style tool server over
// a single POST endpoint that may answer with either a plain JSON body or a
// text/event-stream framed body, and that may hand back a session id on
// initialize which must be echoed on every subsequent call.
//
// Grounded on the teacher's pkg/tool/mcptoolset.go connectHTTP/
// makeHTTPRequest/readSSEResponse/callHTTP path (the HTTP transport there
// never actually touches the mcp-go types - it round-trips tools/list and
// tools/call as raw JSON-RPC, which is exactly this spec's wire contract).
// Tool descriptors are represented with mark3labs/mcp-go's mcp.Tool /
// mcp.ToolInputSchema so a capability's declared shape is the same type the
// rest of the Go MCP ecosystem uses, rather than a bespoke struct.
package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
	"github.com/agentfabric/a2acore/internal/httpclient"
	"github.com/agentfabric/a2acore/internal/httpjsonrpc"
)

const protocolVersion = "2024-11-05"

const clientName = "a2acore"

// SessionInfo captures the result of a successful handshake: the tools the
// server exposes and, if the server is stateful, the session id to echo on
// every subsequent call.
type SessionInfo struct {
	Tools     []mcp.Tool
	SessionID string // empty if the server answered without Mcp-Session-Id
}

// Client speaks the streaming-HTTP capability wire protocol against one
// tool-server URL. It is stateless with respect to session id: callers own
// the SessionInfo returned by Open and pass it back on every Call, so one
// Client can serve many concurrently open sessions against the same URL.
type Client struct {
	url  string
	http *httpclient.Client
}

// New creates a client for the tool server at url. The underlying HTTP
// client is constructed with zero retries: retrying a tools/call is a
// caller decision (a tool may not be idempotent), not a transport default.
func New(url string) *Client {
	return &Client{url: url, http: httpclient.New()}
}

// Open performs the initialize -> notifications/initialized -> tools/list
// handshake described in spec section 4.1, capturing whatever session id
// the server assigns.
func (c *Client) Open(ctx context.Context) (*SessionInfo, error) {
	initResp, sessionID, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": "1.0.0",
		},
		"capabilities": map[string]any{},
	}, "")
	if err != nil {
		return nil, err
	}
	if initResp.Error != nil {
		return nil, a2aerrors.New(a2aerrors.KindRemote, "initialize: "+initResp.Error.Message)
	}

	// notifications/initialized is a JSON-RPC notification: no id, no
	// response expected. The server may still 4xx if the session id is
	// wrong, which surfaces as a transport error here.
	if _, _, err := c.notify(ctx, "notifications/initialized", nil, sessionID); err != nil {
		return nil, err
	}

	listResp, _, err := c.call(ctx, "tools/list", nil, sessionID)
	if err != nil {
		return nil, err
	}
	if listResp.Error != nil {
		return nil, a2aerrors.New(a2aerrors.KindRemote, "tools/list: "+listResp.Error.Message)
	}

	var result struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := listResp.DecodeResult(&result); err != nil {
		return nil, a2aerrors.New(a2aerrors.KindProtocol, "malformed tools/list result: "+err.Error())
	}

	return &SessionInfo{Tools: result.Tools, SessionID: sessionID}, nil
}

// Call invokes one tool and returns its concatenated text content. sessionID
// is the value captured by Open; pass "" for a stateless server.
func (c *Client) Call(ctx context.Context, sessionID, toolName string, args map[string]any) (string, error) {
	resp, _, err := c.call(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": args,
	}, sessionID)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", a2aerrors.New(a2aerrors.KindRemote, "tools/call: "+resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := resp.DecodeResult(&result); err != nil {
		return "", a2aerrors.New(a2aerrors.KindProtocol, "malformed tools/call result: "+err.Error())
	}

	text := concatText(result.Content)
	if result.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", a2aerrors.New(a2aerrors.KindRemote, text)
	}
	return text, nil
}

// Close does nothing: the client owns no connection pool of its own (its
// requests go through the default HTTP transport), and it sends no
// session-termination request to a stateful server.
func (c *Client) Close() {}

func concatText(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		if tc, ok := item.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// call issues a JSON-RPC request and returns its parsed response together
// with whatever session id the server assigned (a no-op passthrough of
// sessionID if the server didn't set one).
func (c *Client) call(ctx context.Context, method string, params any, sessionID string) (*httpjsonrpc.Response, string, error) {
	req := httpjsonrpc.NewRequest(1, method, params)
	return c.roundTrip(ctx, req, sessionID)
}

// notify issues a JSON-RPC notification (no id, no response body expected).
func (c *Client) notify(ctx context.Context, method string, params any, sessionID string) (*httpjsonrpc.Response, string, error) {
	req := httpjsonrpc.NewNotification(method, params)
	return c.roundTrip(ctx, req, sessionID)
}

func (c *Client) roundTrip(ctx context.Context, req *httpjsonrpc.Request, sessionID string) (*httpjsonrpc.Response, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", a2aerrors.New(a2aerrors.KindProtocol, "encode request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(string(body)))
	if err != nil {
		return nil, "", a2aerrors.Wrap(a2aerrors.KindTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, "", a2aerrors.Wrap(a2aerrors.KindTransport, err)
	}
	defer httpResp.Body.Close()

	newSessionID := httpResp.Header.Get("Mcp-Session-Id")
	if newSessionID == "" {
		newSessionID = sessionID
	}

	if httpResp.StatusCode != http.StatusOK {
		if httpResp.StatusCode == http.StatusAccepted {
			// Accepted with no body: this was a fire-and-forget notification.
			return &httpjsonrpc.Response{JSONRPC: httpjsonrpc.Version}, newSessionID, nil
		}
		return nil, "", a2aerrors.New(a2aerrors.KindTransport, fmt.Sprintf("http status %d", httpResp.StatusCode))
	}

	contentType := httpResp.Header.Get("Content-Type")
	if contentType == "" && httpResp.ContentLength == 0 {
		// Some servers answer notifications with a bare 200 and empty body.
		return &httpjsonrpc.Response{JSONRPC: httpjsonrpc.Version}, newSessionID, nil
	}

	resp, err := httpjsonrpc.ReadResponse(contentType, httpResp.Body)
	if err != nil {
		return nil, "", a2aerrors.New(a2aerrors.KindProtocol, "decode response: "+err.Error())
	}
	return resp, newSessionID, nil
}
