// Package peerclient implements the peer agent client (spec section 4.2):
// discovering another A2A-speaking agent via its well-known agent card and
// forwarding a message to it as a "message/send" JSON-RPC call over that
// agent's own endpoint. Grounded on the same connect/round-trip shape as
// toolclient, since both are the same wire family (JSON-RPC 2.0 over a
// single HTTP endpoint, optionally SSE-framed) - the two packages are kept
// separate because a peer agent card and an MCP tool descriptor are
// different domain objects, not because the transport differs.
package peerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
	"github.com/agentfabric/a2acore/internal/httpclient"
	"github.com/agentfabric/a2acore/internal/httpjsonrpc"
)

// AgentCard is the subset of a peer's well-known agent card this runtime
// projects into a capability handle.
type AgentCard struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	Skills      []AgentSkill `json:"skills"`
}

// AgentSkill is one skill entry of an agent card.
type AgentSkill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Client speaks to one peer agent's card-discovery and message endpoints.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// New creates a client against a peer agent reachable at baseURL. baseURL is
// both the card-discovery base and the JSON-RPC POST endpoint, per this
// runtime's single-endpoint agent card convention (spec section 6).
func New(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpclient.New()}
}

// FetchAgentCard retrieves the peer's card from
// {baseURL}/.well-known/agent-card.json. A non-2xx or non-JSON response is a
// transport/protocol error, not evidence the URL isn't a peer agent - that
// distinction (peer vs tool provider) is drawn by the registry's probing
// order, not by this client.
func (c *Client) FetchAgentCard(ctx context.Context) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/.well-known/agent-card.json", nil)
	if err != nil {
		return nil, a2aerrors.Wrap(a2aerrors.KindTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, a2aerrors.Wrap(a2aerrors.KindTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a2aerrors.New(a2aerrors.KindTransport, fmt.Sprintf("agent card fetch: http status %d", resp.StatusCode))
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, a2aerrors.New(a2aerrors.KindProtocol, "malformed agent card: "+err.Error())
	}
	return &card, nil
}

// SendMessage forwards a message to the peer's JSON-RPC endpoint as a
// "message/send" call and returns the peer's textual reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (string, error) {
	req := httpjsonrpc.NewRequest(1, "message/send", map[string]any{
		"sessionId": sessionID,
		"message":   map[string]any{"content": message},
	})

	body, err := json.Marshal(req)
	if err != nil {
		return "", a2aerrors.New(a2aerrors.KindProtocol, "encode request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(string(body)))
	if err != nil {
		return "", a2aerrors.Wrap(a2aerrors.KindTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return "", a2aerrors.Wrap(a2aerrors.KindTransport, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return "", a2aerrors.New(a2aerrors.KindTransport, fmt.Sprintf("http status %d", httpResp.StatusCode))
	}

	resp, err := httpjsonrpc.ReadResponse(httpResp.Header.Get("Content-Type"), httpResp.Body)
	if err != nil {
		return "", a2aerrors.New(a2aerrors.KindProtocol, "decode response: "+err.Error())
	}
	if resp.Error != nil {
		return "", a2aerrors.New(a2aerrors.KindRemote, resp.Error.Message)
	}

	// The result shape is this runtime's own message/send response (see
	// internal/a2aserver's sendResult): {taskId, status, result:{message:
	// {role, content}}}. A peer agent is, by definition, another instance of
	// this runtime, so its wire response is the same shape ours produces.
	var result struct {
		Status string `json:"status"`
		Result struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"result"`
	}
	if err := resp.DecodeResult(&result); err != nil {
		return "", a2aerrors.New(a2aerrors.KindProtocol, "malformed message/send result: "+err.Error())
	}
	return result.Result.Message.Content, nil
}
