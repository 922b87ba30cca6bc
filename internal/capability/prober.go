// Package capability wires the two wire clients (toolclient, peerclient)
// into the registry.Prober contract, so the capability registry never talks
// HTTP directly - it only ever asks a Prober to resolve a URL into a Handle.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentfabric/a2acore/internal/capability/peerclient"
	"github.com/agentfabric/a2acore/internal/capability/toolclient"
	"github.com/agentfabric/a2acore/internal/registry"
)

// Prober is the default registry.Prober, backed by real HTTP clients.
type Prober struct {
	selfURL string

	mu       sync.Mutex
	clients  map[string]*toolclient.Client
	sessions map[string]string // handle URL -> Mcp-Session-Id
}

// New creates a Prober. selfURL is this agent's own advertised URL, used to
// reject self-loop adds.
func New(selfURL string) *Prober {
	return &Prober{
		selfURL:  selfURL,
		clients:  make(map[string]*toolclient.Client),
		sessions: make(map[string]string),
	}
}

func (p *Prober) SelfURL() string { return p.selfURL }

// ProbeAgentCard tries url as a peer agent's well-known-card endpoint first,
// per spec section 4.3's probing order (peer card check before MCP
// handshake): a well-formed agent card is unambiguous evidence, whereas a
// tool-provider's tools/list responds to any URL that speaks JSON-RPC.
func (p *Prober) ProbeAgentCard(ctx context.Context, url string) (*registry.Handle, bool, error) {
	pc := peerclient.New(url)
	card, err := pc.FetchAgentCard(ctx)
	if err != nil {
		return nil, false, nil // not a peer agent; let the caller try tool-provider probing
	}

	addressableAs := registry.DeriveAddressableAs(card.Name)
	skills := make([]registry.PeerSkill, 0, len(card.Skills))
	for _, s := range card.Skills {
		skills = append(skills, registry.PeerSkill{Name: s.Name, Description: s.Description})
	}

	return &registry.Handle{
		URL:           url,
		Kind:          registry.KindPeerAgent,
		AgentCardName: card.Name,
		Skills:        skills,
		AddressableAs: addressableAs,
	}, true, nil
}

// ProbeToolProvider performs the MCP-style initialize/tools-list handshake
// described in spec section 4.1, capturing a session id if the server
// assigns one.
func (p *Prober) ProbeToolProvider(ctx context.Context, url string) (*registry.Handle, error) {
	tc := toolclient.New(url)
	info, err := tc.Open(ctx)
	if err != nil {
		return nil, err
	}

	tools := make([]registry.ToolDescriptor, 0, len(info.Tools))
	for _, t := range info.Tools {
		tools = append(tools, registry.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}

	handle := &registry.Handle{
		URL:              url,
		Kind:             registry.KindToolProvider,
		DeclaredName:     deriveDeclaredName(url),
		Tools:            tools,
		TransportSession: info.SessionID,
	}

	p.mu.Lock()
	p.clients[url] = tc
	if info.SessionID != "" {
		p.sessions[url] = info.SessionID
	}
	p.mu.Unlock()
	return handle, nil
}

// Release tears down transport state associated with a handle.
func (p *Prober) Release(h *registry.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tc, ok := p.clients[h.URL]; ok {
		tc.Close()
		delete(p.clients, h.URL)
	}
	delete(p.sessions, h.URL)
}

// Invoke dispatches a call to an installed handle by function name.
func (p *Prober) Invoke(ctx context.Context, h *registry.Handle, functionName string, args map[string]any) (string, error) {
	switch h.Kind {
	case registry.KindToolProvider:
		p.mu.Lock()
		tc, ok := p.clients[h.URL]
		if !ok {
			tc = toolclient.New(h.URL)
			p.clients[h.URL] = tc
		}
		sessionID := p.sessions[h.URL]
		p.mu.Unlock()

		toolName := bareToolName(h, functionName)
		return tc.Call(ctx, sessionID, toolName, args)
	case registry.KindPeerAgent:
		pc := peerclient.New(h.URL)
		sessionID, _ := args["session_id"].(string)
		message, _ := args["message"].(string)
		return pc.SendMessage(ctx, sessionID, message)
	default:
		return "", fmt.Errorf("capability: unknown handle kind %q", h.Kind)
	}
}

func bareToolName(h *registry.Handle, functionName string) string {
	prefix := registry.Sanitize(h.DeclaredName) + "__"
	for _, t := range h.Tools {
		if t.Name == functionName || prefix+t.Name == functionName {
			return t.Name
		}
	}
	return functionName
}

func deriveDeclaredName(url string) string {
	// Tool providers don't self-report a display name over this wire
	// protocol; derive a stable one from the URL so two providers at
	// different hosts never collide.
	return registry.Sanitize(url)
}

// schemaToMap converts mcp.ToolInputSchema to a plain map by marshalling and
// unmarshalling, the same trick the teacher's convertSchema uses to get a
// clean JSON-Schema map out of the typed struct.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
