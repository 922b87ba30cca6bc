// Package card implements the Agent Card Builder (spec section 4.7): a
// pure, cached projection of (static agent identity, capability registry
// snapshot) into the public self-description document served at the
// well-known path. Grounded on the teacher's own agent-card rendering in
// pkg/a2a (an agent's skills list is a direct projection of its installed
// tools), generalized to also project peer-agent skills, namespaced per
// spec section 4.7.
package card

import (
	"sync"
	"sync/atomic"

	"github.com/agentfabric/a2acore/internal/registry"
)

// SupportedMethods is the fixed method list this runtime's dispatcher
// exposes (spec section 6), advertised verbatim on every card.
var SupportedMethods = []string{
	"message/send", "send-task",
	"tasks/get", "tasks/cancel",
	"tools/add", "tools/remove", "tools/list", "tools/history",
	"agents/add", "agents/remove", "agents/list", "agents/history",
}

// Skill is one entry of an AgentCard's skills list.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AgentCard is the public self-description document.
type AgentCard struct {
	Name              string   `json:"name"`
	AgentID           string   `json:"agent_id"`
	Description       string   `json:"description"`
	Greeting          string   `json:"greeting"`
	Version           string   `json:"version"`
	Skills            []Skill  `json:"skills"`
	Transport         string   `json:"transport"`
	Auth              string   `json:"auth"`
	SupportsStreaming bool     `json:"supports_streaming"`
	SupportedMethods  []string `json:"supported_methods"`
}

// Identity is the static, config-derived half of an agent card - everything
// that does not come from the capability registry.
type Identity struct {
	Name        string
	AgentID     string
	Description string
	Greeting    string
	Version     string
}

// Builder renders and caches an AgentCard, re-rendering lazily on the next
// Get after a RegistryChanged notification (spec section 4.7: "regenerated
// lazily but deterministically").
type Builder struct {
	identity Identity
	reg      *registry.Registry

	dirty  atomic.Bool
	mu     sync.Mutex
	cached *AgentCard
}

// New creates a Builder subscribed to reg's change notifications.
func New(identity Identity, reg *registry.Registry) *Builder {
	b := &Builder{identity: identity, reg: reg}
	b.dirty.Store(true)
	reg.Subscribe(b.markDirty)
	return b
}

func (b *Builder) markDirty() { b.dirty.Store(true) }

// Get returns the current card, re-rendering first if the registry has
// changed since the last render.
func (b *Builder) Get() *AgentCard {
	if !b.dirty.Load() {
		b.mu.Lock()
		cached := b.cached
		b.mu.Unlock()
		if cached != nil {
			return cached
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Clear the flag before rendering, so a change notified while render
	// runs leaves it set and the next Get renders again.
	b.dirty.Store(false)
	card := b.render()
	b.cached = card
	return card
}

func (b *Builder) render() *AgentCard {
	summaries := b.reg.List()

	var skills []Skill
	for _, s := range summaries {
		for _, name := range s.Names {
			skills = append(skills, Skill{Name: name, Description: s.Descriptions[name]})
		}
	}

	return &AgentCard{
		Name:              b.identity.Name,
		AgentID:           b.identity.AgentID,
		Description:       b.identity.Description,
		Greeting:          b.identity.Greeting,
		Version:           b.identity.Version,
		Skills:            skills,
		Transport:         "http+json-rpc",
		Auth:              "none",
		SupportsStreaming: false,
		SupportedMethods:  append([]string(nil), SupportedMethods...),
	}
}
