// Package registry also holds the Capability Registry itself (spec section
// 4.3): the single in-process source of truth for what an agent currently
// knows how to call, built on the Ordered[T] table in ordered.go plus a singleflight
// group that collapses concurrent identical Add(url) calls into one probe -
// the concrete mechanism behind the idempotency-under-concurrency testable
// property (spec section 8, property 3).
package registry

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
)

// Kind distinguishes the two capability variants named in spec section 3.
type Kind string

const (
	KindToolProvider Kind = "tool_provider"
	KindPeerAgent    Kind = "peer_agent"
)

// ToolDescriptor is one function a ToolProvider exposes.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// PeerSkill is one skill projected from a peer's agent card.
type PeerSkill struct {
	Name        string
	Description string
}

// Handle is the in-process object representing one attached capability and
// owning its transport state. Exactly one of the ToolProvider or PeerAgent
// field groups is populated, discriminated by Kind.
type Handle struct {
	URL  string
	Kind Kind

	// ToolProvider fields.
	DeclaredName    string
	Tools           []ToolDescriptor
	TransportSession string // Mcp-Session-Id, empty if the server is stateless

	// PeerAgent fields.
	AgentCardName string
	Skills        []PeerSkill
	AddressableAs string

	// FunctionNames is the ordered set of callable function names this
	// handle contributes to the turn executor's namespace, already resolved
	// against collisions (see resolveFunctionNames).
	FunctionNames []string
}

// HistoryEntry is one append-only audit record of a registry mutation.
type HistoryEntry struct {
	Action             string // "add" | "remove"
	URL                string
	Timestamp          time.Time
	SessionPreserved   bool
	CapabilitySummary  map[string]string // function name -> description, snapshot at add time
}

// CapabilitySummary is the projection returned by List().
type CapabilitySummary struct {
	URL          string
	Kind         Kind
	Names        []string
	Descriptions map[string]string
}

// Prober resolves a URL into an attached Handle. It is the seam between the
// registry (topology bookkeeping) and the wire clients (internal/capability)
// that actually speak to the remote endpoint. Splitting it out keeps the
// registry unit-testable without any real HTTP.
type Prober interface {
	// ProbeAgentCard attempts to treat url as a peer agent. ok is false (with
	// a nil error) if the endpoint is reachable but is not a well-formed
	// agent card - the caller should then try ProbeToolProvider.
	ProbeAgentCard(ctx context.Context, url string) (handle *Handle, ok bool, err error)

	// ProbeToolProvider attempts to treat url as an MCP-style tool server,
	// performing the stateful-session handshake (spec section 4.1) when the
	// server returns a session id on initialize.
	ProbeToolProvider(ctx context.Context, url string) (*Handle, error)

	// Release tears down any transport state a handle owns (e.g. an MCP
	// session, a cached peer connection). Called on remove and on process
	// shutdown, on every exit path.
	Release(h *Handle)

	// Invoke dispatches a call to an installed handle by function name.
	Invoke(ctx context.Context, h *Handle, functionName string, args map[string]any) (string, error)

	// SelfURL identifies this agent's own advertised URL, used to reject
	// self-loop adds (spec section 9's suggested resolution).
	SelfURL() string
}

// Listener is notified after every successful Add or Remove, before the
// operation returns to its caller (spec section 4.3's listener contract).
type Listener func()

// Registry is the capability registry.
type Registry struct {
	prober Prober

	mu       sync.Mutex // serializes Add/Remove against each other
	handles  *Ordered[*Handle]
	history  []HistoryEntry
	sf       singleflight.Group

	listenersMu sync.Mutex
	listeners   []Listener
}

// New creates an empty capability registry backed by prober.
func New(prober Prober) *Registry {
	return &Registry{
		prober:  prober,
		handles: NewOrdered[*Handle](),
	}
}

// Subscribe registers a listener invoked synchronously after every
// successful Add or Remove.
func (r *Registry) Subscribe(l Listener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify() {
	r.listenersMu.Lock()
	ls := append([]Listener(nil), r.listeners...)
	r.listenersMu.Unlock()
	for _, l := range ls {
		l()
	}
}

// AddOutcome reports what Add actually did, for the caller's wire response.
type AddOutcome struct {
	Handle    *Handle
	NoChange  bool // url was already present; registry did not grow
}

var invalidIdentChar = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Sanitize replaces every character not in [A-Za-z0-9_] with '_', producing
// a valid identifier from a peer's display name (spec section 4.3).
func Sanitize(name string) string {
	return invalidIdentChar.ReplaceAllString(name, "_")
}

// Add resolves url against the remote endpoint and, on success, installs a
// new handle. Adding a url already present is idempotent: it succeeds with
// NoChange=true and still appends a history entry, per spec section 4.3's
// invariant that the audit stays faithful even when the registry doesn't
// grow. Concurrent Add(u) from N callers collapses into one underlying
// probe via singleflight, so list() contains u exactly once regardless of
// how many callers raced to add it.
func (r *Registry) Add(ctx context.Context, url string) (*AddOutcome, error) {
	if url == r.prober.SelfURL() {
		return nil, a2aerrors.New(a2aerrors.KindReject, "refusing to add self as a capability")
	}

	if h, ok := r.handles.Get(url); ok {
		r.mu.Lock()
		r.appendHistory(HistoryEntry{
			Action:            "add",
			URL:               url,
			Timestamp:         time.Now(),
			SessionPreserved:  true,
			CapabilitySummary: summarize(h),
		})
		r.mu.Unlock()
		return &AddOutcome{Handle: h, NoChange: true}, nil
	}

	v, err, _ := r.sf.Do(url, func() (any, error) {
		return r.doAdd(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AddOutcome), nil
}

func (r *Registry) doAdd(ctx context.Context, url string) (*AddOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the mutation lock: another singleflight caller for a
	// different in-flight key, or a caller that lost the singleflight race
	// before we got here, may have already installed it.
	if h, ok := r.handles.Get(url); ok {
		r.appendHistory(HistoryEntry{
			Action:            "add",
			URL:               url,
			Timestamp:         time.Now(),
			SessionPreserved:  true,
			CapabilitySummary: summarize(h),
		})
		return &AddOutcome{Handle: h, NoChange: true}, nil
	}

	handle, isPeer, err := r.prober.ProbeAgentCard(ctx, url)
	if err != nil {
		return nil, a2aerrors.New(a2aerrors.KindTransport, "unreachable: "+err.Error())
	}
	if !isPeer {
		handle, err = r.prober.ProbeToolProvider(ctx, url)
		if err != nil {
			return nil, a2aerrors.New(a2aerrors.KindTransport, "unreachable: "+err.Error())
		}
	}

	handle.FunctionNames = resolveFunctionNames(handle, r.handles)
	r.handles.Put(url, handle)
	r.appendHistory(HistoryEntry{
		Action:            "add",
		URL:               url,
		Timestamp:         time.Now(),
		SessionPreserved:  true,
		CapabilitySummary: summarize(handle),
	})
	r.notify()

	return &AddOutcome{Handle: handle}, nil
}

// Remove detaches url if present, releasing its transport state on every
// exit path. Removing an absent url is a no-op that still records history.
func (r *Registry) Remove(url string) (removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles.Get(url)
	if ok {
		r.handles.Delete(url)
		r.prober.Release(h)
	}

	r.appendHistory(HistoryEntry{
		Action:           "remove",
		URL:              url,
		Timestamp:        time.Now(),
		SessionPreserved: true,
	})

	if ok {
		r.notify()
	}
	return ok
}

// List returns an insertion-ordered snapshot of attached capabilities.
func (r *Registry) List() []CapabilitySummary {
	handles := r.handles.List()
	out := make([]CapabilitySummary, 0, len(handles))
	for _, h := range handles {
		out = append(out, CapabilitySummary{
			URL:          h.URL,
			Kind:         h.Kind,
			Names:        append([]string(nil), h.FunctionNames...),
			Descriptions: summarize(h),
		})
	}
	return out
}

// History returns the full append-only audit log.
func (r *Registry) History() []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HistoryEntry, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Registry) appendHistory(e HistoryEntry) {
	r.history = append(r.history, e)
}

// Snapshot is the point-in-time view of callable functions handed to the
// turn executor: name -> (handle, description, input schema), in the
// deterministic order spec section 4.3 requires (concatenation of each
// handle's function names in insertion order).
type Snapshot struct {
	byName map[string]*Handle
	order  []string
	descs  map[string]string
	params map[string]map[string]any
}

// Names returns callable function names in deterministic order.
func (s *Snapshot) Names() []string { return append([]string(nil), s.order...) }

// Description returns the human description for a function name.
func (s *Snapshot) Description(name string) string { return s.descs[name] }

// Parameters returns the JSON-Schema input parameters for a function name,
// nil if the capability that contributed it doesn't declare one (e.g. a
// peer agent skill, which an agent card carries no schema for).
func (s *Snapshot) Parameters(name string) map[string]any { return s.params[name] }

// Snapshot takes a consistent point-in-time view of the registry for one
// turn.
func (r *Registry) Snapshot() *Snapshot {
	handles := r.handles.List()
	s := &Snapshot{byName: make(map[string]*Handle), descs: make(map[string]string), params: make(map[string]map[string]any)}
	for _, h := range handles {
		for _, name := range h.FunctionNames {
			s.byName[name] = h
			s.order = append(s.order, name)
		}
		descs, params := describeFunctions(h)
		for k, v := range descs {
			s.descs[k] = v
		}
		for k, v := range params {
			s.params[k] = v
		}
	}
	return s
}

// Invoke dispatches a call to a registered function by name. Invocations
// already in flight against a capability that is concurrently removed
// continue to completion (they hold their own *Handle, not a registry
// lookup); a lookup for a name no longer registered fails with
// UnknownCapability.
func (r *Registry) Invoke(ctx context.Context, s *Snapshot, functionName string, args map[string]any) (string, error) {
	h, ok := s.byName[functionName]
	if !ok {
		return "", a2aerrors.New(a2aerrors.KindUnknownCapability, "no such capability: "+functionName)
	}
	return r.prober.Invoke(ctx, h, functionName, args)
}

// summarize projects a handle's callable functions to name -> description,
// the shape recorded verbatim in a HistoryEntry.CapabilitySummary and in
// List()'s CapabilitySummary.Descriptions.
func summarize(h *Handle) map[string]string {
	descs, _ := describeFunctions(h)
	return descs
}

// describeFunctions projects a handle's callable functions to their
// description and JSON-Schema input parameters, keyed by the function's
// resolved (possibly namespaced) name. A peer agent's skills carry no
// schema - an agent card documents a skill's name and description only, not
// its input shape - so their parameters map is always nil.
func describeFunctions(h *Handle) (descriptions map[string]string, parameters map[string]map[string]any) {
	descriptions = make(map[string]string, len(h.FunctionNames))
	parameters = make(map[string]map[string]any, len(h.FunctionNames))
	switch h.Kind {
	case KindToolProvider:
		byName := make(map[string]ToolDescriptor, len(h.Tools))
		for _, t := range h.Tools {
			byName[t.Name] = t
		}
		for _, fn := range h.FunctionNames {
			t := byName[bareName(h, fn)]
			descriptions[fn] = t.Description
			parameters[fn] = t.InputSchema
		}
	case KindPeerAgent:
		byName := make(map[string]string, len(h.Skills))
		for _, sk := range h.Skills {
			byName[sk.Name] = sk.Description
		}
		for _, fn := range h.FunctionNames {
			descriptions[fn] = byName[bareName(h, fn)]
		}
	}
	return descriptions, parameters
}

// resolveFunctionNames computes the globally-unique function names a new
// handle contributes. Per spec section 4.7, peer-agent skills are always
// namespaced with their addressable_as prefix ("distinguish origin" - which
// peer a skill came from matters even with no name collision); tool
// provider names stay bare and are only prefixed on an actual collision
// with an already-installed handle's names (spec section 3's
// namespace-collision invariant).
func resolveFunctionNames(h *Handle, existing *Ordered[*Handle]) []string {
	taken := make(map[string]bool)
	for _, other := range existing.List() {
		for _, n := range other.FunctionNames {
			taken[n] = true
		}
	}

	scopeKey := scopeKeyFor(h)

	var bare []string
	switch h.Kind {
	case KindToolProvider:
		for _, t := range h.Tools {
			bare = append(bare, t.Name)
		}
	case KindPeerAgent:
		for _, sk := range h.Skills {
			bare = append(bare, sk.Name)
		}
	}

	names := make([]string, 0, len(bare))
	for _, b := range bare {
		name := b
		if h.Kind == KindPeerAgent || taken[name] {
			name = scopeKey + "__" + b
		}
		names = append(names, name)
		taken[name] = true
	}
	return names
}

// bareName recovers the original tool/skill name from a possibly-prefixed
// function name, for description lookups.
func bareName(h *Handle, functionName string) string {
	prefix := scopeKeyFor(h) + "__"
	return strings.TrimPrefix(functionName, prefix)
}

func scopeKeyFor(h *Handle) string {
	switch h.Kind {
	case KindPeerAgent:
		return h.AddressableAs
	default:
		return Sanitize(h.DeclaredName)
	}
}

// DeriveAddressableAs implements spec section 4.3's rule for turning a
// peer's display name into a valid identifier.
func DeriveAddressableAs(displayName string) string {
	return Sanitize(displayName)
}
