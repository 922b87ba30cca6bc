package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
)

// fakeProber is a scriptable Prober double, standing in for real HTTP
// probing in every registry test below.
type fakeProber struct {
	self string

	mu         sync.Mutex
	peers      map[string]*Handle // url -> peer handle, if this url is a peer
	tools      map[string]*Handle // url -> tool handle, if this url is a tool provider
	probeCount map[string]int
	released   []string
	invokeFn   func(ctx context.Context, h *Handle, functionName string, args map[string]any) (string, error)
}

func newFakeProber(self string) *fakeProber {
	return &fakeProber{
		self:       self,
		peers:      make(map[string]*Handle),
		tools:      make(map[string]*Handle),
		probeCount: make(map[string]int),
	}
}

func (f *fakeProber) SelfURL() string { return f.self }

func (f *fakeProber) ProbeAgentCard(ctx context.Context, url string) (*Handle, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCount[url]++
	if h, ok := f.peers[url]; ok {
		cp := *h
		return &cp, true, nil
	}
	return nil, false, nil
}

func (f *fakeProber) ProbeToolProvider(ctx context.Context, url string) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.tools[url]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, fmt.Errorf("fakeProber: no tool provider registered for %s", url)
}

func (f *fakeProber) Release(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, h.URL)
}

func (f *fakeProber) Invoke(ctx context.Context, h *Handle, functionName string, args map[string]any) (string, error) {
	if f.invokeFn != nil {
		return f.invokeFn(ctx, h, functionName, args)
	}
	return "ok:" + functionName, nil
}

func toolHandle(url, declaredName string, tools ...ToolDescriptor) *Handle {
	return &Handle{URL: url, Kind: KindToolProvider, DeclaredName: declaredName, Tools: tools}
}

func peerHandle(url, cardName, addressableAs string, skills ...PeerSkill) *Handle {
	return &Handle{URL: url, Kind: KindPeerAgent, AgentCardName: cardName, AddressableAs: addressableAs, Skills: skills}
}

func TestRegistryAddToolProvider(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://calc"] = toolHandle("http://calc", "calc", ToolDescriptor{Name: "add", Description: "adds two numbers"})

	reg := New(fp)
	outcome, err := reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)
	assert.False(t, outcome.NoChange)
	assert.Equal(t, []string{"add"}, outcome.Handle.FunctionNames)

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, KindToolProvider, list[0].Kind)
	assert.Equal(t, []string{"add"}, list[0].Names)
}

func TestRegistryAddPeerAgentNamespacesUnconditionally(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.peers["http://helper"] = peerHandle("http://helper", "Helper", "helper", PeerSkill{Name: "summarize", Description: "summarizes text"})

	reg := New(fp)
	outcome, err := reg.Add(context.Background(), "http://helper")
	require.NoError(t, err)
	assert.Equal(t, []string{"helper__summarize"}, outcome.Handle.FunctionNames)
}

func TestRegistryToolCollisionIsPrefixed(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://a"] = toolHandle("http://a", "svcA", ToolDescriptor{Name: "search", Description: "search A"})
	fp.tools["http://b"] = toolHandle("http://b", "svcB", ToolDescriptor{Name: "search", Description: "search B"})

	reg := New(fp)
	_, err := reg.Add(context.Background(), "http://a")
	require.NoError(t, err)
	outcomeB, err := reg.Add(context.Background(), "http://b")
	require.NoError(t, err)

	assert.Equal(t, []string{"search"}, reg.List()[0].Names)
	assert.Equal(t, []string{"svcB__search"}, outcomeB.Handle.FunctionNames)
}

func TestRegistrySelfLoopRejected(t *testing.T) {
	fp := newFakeProber("http://self")
	reg := New(fp)

	_, err := reg.Add(context.Background(), "http://self")
	require.Error(t, err)
	assert.True(t, a2aerrors.Is(err, a2aerrors.KindReject))
	assert.Empty(t, reg.List())
}

// TestRegistryAddIsIdempotent covers spec section 8's round-trip law: add(u)
// applied twice yields the same installed set, with a second history entry
// recorded even though the registry did not grow.
func TestRegistryAddIsIdempotent(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://calc"] = toolHandle("http://calc", "calc", ToolDescriptor{Name: "add"})
	reg := New(fp)

	_, err := reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)
	outcome2, err := reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)

	assert.True(t, outcome2.NoChange)
	assert.Len(t, reg.List(), 1)
	assert.Len(t, reg.History(), 2)
}

// TestRegistryRemoveThenAddOnEmptyRegistryIsIdentity covers spec section 8's
// other round-trip law: remove(u) . add(u) on an empty registry restores the
// same observable state, modulo the audit trail growing.
func TestRegistryRemoveThenAddOnEmptyRegistryIsIdentity(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://calc"] = toolHandle("http://calc", "calc", ToolDescriptor{Name: "add"})
	reg := New(fp)

	_, err := reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)
	removed := reg.Remove("http://calc")
	require.True(t, removed)
	assert.Empty(t, reg.List())
	assert.Contains(t, fp.released, "http://calc")

	_, err = reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)
	assert.Len(t, reg.List(), 1)
}

// TestRegistryConcurrentAddCollapsesToOneProbe is the idempotency-under-
// concurrency testable property (spec section 8, property 3): N concurrent
// identical Add(url) calls install the capability exactly once.
func TestRegistryConcurrentAddCollapsesToOneProbe(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://calc"] = toolHandle("http://calc", "calc", ToolDescriptor{Name: "add"})
	reg := New(fp)

	const n = 32
	var wg sync.WaitGroup
	var successes int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Add(context.Background(), "http://calc"); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, n, successes)
	assert.Equal(t, 1, fp.probeCount["http://calc"])
	assert.Len(t, reg.List(), 1)
	assert.Equal(t, []string{"add"}, reg.List()[0].Names)
}

func TestRegistryListenerNotifiedOnAddAndRemove(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://calc"] = toolHandle("http://calc", "calc", ToolDescriptor{Name: "add"})
	reg := New(fp)

	var calls int32
	reg.Subscribe(func() { atomic.AddInt32(&calls, 1) })

	_, err := reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)
	reg.Remove("http://calc")

	assert.EqualValues(t, 2, calls)
}

func TestRegistryListenerNotNotifiedOnNoChangeAdd(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://calc"] = toolHandle("http://calc", "calc", ToolDescriptor{Name: "add"})
	reg := New(fp)

	var calls int32
	_, err := reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)
	reg.Subscribe(func() { atomic.AddInt32(&calls, 1) })

	_, err = reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)

	assert.EqualValues(t, 0, calls, "a no-change re-add must not fire the listener a second time")
}

// TestRegistrySnapshotDescriptionMatchesHistorySummary is the
// capability_summary/function-set equivalence testable property (spec
// section 8, property 6): the names Snapshot exposes to the turn executor
// exactly match the names recorded in the add's HistoryEntry.
func TestRegistrySnapshotDescriptionMatchesHistorySummary(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://calc"] = toolHandle("http://calc", "calc", ToolDescriptor{Name: "add", Description: "adds two numbers"})
	reg := New(fp)

	_, err := reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)

	hist := reg.History()
	require.Len(t, hist, 1)

	snap := reg.Snapshot()
	assert.ElementsMatch(t, snap.Names(), keysOf(hist[0].CapabilitySummary))
	for name, desc := range hist[0].CapabilitySummary {
		assert.Equal(t, desc, snap.Description(name))
	}
}

func TestRegistryInvokeUnknownCapability(t *testing.T) {
	fp := newFakeProber("http://self")
	reg := New(fp)
	snap := reg.Snapshot()

	_, err := reg.Invoke(context.Background(), snap, "nonexistent", nil)
	require.Error(t, err)
}

func TestRegistryInvokeDispatchesToProber(t *testing.T) {
	fp := newFakeProber("http://self")
	fp.tools["http://calc"] = toolHandle("http://calc", "calc", ToolDescriptor{Name: "add"})
	fp.invokeFn = func(ctx context.Context, h *Handle, functionName string, args map[string]any) (string, error) {
		return "sum:3", nil
	}
	reg := New(fp)
	_, err := reg.Add(context.Background(), "http://calc")
	require.NoError(t, err)

	snap := reg.Snapshot()
	result, err := reg.Invoke(context.Background(), snap, "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "sum:3", result)
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
