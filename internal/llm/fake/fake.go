// Package fake provides a scriptable llm.Adapter for tests: a fixed queue
// of responses returned in order, so a test can assert the turn executor's
// looping and history-threading behavior without a real model. Grounded on
// the teacher's own test-double pattern for LLMProvider (pkg/llms tests
// stub the provider with a canned response queue rather than mocking HTTP).
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentfabric/a2acore/internal/llm"
)

// Adapter replays a fixed sequence of responses, one per Complete call.
type Adapter struct {
	mu        sync.Mutex
	responses []*llm.Response
	calls     []*llm.Request
}

// New creates an Adapter that returns responses in order, one per call.
// Calling Complete more times than len(responses) is a test bug and panics
// immediately rather than silently returning a zero value.
func New(responses ...*llm.Response) *Adapter {
	return &Adapter{responses: responses}
}

func (a *Adapter) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, req)
	if len(a.responses) == 0 {
		panic(fmt.Sprintf("fake.Adapter: Complete called with no scripted response left (call #%d)", len(a.calls)))
	}

	resp := a.responses[0]
	a.responses = a.responses[1:]
	return resp, nil
}

// Requests returns every Request this adapter has received, in call order.
func (a *Adapter) Requests() []*llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*llm.Request, len(a.calls))
	copy(out, a.calls)
	return out
}

// Final builds a final-text response, a small convenience for test tables.
func Final(text string) *llm.Response {
	return &llm.Response{FinalText: text}
}

// Calling builds a function-call response, a small convenience for test
// tables.
func Calling(name string, args map[string]any) *llm.Response {
	return &llm.Response{Call: &llm.FunctionCall{Name: name, Arguments: args}}
}
