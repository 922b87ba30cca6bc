// Package llm defines the turn executor's contract with a language model:
// a pure function-call request/response pair, deliberately narrower than a
// full chat-completions API. Grounded on the shape of teacher's
// pkg/llms.LLMProvider, trimmed to only what a turn needs (no streaming
// chunks, no structured-output config, no media parts) since spec.md
// section 4.6 defines the turn executor's loop purely in terms of "text or
// a function-call request", not a token-streaming exchange.
package llm

import (
	"context"
	"time"
)

// Role identifies the speaker of one entry in a request's history.
type Role string

const (
	RoleSystem          Role = "system"
	RoleUser            Role = "user"
	RoleAssistant       Role = "assistant"
	RoleCapabilityCall  Role = "capability_call"
	RoleCapabilityResult Role = "capability_result"
)

// HistoryEntry is one turn of conversation as presented to the model.
type HistoryEntry struct {
	Role    Role
	Content string

	// CapabilityKey/Arguments are set on RoleCapabilityCall entries.
	CapabilityKey string
	Arguments     map[string]any

	// Result/Err are set on RoleCapabilityResult entries.
	Result string
	Err    string
}

// FunctionSignature is one capability projected into the model's callable
// namespace, per the capability registry's Snapshot (spec section 4.3).
type FunctionSignature struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Request is everything the turn executor hands the model for one
// iteration of a turn: the system prompt, the history so far (including any
// capability-call/-result entries already produced this turn), and the
// currently available functions.
type Request struct {
	SystemPrompt string
	History      []HistoryEntry
	Functions    []FunctionSignature
	Deadline     time.Time
}

// FunctionCall is a model's request to invoke one capability.
type FunctionCall struct {
	Name      string
	Arguments map[string]any
}

// Response is the model's answer to one Request: either FinalText is set
// (the model is done), or Call is set (the model wants a capability
// invoked), never both.
type Response struct {
	FinalText string
	Call      *FunctionCall
}

// IsFinal reports whether this response concludes the turn.
func (r *Response) IsFinal() bool { return r.Call == nil }

// Adapter is the turn executor's view of a language model. Implementations
// translate Request/Response to whatever wire format a specific provider
// speaks.
type Adapter interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
