// Package turn implements the turn executor (spec section 4.6): the
// component that produces one assistant reply for one inbound user message
// by driving the LLM Adapter through zero or more capability invocations
// against the current registry snapshot. Grounded on the control-flow shape
// of teacher's pkg/agent/llmagent/flow.go (a bounded think-act-observe loop
// around a provider and a tool registry), rewritten around this system's
// narrower Adapter contract and its capability_call/capability_result
// history entries instead of the teacher's richer streaming event model.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
	"github.com/agentfabric/a2acore/internal/llm"
	"github.com/agentfabric/a2acore/internal/registry"
	"github.com/agentfabric/a2acore/internal/session"
)

// MaxToolCallsPerTurn bounds capability invocations in a single turn (spec
// section 4.6's recommended default).
const MaxToolCallsPerTurn = 16

// Prompt builds the system prompt for one turn. Kept as a narrow function
// value (not a full template engine) so AgentConfig's base prompt and
// personality fields compose with the registry-projected capability list
// the way spec section 4.6 step 2 describes, without this package needing
// to import agentconfig.
type PromptBuilder func(capabilities []CapabilitySummary) string

// CapabilitySummary is the (name, description) pair projected from a
// registry snapshot into the system prompt and the function signature list.
type CapabilitySummary struct {
	Name        string
	Description string
}

// Executor drives one turn at a time per session, per spec section 4.6.
type Executor struct {
	Adapter  llm.Adapter
	Registry *registry.Registry

	// MaxToolCalls overrides MaxToolCallsPerTurn for this executor when
	// positive, letting AgentConfig's max_tool_calls_per_turn field
	// (spec section 6) reach the loop below without changing New's
	// signature or its existing call sites.
	MaxToolCalls int
}

// New creates an Executor.
func New(adapter llm.Adapter, reg *registry.Registry) *Executor {
	return &Executor{Adapter: adapter, Registry: reg}
}

// Run executes one turn for sess: appends the user message, drives the
// think-act-observe loop against snap and the LLM adapter until a final
// answer or a fatal condition, and appends the final assistant reply.
//
// The caller must hold sess.Lock() for the duration of this call (spec
// section 5's per-session serialization guarantee is implemented by the
// Session Store's lock, not by this executor).
func (e *Executor) Run(ctx context.Context, sess *session.Session, userText string, buildPrompt PromptBuilder) (string, error) {
	sess.Append(session.ChatTurn{Role: session.RoleUser, Content: userText})

	snap := e.Registry.Snapshot()
	summaries := make([]CapabilitySummary, 0, len(snap.Names()))
	functions := make([]llm.FunctionSignature, 0, len(snap.Names()))
	for _, name := range snap.Names() {
		desc := snap.Description(name)
		summaries = append(summaries, CapabilitySummary{Name: name, Description: desc})
		functions = append(functions, llm.FunctionSignature{Name: name, Description: desc, Parameters: snap.Parameters(name)})
	}
	systemPrompt := buildPrompt(summaries)

	maxCalls := e.MaxToolCalls
	if maxCalls <= 0 {
		maxCalls = MaxToolCallsPerTurn
	}

	calls := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", a2aerrors.Wrap(a2aerrors.KindCancelled, err)
		}

		req := &llm.Request{
			SystemPrompt: systemPrompt,
			History:      toLLMHistory(sess.Snapshot()),
			Functions:    functions,
		}
		if dl, ok := ctx.Deadline(); ok {
			req.Deadline = dl
		}

		resp, err := e.Adapter.Complete(ctx, req)
		if err != nil {
			if deadlineExceeded(ctx) {
				return "", a2aerrors.New(a2aerrors.KindTimeout, "llm call exceeded turn deadline")
			}
			if ctx.Err() != nil {
				return "", a2aerrors.Wrap(a2aerrors.KindCancelled, ctx.Err())
			}
			return "", a2aerrors.Wrap(a2aerrors.KindLLM, err)
		}

		if resp.IsFinal() {
			sess.Append(session.ChatTurn{Role: session.RoleAssistant, Content: resp.FinalText})
			return resp.FinalText, nil
		}

		if calls >= maxCalls {
			return "", a2aerrors.New(a2aerrors.KindCapacityExceeded, fmt.Sprintf("exceeded %d capability invocations in one turn", maxCalls))
		}
		calls++

		call := resp.Call
		sess.Append(session.ChatTurn{
			Role:          session.RoleCapabilityCall,
			CapabilityKey: call.Name,
			Arguments:     call.Arguments,
		})

		callCtx, cancel := perCallContext(ctx)
		result, callErr := e.Registry.Invoke(callCtx, snap, call.Name, call.Arguments)
		cancel()

		if callErr != nil {
			if ctx.Err() != nil {
				return "", a2aerrors.Wrap(a2aerrors.KindCancelled, ctx.Err())
			}
			sess.Append(session.ChatTurn{
				Role:          session.RoleCapabilityResult,
				CapabilityKey: call.Name,
				Err:           callErr.Error(),
			})
			continue
		}

		sess.Append(session.ChatTurn{
			Role:          session.RoleCapabilityResult,
			CapabilityKey: call.Name,
			Result:        result,
		})
	}
}

// perCallContext derives a per-invocation deadline from whatever remains of
// the turn deadline, per spec section 4.6 step 4 ("per-call deadline =
// per-turn deadline / remaining"). With no turn deadline set, the call
// simply inherits ctx.
func perCallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	remaining := time.Until(dl)
	if remaining <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, remaining)
}

func deadlineExceeded(ctx context.Context) bool {
	dl, ok := ctx.Deadline()
	return ok && !time.Now().Before(dl)
}

var sessionToLLMRole = map[session.Role]llm.Role{
	session.RoleUser:             llm.RoleUser,
	session.RoleAssistant:        llm.RoleAssistant,
	session.RoleCapabilityCall:   llm.RoleCapabilityCall,
	session.RoleCapabilityResult: llm.RoleCapabilityResult,
}

func toLLMHistory(turns []session.ChatTurn) []llm.HistoryEntry {
	out := make([]llm.HistoryEntry, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.HistoryEntry{
			Role:          sessionToLLMRole[t.Role],
			Content:       t.Content,
			CapabilityKey: t.CapabilityKey,
			Arguments:     t.Arguments,
			Result:        t.Result,
			Err:           t.Err,
		})
	}
	return out
}
