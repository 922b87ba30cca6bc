// Package a2aserver implements the A2A Endpoint + Dispatcher (spec section
// 4.7): the HTTP surface, JSON-RPC 2.0 method routing table, and the
// well-known agent card endpoint. Grounded on the teacher's
// pkg/transport/rest_gateway.go (chi.Router serving a JSON-RPC 2.0 POST
// endpoint alongside a GET well-known-card route) and pkg/a2a/server.go's
// method-routing-table shape, rewritten around this runtime's own Task
// Manager, Turn Executor, and Capability Registry instead of the teacher's
// gRPC-gateway bridge.
package a2aserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
	"github.com/agentfabric/a2acore/internal/card"
	"github.com/agentfabric/a2acore/internal/httpjsonrpc"
	"github.com/agentfabric/a2acore/internal/obs"
	"github.com/agentfabric/a2acore/internal/registry"
	"github.com/agentfabric/a2acore/internal/session"
	"github.com/agentfabric/a2acore/internal/task"
	"github.com/agentfabric/a2acore/internal/turn"
)

// TurnDeadline bounds one turn's total wall-clock, per spec section 4.6.
const TurnDeadline = 60 * time.Second

// Server is the A2A HTTP endpoint.
type Server struct {
	logger       *slog.Logger
	tasks        *task.Manager
	sessions     *session.Store
	registry     *registry.Registry
	executor     *turn.Executor
	cards        *card.Builder
	prompt       turn.PromptBuilder
	turnDeadline time.Duration
}

// New wires an a2aserver.Server from its already-constructed dependencies.
func New(logger *slog.Logger, tasks *task.Manager, sessions *session.Store, reg *registry.Registry, executor *turn.Executor, cards *card.Builder, prompt turn.PromptBuilder) *Server {
	return &Server{
		logger:       logger,
		tasks:        tasks,
		sessions:     sessions,
		registry:     reg,
		executor:     executor,
		cards:        cards,
		prompt:       prompt,
		turnDeadline: TurnDeadline,
	}
}

// SetTurnDeadline overrides the per-turn wall-clock bound New defaulted to
// TurnDeadline, letting AgentConfig's turn_deadline_ms field (spec section
// 6) reach handleSend.
func (s *Server) SetTurnDeadline(d time.Duration) {
	if d > 0 {
		s.turnDeadline = d
	}
}

// Router builds the chi router exposing this server's HTTP surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/.well-known/agent-card.json", s.handleAgentCard)
	r.Post("/", s.handleJSONRPC)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.cards.Get())
}

// message is the wire shape of an inbound message/send params object.
// Content is decoded from either the current "content" string field or the
// legacy "parts" array, canonicalized here so nothing downstream ever sees
// the legacy shape (this repository's resolution of the message
// canonicalization open question).
type message struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content,omitempty"`
	Parts     []part `json:"parts,omitempty"`
}

type part struct {
	Text string `json:"text"`
}

func (m message) text() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for i, p := range m.Parts {
		if i > 0 {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

type sendParams struct {
	SessionID string  `json:"sessionId"`
	Message   message `json:"message"`
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req httpjsonrpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, a2aerrors.New(a2aerrors.KindProtocol, "malformed json-rpc request"))
		return
	}

	done := obs.RequestLogger(s.logger, req.Method)

	rawParams, err := json.Marshal(req.Params)
	if err != nil {
		s.writeError(w, req.ID, a2aerrors.New(a2aerrors.KindProtocol, "malformed json-rpc request"))
		return
	}

	result, err := s.dispatch(r.Context(), req.Method, rawParams)
	done(err)

	if err != nil {
		s.writeError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "message/send", "send-task":
		return s.handleSend(ctx, params)
	case "tasks/get":
		return s.handleTasksGet(params)
	case "tasks/cancel":
		return s.handleTasksCancel(params)
	case "tools/add", "agents/add":
		return s.handleCapabilityAdd(ctx, params)
	case "tools/remove", "agents/remove":
		return s.handleCapabilityRemove(params)
	case "tools/list", "agents/list":
		return s.handleCapabilityList()
	case "tools/history", "agents/history":
		return s.handleCapabilityHistory()
	default:
		return nil, a2aerrors.New(a2aerrors.KindProtocol, "method not found: "+method)
	}
}

func (s *Server) handleSend(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, a2aerrors.New(a2aerrors.KindProtocol, "malformed params: "+err.Error())
	}

	t := s.tasks.Create(p.SessionID, p.Message.text())
	if err := s.tasks.MarkWorking(t.ID); err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithTimeout(ctx, s.turnDeadline)
	s.tasks.BindCancel(t.ID, cancel)
	defer s.tasks.Unbind(t.ID)
	defer cancel()

	sess := s.sessions.GetOrCreate(p.SessionID)
	sess.Lock()
	doneLog := obs.TurnLogger(s.logger, p.SessionID, t.ID)
	reply, err := s.executor.Run(turnCtx, sess, p.Message.text(), s.prompt)
	sess.Unlock()
	doneLog(0, err)

	// A concurrent tasks/cancel already moved the task to its terminal
	// cancelled state; do not attempt a further transition (it would be an
	// illegal cancelled -> completed|failed move).
	snapshot := t.Snapshot()
	if snapshot.Status.IsTerminal() {
		return sendResult(snapshot.ID, string(snapshot.Status), snapshot.OutboundReply), nil
	}

	if err != nil {
		kind := a2aerrors.KindLLM
		if ae, ok := a2aerrors.As(err); ok {
			kind = ae.Kind
		}
		_ = s.tasks.Fail(t.ID, kind)
		return nil, err
	}

	if err := s.tasks.Complete(t.ID, reply); err != nil {
		return nil, err
	}
	return sendResult(t.ID, string(task.StatusCompleted), reply), nil
}

func sendResult(taskID, status, content string) map[string]any {
	return map[string]any{
		"taskId": taskID,
		"status": status,
		"result": map[string]any{
			"message": map[string]any{
				"role":    "agent",
				"content": content,
			},
		},
	}
}

type idParams struct {
	TaskID string `json:"taskId"`
}

func (s *Server) handleTasksGet(raw json.RawMessage) (any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, a2aerrors.New(a2aerrors.KindProtocol, "malformed params: "+err.Error())
	}
	t, err := s.tasks.Get(p.TaskID)
	if err != nil {
		return nil, err
	}
	snap := t.Snapshot()
	return map[string]any{
		"taskId":         snap.ID,
		"sessionId":      snap.SessionID,
		"status":         string(snap.Status),
		"createdAt":      snap.CreatedAt,
		"updatedAt":      snap.UpdatedAt,
		"inboundMessage": snap.InboundMessage,
		"outboundReply":  snap.OutboundReply,
	}, nil
}

func (s *Server) handleTasksCancel(raw json.RawMessage) (any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, a2aerrors.New(a2aerrors.KindProtocol, "malformed params: "+err.Error())
	}
	result, err := s.tasks.Cancel(p.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"taskId": p.TaskID, "status": string(result)}, nil
}

type urlParams struct {
	URL string `json:"url"`
}

func (s *Server) handleCapabilityAdd(ctx context.Context, raw json.RawMessage) (any, error) {
	var p urlParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, a2aerrors.New(a2aerrors.KindProtocol, "malformed params: "+err.Error())
	}
	outcome, err := s.registry.Add(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":       outcome.Handle.URL,
		"kind":      string(outcome.Handle.Kind),
		"functions": outcome.Handle.FunctionNames,
		"noChange":  outcome.NoChange,
	}, nil
}

func (s *Server) handleCapabilityRemove(raw json.RawMessage) (any, error) {
	var p urlParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, a2aerrors.New(a2aerrors.KindProtocol, "malformed params: "+err.Error())
	}
	removed := s.registry.Remove(p.URL)
	return map[string]any{"url": p.URL, "removed": removed}, nil
}

func (s *Server) handleCapabilityList() (any, error) {
	summaries := s.registry.List()
	out := make([]map[string]any, 0, len(summaries))
	for _, cs := range summaries {
		out = append(out, map[string]any{
			"url":          cs.URL,
			"kind":         string(cs.Kind),
			"names":        cs.Names,
			"descriptions": cs.Descriptions,
		})
	}
	return out, nil
}

func (s *Server) handleCapabilityHistory() (any, error) {
	entries := s.registry.History()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"action":            e.Action,
			"url":               e.URL,
			"timestamp":         e.Timestamp,
			"sessionPreserved":  e.SessionPreserved,
			"capabilitySummary": e.CapabilitySummary,
		})
	}
	return out, nil
}

func (s *Server) writeResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(httpjsonrpc.Response{
		JSONRPC: httpjsonrpc.Version,
		ID:      id,
		Result:  mustMarshal(result),
	})
}

func (s *Server) writeError(w http.ResponseWriter, id any, err error) {
	ae, ok := a2aerrors.As(err)
	if !ok {
		ae = a2aerrors.Wrap(a2aerrors.KindProtocol, err)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(httpjsonrpc.Response{
		JSONRPC: httpjsonrpc.Version,
		ID:      id,
		Error: &httpjsonrpc.Error{
			Code:    ae.Code(),
			Message: ae.Message,
			Data:    ae.Data,
		},
	})
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return data
}
