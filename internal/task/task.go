// Package task implements the task lifecycle manager (spec section 4.5):
// submitted -> working -> completed|failed, with cancellation from either
// pending state. Grounded on the teacher's pkg/task, trimmed to the state
// machine this spec actually names (no input_required/auth_required/rejected
// states - those are Hector HITL extensions out of scope here).
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
)

// Status is one of the five lifecycle states named in spec section 3.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition of a task in this status
// is legal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the lifecycle record of one inbound A2A message.
type Task struct {
	ID             string
	SessionID      string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	InboundMessage string
	OutboundReply  string
	ErrorKind      a2aerrors.Kind

	mu sync.RWMutex
}

func newTask(sessionID, inbound string) *Task {
	now := time.Now()
	return &Task{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Status:         StatusSubmitted,
		CreatedAt:      now,
		UpdatedAt:      now,
		InboundMessage: inbound,
	}
}

// Snapshot returns a copy of the task's current fields, safe to read
// without further locking.
func (t *Task) Snapshot() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Task{
		ID:             t.ID,
		SessionID:      t.SessionID,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		InboundMessage: t.InboundMessage,
		OutboundReply:  t.OutboundReply,
		ErrorKind:      t.ErrorKind,
	}
}

// legalTransitions enumerates every allowed (from, to) pair. Any other pair
// is a programming error, not a runtime condition to recover from.
var legalTransitions = map[Status]map[Status]bool{
	StatusSubmitted: {StatusWorking: true, StatusCancelled: true},
	StatusWorking:   {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

func (t *Task) transition(to Status, reply string, errKind a2aerrors.Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := legalTransitions[t.Status]
	if !allowed[to] {
		panic("task: illegal state transition " + string(t.Status) + " -> " + string(to))
	}

	t.Status = to
	t.UpdatedAt = time.Now()
	if reply != "" {
		t.OutboundReply = reply
	}
	if errKind != "" {
		t.ErrorKind = errKind
	}
}

// Manager owns the lifecycle of every task in the process. Create and
// transition are linearizable per task id via the task's own mutex plus the
// manager's map lock for registration.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc
}

// NewManager creates an empty task manager.
func NewManager() *Manager {
	return &Manager{
		tasks:   make(map[string]*Task),
		cancels: make(map[string]context.CancelFunc),
	}
}

// BindCancel associates a running turn's cancel function with id, so a
// concurrent Cancel(id) can signal it cooperatively (spec section 5). The
// caller must call Unbind once the turn finishes, on every exit path.
func (m *Manager) BindCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[id] = cancel
}

// Unbind removes a task's cancel binding once its turn has finished.
func (m *Manager) Unbind(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
}

// Create registers a new task in the submitted state.
func (m *Manager) Create(sessionID, inbound string) *Task {
	t := newTask(sessionID, inbound)

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	return t
}

// IDs returns the id of every task the manager currently holds, in no
// particular order. Lets a caller that only knows a task's session (not its
// generated id) locate it - e.g. correlating an in-flight send with a
// concurrent cancel request.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Get looks up a task by id.
func (m *Manager) Get(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, a2aerrors.New(a2aerrors.KindNotFound, "no such task: "+id)
	}
	return t, nil
}

// MarkWorking transitions a submitted task to working.
func (m *Manager) MarkWorking(id string) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}
	t.transition(StatusWorking, "", "")
	return nil
}

// Complete transitions a working task to completed with the given reply.
func (m *Manager) Complete(id, reply string) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}
	t.transition(StatusCompleted, reply, "")
	return nil
}

// Fail transitions a working task to failed, recording the error kind.
func (m *Manager) Fail(id string, kind a2aerrors.Kind) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}
	t.transition(StatusFailed, "", kind)
	return nil
}

// CancelResult is the outcome of a cancel request.
type CancelResult string

const (
	CancelResultCancelled      CancelResult = "cancelled"
	CancelResultAlreadyTerminal CancelResult = "already_terminal"
)

// Cancel cancels a non-terminal task. Cancelling an already-terminal task is
// a no-op that reports AlreadyTerminal rather than erroring, per spec
// section 3's "distinguished result" requirement.
func (m *Manager) Cancel(id string) (CancelResult, error) {
	t, err := m.Get(id)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	if t.Status.IsTerminal() {
		t.mu.Unlock()
		return CancelResultAlreadyTerminal, nil
	}
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now()
	t.mu.Unlock()

	m.mu.RLock()
	cancel, ok := m.cancels[id]
	m.mu.RUnlock()
	if ok {
		cancel()
	}
	return CancelResultCancelled, nil
}
