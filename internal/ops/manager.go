package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the Operation registry and enforces the single-active
// admission rule. It is safe for concurrent use; polls are snapshot reads
// and never block on worker progress.
type Manager struct {
	mu        sync.Mutex
	ops       map[string]*operation
	order     []string // creation order
	activeID  string
	retention time.Duration
}

// NewManager creates a Manager. Terminal Operations stay queryable for at
// least retention; pruning happens on the next admission and always spares
// the most recent terminal entry, so a poller gets to observe the terminal
// snapshot it is waiting for.
func NewManager(retention time.Duration) *Manager {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Manager{
		ops:       make(map[string]*operation),
		retention: retention,
	}
}

// Start admits and launches an Operation. If another Operation is pending or
// running it returns an AlreadyRunningError carrying the active id and does
// not create a registry entry. parentCtx bounds the worker's context;
// cancelling it (e.g. on shutdown) cancels the Operation.
func (m *Manager) Start(parentCtx context.Context, typ Type, description string, body Body) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID != "" {
		return "", &AlreadyRunningError{ActiveID: m.activeID}
	}

	m.pruneLocked(time.Now())

	ctx, cancel := context.WithCancel(parentCtx)
	op := &operation{
		id:          uuid.NewString(),
		typ:         typ,
		description: description,
		state:       StatePending,
		startedAt:   time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	m.ops[op.id] = op
	m.order = append(m.order, op.id)
	m.activeID = op.id

	go m.run(ctx, op, body)

	slog.Info("operation admitted", "id", op.id, "type", typ, "description", description)
	return op.id, nil
}

// run executes the body and drives the Operation to exactly one terminal
// state. A panic in the body is recorded as failed; it never escapes past
// the Manager.
func (m *Manager) run(ctx context.Context, op *operation, body Body) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("operation panicked", "id", op.id, "type", op.typ, "panic", r)
			m.finish(op, StateFailed, nil, fmt.Sprintf("worker fault: %v", r))
		}
	}()

	m.mu.Lock()
	op.state = StateRunning
	m.mu.Unlock()

	result, err := body(&Tracker{m: m, op: op, ctx: ctx})

	switch {
	case err == nil:
		m.finish(op, StateCompleted, result, "")
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		var cerr *CancelledError
		var partial any
		if errors.As(err, &cerr) {
			partial = cerr.Partial
		}
		m.finish(op, StateCancelled, partial, "")
	default:
		m.finish(op, StateFailed, nil, err.Error())
	}
}

// finish records the terminal state. Once set, the Operation is immutable.
func (m *Manager) finish(op *operation, state State, result any, errMsg string) {
	m.mu.Lock()
	op.state = state
	op.finishedAt = time.Now()
	op.result = result
	op.errMsg = errMsg
	if state == StateCompleted {
		op.progress = 100
	}
	if m.activeID == op.id {
		m.activeID = ""
	}
	m.mu.Unlock()
	close(op.done)

	elapsed := op.finishedAt.Sub(op.startedAt).Round(time.Millisecond)
	switch state {
	case StateFailed:
		slog.Error("operation failed", "id", op.id, "type", op.typ, "elapsed", elapsed, "error", errMsg)
	default:
		slog.Info("operation finished", "id", op.id, "type", op.typ, "state", state, "elapsed", elapsed)
	}
}

// Cancel requests cooperative cancellation. It flips the flag and cancels
// the worker context; the state only changes when the worker honours the
// request at a checkpoint. Cancelling a terminal Operation is a no-op, not
// an error.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[id]
	if !ok {
		return ErrNoSuchOperation
	}
	if op.state.Terminal() {
		return nil
	}
	op.cancelRequested = true
	op.cancel()
	slog.Info("operation cancellation requested", "id", id, "type", op.typ)
	return nil
}

// Get returns the poll snapshot for id.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[id]
	if !ok {
		return Snapshot{}, ErrNoSuchOperation
	}
	return m.snapshotLocked(op), nil
}

// Active returns the non-terminal Operations in creation order. Operations
// belong to the Manager, not to any caller's connection, so a reconnecting
// client can resume observing work it did not start.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := []Snapshot{}
	for _, id := range m.order {
		if op := m.ops[id]; op != nil && !op.state.Terminal() {
			snaps = append(snaps, m.snapshotLocked(op))
		}
	}
	return snaps
}

// History returns every retained Operation, newest first.
func (m *Manager) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if op := m.ops[m.order[i]]; op != nil {
			snaps = append(snaps, m.snapshotLocked(op))
		}
	}
	return snaps
}

// Wait returns a channel closed when the Operation reaches a terminal
// state. Poll Get after it closes for the terminal snapshot.
func (m *Manager) Wait(id string) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[id]
	if !ok {
		return nil, ErrNoSuchOperation
	}
	return op.done, nil
}

func (m *Manager) snapshotLocked(op *operation) Snapshot {
	s := Snapshot{
		ID:                    op.id,
		Type:                  op.typ,
		Description:           op.description,
		State:                 op.state,
		Progress:              op.progress,
		Message:               op.message,
		StartedAt:             op.startedAt.UTC(),
		CancellationRequested: op.cancelRequested,
		Result:                op.result,
		Error:                 op.errMsg,
	}
	// Elapsed freezes at finish so repeated terminal polls are identical.
	if op.state.Terminal() {
		s.ElapsedSeconds = int64(op.finishedAt.Sub(op.startedAt).Seconds())
	} else {
		s.ElapsedSeconds = int64(time.Since(op.startedAt).Seconds())
	}
	return s
}

// pruneLocked evicts terminal Operations older than the retention window,
// always keeping the most recent terminal entry.
func (m *Manager) pruneLocked(now time.Time) {
	var newestTerminal string
	var newestAt time.Time
	for _, id := range m.order {
		op := m.ops[id]
		if op != nil && op.state.Terminal() && op.finishedAt.After(newestAt) {
			newestTerminal = id
			newestAt = op.finishedAt
		}
	}

	kept := m.order[:0]
	for _, id := range m.order {
		op := m.ops[id]
		if op == nil {
			continue
		}
		expired := op.state.Terminal() && id != newestTerminal &&
			now.Sub(op.finishedAt) > m.retention
		if expired {
			delete(m.ops, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// Tracker is the body's handle for progress reporting and cancellation
// checkpoints.
type Tracker struct {
	m   *Manager
	op  *operation
	ctx context.Context
}

// Context returns the Operation's context; it is cancelled together with
// the cancellation flag and on daemon shutdown.
func (t *Tracker) Context() context.Context {
	return t.ctx
}

// SetProgress reports progress in percent. Values are clamped to 0-100 and
// never move backwards, so concurrent pollers observe a monotonic sequence.
func (t *Tracker) SetProgress(pct int) {
	if pct > 100 {
		pct = 100
	}
	t.m.mu.Lock()
	if pct > t.op.progress {
		t.op.progress = pct
	}
	t.m.mu.Unlock()
}

// SetMessage replaces the Operation's status line.
func (t *Tracker) SetMessage(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.m.mu.Lock()
	t.op.message = msg
	t.m.mu.Unlock()
}

// Cancelled reports whether cancellation was requested. Bodies are expected
// to call this at safe points and return ErrCancelled (or a CancelledError
// with a partial result) when it fires.
func (t *Tracker) Cancelled() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.op.cancelRequested
}
