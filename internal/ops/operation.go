package ops

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is an Operation lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Type tags the job body an Operation runs.
type Type string

const (
	TypeRescan             Type = "rescan"
	TypeHashGeneration     Type = "hash-generation"
	TypeChecksumGeneration Type = "checksum-generation"
	TypeDuplicateDeletion  Type = "duplicate-deletion"
	TypeCloudSync          Type = "cloud-sync"
)

// ValidType reports whether t names a known job body.
func ValidType(t Type) bool {
	switch t {
	case TypeRescan, TypeHashGeneration, TypeChecksumGeneration,
		TypeDuplicateDeletion, TypeCloudSync:
		return true
	}
	return false
}

// ErrNoSuchOperation is returned for ids the Manager does not know.
var ErrNoSuchOperation = errors.New("no such operation")

// ErrCancelled is returned by a body that observed the cancellation flag and
// stopped at a checkpoint. Wrap it in a CancelledError to keep a partial
// result.
var ErrCancelled = errors.New("operation cancelled")

// CancelledError carries the partial result a body accumulated before it
// honoured a cancellation request.
type CancelledError struct {
	Partial any
}

func (e *CancelledError) Error() string { return ErrCancelled.Error() }
func (e *CancelledError) Unwrap() error { return ErrCancelled }

// AlreadyRunningError rejects admission while another Operation is active.
// It carries the active id so callers can attach to that Operation instead
// of failing blind.
type AlreadyRunningError struct {
	ActiveID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("an operation is already running (id %s)", e.ActiveID)
}

// Snapshot is the immutable poll view of an Operation.
type Snapshot struct {
	ID                    string    `json:"id"`
	Type                  Type      `json:"type"`
	Description           string    `json:"description"`
	State                 State     `json:"state"`
	Progress              int       `json:"progress"`
	Message               string    `json:"message"`
	StartedAt             time.Time `json:"started_at"`
	ElapsedSeconds        int64     `json:"elapsed_seconds"`
	CancellationRequested bool      `json:"cancellation_requested"`
	Result                any       `json:"result,omitempty"`
	Error                 string    `json:"error,omitempty"`
}

// Body is the worker function of one Operation. It runs on its own
// goroutine; the Tracker is its only channel back to the Manager. The
// returned value becomes the completed Operation's result.
type Body func(t *Tracker) (any, error)

// operation is the Manager-owned record behind a Snapshot. All fields are
// guarded by the Manager mutex.
type operation struct {
	id          string
	typ         Type
	description string

	state      State
	progress   int
	message    string
	startedAt  time.Time
	finishedAt time.Time

	cancelRequested bool
	cancel          context.CancelFunc

	result any
	errMsg string

	done chan struct{}
}
