// Package jobs owns the durable job model and the submission service
// that ties validation, the credit ledger, the store and the broker
// together.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind is a closed enum; the dispatcher holds one handler per kind.
type Kind string

const (
	KindSimulation Kind = "simulation"
	KindSolver     Kind = "solver"
)

func (k Kind) Valid() bool {
	return k == KindSimulation || k == KindSolver
}

// Status transitions are monotonic and driven only by the dispatcher
// (plus Cancel while still queued):
//
//	queued -> processing -> succeeded
//	                     -> failed -> queued (retry)
//	                               -> dead_lettered
//	queued -> cancelled
type Status string

const (
	StatusQueued       Status = "queued"
	StatusProcessing   Status = "processing"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal statuses never change again; their results (if any) are
// immutable.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusCancelled || s == StatusDeadLettered
}

var (
	ErrNotFound       = errors.New("job not found")
	ErrNotCancellable = errors.New("job is no longer cancellable")
)

// Job is the durable record; the queue message only references it.
type Job struct {
	ID        uuid.UUID       `json:"id"`
	Kind      Kind            `json:"kind"`
	Status    Status          `json:"status"`
	UserID    string          `json:"user_id"`
	Payload   json.RawMessage `json:"payload"`
	Result    json.RawMessage `json:"result,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists jobs. Transition methods carry their status guard in
// the write (matching the SQL implementation) so concurrent writers
// cannot skip states; each returns false when the guard did not match.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// MarkProcessing claims a queued job.
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkSucceeded upserts the result and finishes a processing job.
	// Redelivery of an already-succeeded job is a safe no-op (false).
	MarkSucceeded(ctx context.Context, id uuid.UUID, result json.RawMessage) (bool, error)

	// MarkFailed records a failed attempt and returns the new attempt
	// count.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) (int, error)

	// MarkQueued re-queues a failed job for its next attempt.
	MarkQueued(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkInterrupted returns a processing job to queued without
	// counting an attempt (worker shutdown path).
	MarkInterrupted(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkDeadLettered finishes a failed job permanently.
	MarkDeadLettered(ctx context.Context, id uuid.UUID) (bool, error)

	// CancelJob cancels a job only while it is still queued;
	// otherwise ErrNotCancellable (or ErrNotFound).
	CancelJob(ctx context.Context, id uuid.UUID) error
}
