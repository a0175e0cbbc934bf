package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/lcrostarosa/ploscope/server/credits"
	"github.com/lcrostarosa/ploscope/server/equity"
	"github.com/lcrostarosa/ploscope/server/queue"
	"github.com/lcrostarosa/ploscope/server/solver"
)

// Service is the submission pipeline: validate, reserve credit,
// persist the job, enqueue. Validation failures never consume credit;
// a quota rejection is distinct and non-retryable.
type Service struct {
	store  Store
	ledger credits.Ledger
	broker queue.Broker
}

func NewService(store Store, ledger credits.Ledger, broker queue.Broker) *Service {
	return &Service{store: store, ledger: ledger, broker: broker}
}

// SubmitScenario accepts an equity simulation job.
func (s *Service) SubmitScenario(ctx context.Context, userID string, tier credits.Tier, sc equity.Scenario) (*Job, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return s.accept(ctx, userID, tier, KindSimulation, sc)
}

// SubmitSolve accepts a bounded strategy-solver job.
func (s *Service) SubmitSolve(ctx context.Context, userID string, tier credits.Tier, g solver.Game) (*Job, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return s.accept(ctx, userID, tier, KindSolver, g)
}

// accept runs the post-validation half: the credit reserve and the
// job row are the acceptance point; once both exist the credit is
// spent for good (never refunded, even if the job dead-letters).
func (s *Service) accept(ctx context.Context, userID string, tier credits.Tier, kind Kind, payload any) (*Job, error) {
	if _, err := s.ledger.CheckAndReserve(ctx, userID, tier); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    StatusQueued,
		UserID:    userID,
		Payload:   raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	msg := queue.Message{
		JobID:      job.ID,
		Kind:       string(kind),
		EnqueuedAt: now,
	}
	if err := s.broker.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	log.WithFields(log.Fields{
		"job_id": job.ID,
		"kind":   kind,
		"user":   userID,
	}).Info("job accepted")
	return job, nil
}

// Get returns the current job record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// Cancel is best-effort: it succeeds only while the job is still
// queued. A later delivery of a cancelled job is consumed and acked
// without computation.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.store.CancelJob(ctx, id)
}

// Credits returns the caller's ledger snapshot.
func (s *Service) Credits(ctx context.Context, userID string, tier credits.Tier) (credits.Snapshot, error) {
	return s.ledger.Snapshot(ctx, userID, tier)
}
