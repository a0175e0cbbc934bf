package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lcrostarosa/ploscope/server/jobs"
)

// JobStore implements jobs.Store on Postgres. Every transition guards
// on the expected prior status inside the UPDATE itself, so concurrent
// workers can race on the same job without skipping states.
type JobStore struct{ db *DB }

func NewJobStore(db *DB) *JobStore { return &JobStore{db: db} }

func (s *JobStore) CreateJob(ctx context.Context, job *jobs.Job) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO jobs(id, kind, status, user_id, payload, attempts, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, job.ID, string(job.Kind), string(job.Status), job.UserID, job.Payload,
		job.Attempts, job.CreatedAt, job.UpdatedAt)
	return err
}

func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	var j jobs.Job
	var kind, status string
	var result *json.RawMessage
	var lastError *string
	err := s.db.QueryRow(ctx, `
        SELECT id, kind, status, user_id, payload, result, attempts, last_error, created_at, updated_at
          FROM jobs WHERE id = $1
    `, id).Scan(&j.ID, &kind, &status, &j.UserID, &j.Payload, &result,
		&j.Attempts, &lastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobs.ErrNotFound
		}
		return nil, err
	}
	j.Kind = jobs.Kind(kind)
	j.Status = jobs.Status(status)
	if result != nil {
		j.Result = *result
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	return &j, nil
}

func (s *JobStore) transition(ctx context.Context, id uuid.UUID, from, to jobs.Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE jobs SET status = $3, updated_at = now()
         WHERE id = $1 AND status = $2
    `, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *JobStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transition(ctx, id, jobs.StatusQueued, jobs.StatusProcessing)
}

func (s *JobStore) MarkSucceeded(ctx context.Context, id uuid.UUID, result json.RawMessage) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE jobs SET status = $2, result = $3, updated_at = now()
         WHERE id = $1 AND status = $4
    `, id, string(jobs.StatusSucceeded), result, string(jobs.StatusProcessing))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx, `
        UPDATE jobs SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = now()
         WHERE id = $1 AND status = $4
        RETURNING attempts
    `, id, string(jobs.StatusFailed), lastError, string(jobs.StatusProcessing)).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Guard missed: read the current count rather than guess.
			j, gerr := s.GetJob(ctx, id)
			if gerr != nil {
				return 0, fmt.Errorf("mark failed: %w", gerr)
			}
			return j.Attempts, nil
		}
		return 0, err
	}
	return attempts, nil
}

func (s *JobStore) MarkQueued(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transition(ctx, id, jobs.StatusFailed, jobs.StatusQueued)
}

func (s *JobStore) MarkInterrupted(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transition(ctx, id, jobs.StatusProcessing, jobs.StatusQueued)
}

func (s *JobStore) MarkDeadLettered(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transition(ctx, id, jobs.StatusFailed, jobs.StatusDeadLettered)
}

func (s *JobStore) CancelJob(ctx context.Context, id uuid.UUID) error {
	ok, err := s.transition(ctx, id, jobs.StatusQueued, jobs.StatusCancelled)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return jobs.ErrNotCancellable
}
