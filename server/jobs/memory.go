package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used in dev mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID]*Job)}
}

func (m *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.rows[job.ID] = &cp
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryStore) transition(id uuid.UUID, from Status, mutate func(*Job)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.rows[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != from {
		return false, nil
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, StatusQueued, func(j *Job) { j.Status = StatusProcessing })
}

func (m *MemoryStore) MarkSucceeded(ctx context.Context, id uuid.UUID, result json.RawMessage) (bool, error) {
	return m.transition(id, StatusProcessing, func(j *Job) {
		j.Status = StatusSucceeded
		j.Result = result
	})
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) (int, error) {
	var attempts int
	ok, err := m.transition(id, StatusProcessing, func(j *Job) {
		j.Status = StatusFailed
		j.Attempts++
		j.LastError = lastError
		attempts = j.Attempts
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.rows[id].Attempts, nil
	}
	return attempts, nil
}

func (m *MemoryStore) MarkQueued(ctx context.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, StatusFailed, func(j *Job) { j.Status = StatusQueued })
}

func (m *MemoryStore) MarkInterrupted(ctx context.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, StatusProcessing, func(j *Job) { j.Status = StatusQueued })
}

func (m *MemoryStore) MarkDeadLettered(ctx context.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, StatusFailed, func(j *Job) { j.Status = StatusDeadLettered })
}

func (m *MemoryStore) CancelJob(ctx context.Context, id uuid.UUID) error {
	ok, err := m.transition(id, StatusQueued, func(j *Job) { j.Status = StatusCancelled })
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCancellable
	}
	return nil
}
