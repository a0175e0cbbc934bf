package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/ploscope/server/credits"
	"github.com/lcrostarosa/ploscope/server/engine"
	"github.com/lcrostarosa/ploscope/server/equity"
	"github.com/lcrostarosa/ploscope/server/queue"
	"github.com/lcrostarosa/ploscope/server/solver"
)

func cards(t *testing.T, s string) []engine.Card {
	t.Helper()
	cs, err := engine.ParseCards(s)
	require.NoError(t, err)
	return cs
}

func validScenario(t *testing.T) equity.Scenario {
	return equity.Scenario{
		Hero:            cards(t, "As Ah Kd Qc"),
		Boards:          [][]engine.Card{nil},
		RandomOpponents: 1,
		Iterations:      1000,
		Seed:            1,
	}
}

func newService() (*Service, *MemoryStore, *credits.Memory, *queue.Memory) {
	store := NewMemoryStore()
	ledger := credits.NewMemory()
	broker := queue.NewMemory()
	return NewService(store, ledger, broker), store, ledger, broker
}

func TestSubmitScenarioAccepted(t *testing.T) {
	ctx := context.Background()
	svc, store, ledger, broker := newService()

	job, err := svc.SubmitScenario(ctx, "u1", credits.TierFree, validScenario(t))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, KindSimulation, job.Kind)
	assert.Equal(t, "u1", job.UserID)
	assert.NotEmpty(t, job.Payload)

	// The row is persisted, the credit is spent, and the message is on
	// the right queue.
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	snap, err := ledger.Snapshot(ctx, "u1", credits.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.DayUsed)

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	del, err := broker.Receive(rctx, string(KindSimulation))
	require.NoError(t, err)
	assert.Equal(t, job.ID, del.JobID)
}

func TestSubmitInvalidConsumesNoCredit(t *testing.T) {
	ctx := context.Background()
	svc, _, ledger, _ := newService()

	_, err := svc.SubmitScenario(ctx, "u1", credits.TierFree, equity.Scenario{})
	require.ErrorIs(t, err, equity.ErrInvalid)

	_, err = svc.SubmitSolve(ctx, "u1", credits.TierFree, solver.Game{})
	require.ErrorIs(t, err, solver.ErrInvalid)

	snap, err := ledger.Snapshot(ctx, "u1", credits.TierFree)
	require.NoError(t, err)
	assert.Zero(t, snap.DayUsed)
}

func TestSubmitOverQuotaCreatesNoJob(t *testing.T) {
	ctx := context.Background()
	svc, _, ledger, broker := newService()

	lim := credits.TierFree.Limits()
	for i := 0; i < lim.Daily; i++ {
		_, err := ledger.CheckAndReserve(ctx, "u1", credits.TierFree)
		require.NoError(t, err)
	}

	_, err := svc.SubmitScenario(ctx, "u1", credits.TierFree, validScenario(t))
	require.ErrorIs(t, err, credits.ErrQuotaExceeded)

	rctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = broker.Receive(rctx, string(KindSimulation))
	assert.Error(t, err, "rejected submission must not enqueue")
}

func TestSubmitSolveAccepted(t *testing.T) {
	ctx := context.Background()
	svc, _, _, broker := newService()

	job, err := svc.SubmitSolve(ctx, "u1", credits.TierPlus, solver.Game{
		Board:          cards(t, "Qh Jh Th"),
		Hero:           cards(t, "Ah Kh 2c 3d"),
		Pot:            100,
		EffectiveStack: 400,
	})
	require.NoError(t, err)
	assert.Equal(t, KindSolver, job.Kind)

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	del, err := broker.Receive(rctx, string(KindSolver))
	require.NoError(t, err)
	assert.Equal(t, job.ID, del.JobID)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newService()

	job, err := svc.SubmitScenario(ctx, "u1", credits.TierFree, validScenario(t))
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, job.ID))
	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// Cancelled is terminal; a second cancel conflicts.
	assert.ErrorIs(t, svc.Cancel(ctx, job.ID), ErrNotCancellable)
	assert.ErrorIs(t, svc.Cancel(ctx, uuid.New()), ErrNotFound)

	// Processing jobs are past the cancellation point.
	job2, err := svc.SubmitScenario(ctx, "u1", credits.TierFree, validScenario(t))
	require.NoError(t, err)
	ok, err := store.MarkProcessing(ctx, job2.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ErrorIs(t, svc.Cancel(ctx, job2.ID), ErrNotCancellable)
}

func TestStoreTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := &Job{ID: uuid.New(), Kind: KindSimulation, Status: StatusQueued}
	require.NoError(t, store.CreateJob(ctx, job))

	// Claiming is exclusive: the second claim loses.
	ok, err := store.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Fail, retry, fail, dead-letter.
	attempts, err := store.MarkFailed(ctx, job.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	ok, err = store.MarkQueued(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	attempts, err = store.MarkFailed(ctx, job.ID, "boom again")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	ok, err = store.MarkDeadLettered(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLettered, got.Status)
	assert.Equal(t, "boom again", got.LastError)
	assert.True(t, got.Status.Terminal())
}

func TestMarkInterruptedKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := &Job{ID: uuid.New(), Kind: KindSolver, Status: StatusQueued}
	require.NoError(t, store.CreateJob(ctx, job))

	ok, err := store.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.MarkInterrupted(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Zero(t, got.Attempts, "shutdown must not count as a failed attempt")
}
