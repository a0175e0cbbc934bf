package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lcrostarosa/ploscope/server/equity"
	"github.com/lcrostarosa/ploscope/server/jobs"
	"github.com/lcrostarosa/ploscope/server/solver"
)

// Handler computes one job kind. The kind enum is closed, so the
// dispatcher holds exactly one handler per kind rather than
// inspecting payloads at runtime.
type Handler interface {
	Kind() jobs.Kind
	Handle(ctx context.Context, job *jobs.Job) (json.RawMessage, error)
}

// SimulationHandler runs the Monte-Carlo equity engine.
type SimulationHandler struct{}

func (SimulationHandler) Kind() jobs.Kind { return jobs.KindSimulation }

func (SimulationHandler) Handle(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var sc equity.Scenario
	if err := json.Unmarshal(job.Payload, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	res, err := equity.Simulate(ctx, sc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// SolverHandler runs the bounded regret-matching solver.
type SolverHandler struct{}

func (SolverHandler) Kind() jobs.Kind { return jobs.KindSolver }

func (SolverHandler) Handle(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var g solver.Game
	if err := json.Unmarshal(job.Payload, &g); err != nil {
		return nil, fmt.Errorf("decode solver game: %w", err)
	}
	sol, err := solver.Solve(ctx, g)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sol)
}
