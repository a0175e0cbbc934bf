package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lcrostarosa/ploscope/server/credits"
	"github.com/lcrostarosa/ploscope/server/equity"
	"github.com/lcrostarosa/ploscope/server/jobs"
	"github.com/lcrostarosa/ploscope/server/solver"
)

// Router exposes the thin inbound surface. Authentication and richer
// request plumbing belong to the API gateway in front of this
// service; user and tier arrive in the request body.
func Router(svc *jobs.Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Post("/api/scenarios", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			UserID   string          `json:"user_id"`
			Tier     credits.Tier    `json:"tier"`
			Scenario equity.Scenario `json:"scenario"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		job, err := svc.SubmitScenario(req.Context(), body.UserID, body.Tier, body.Scenario)
		respondSubmission(w, job, err, equity.ErrInvalid)
	})

	r.Post("/api/solves", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			UserID string       `json:"user_id"`
			Tier   credits.Tier `json:"tier"`
			Game   solver.Game  `json:"game"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		job, err := svc.SubmitSolve(req.Context(), body.UserID, body.Tier, body.Game)
		respondSubmission(w, job, err, solver.ErrInvalid)
	})

	r.Get("/api/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := uuid.Parse(chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		job, err := svc.Get(req.Context(), id)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	r.Post("/api/jobs/{id}/cancel", func(w http.ResponseWriter, req *http.Request) {
		id, err := uuid.Parse(chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		switch err := svc.Cancel(req.Context(), id); {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, jobs.ErrNotCancellable):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
	})

	r.Get("/api/credits/{user}", func(w http.ResponseWriter, req *http.Request) {
		tier := credits.Tier(req.URL.Query().Get("tier"))
		snap, err := svc.Credits(req.Context(), chi.URLParam(req, "user"), tier)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

// respondSubmission maps the three submission outcomes: accepted,
// invalid input (no credit consumed), quota exceeded (no job created).
func respondSubmission(w http.ResponseWriter, job *jobs.Job, err error, invalid error) {
	if err == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id": job.ID,
			"status": job.Status,
		})
		return
	}
	var qerr *credits.QuotaError
	if errors.As(err, &qerr) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":    "quota exceeded",
			"day_used": qerr.Snapshot.DayUsed, "day_limit": qerr.Snapshot.DayLimit,
			"month_used": qerr.Snapshot.MonthUsed, "month_limit": qerr.Snapshot.MonthLimit,
			"day_key": qerr.Snapshot.DayKey, "month_key": qerr.Snapshot.MonthKey,
		})
		return
	}
	if errors.Is(err, invalid) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
