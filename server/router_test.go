package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcrostarosa/ploscope/server/credits"
	"github.com/lcrostarosa/ploscope/server/jobs"
	"github.com/lcrostarosa/ploscope/server/queue"
)

func newTestServer(t *testing.T) (*httptest.Server, *credits.Memory) {
	t.Helper()
	ledger := credits.NewMemory()
	broker := queue.NewMemory()
	t.Cleanup(broker.Close)
	svc := jobs.NewService(jobs.NewMemoryStore(), ledger, broker)
	srv := httptest.NewServer(Router(svc))
	t.Cleanup(srv.Close)
	return srv, ledger
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func validScenarioBody() map[string]any {
	return map[string]any{
		"user_id": "u1",
		"tier":    "free",
		"scenario": map[string]any{
			"hero":             []string{"As", "Ah", "Kd", "Qc"},
			"boards":           [][]string{{}},
			"random_opponents": 1,
			"iterations":       1000,
			"seed":             1,
		},
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["ok"])
}

func TestSubmitScenarioEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/scenarios", validScenarioBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "queued", body["status"])

	id, err := uuid.Parse(body["job_id"].(string))
	require.NoError(t, err)

	// The job is readable right away.
	getResp, err := http.Get(srv.URL + "/api/jobs/" + id.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	job := decode(t, getResp)
	assert.Equal(t, "simulation", job["kind"])
	assert.Equal(t, "u1", job["user_id"])
}

func TestSubmitScenarioInvalid(t *testing.T) {
	srv, _ := newTestServer(t)

	body := validScenarioBody()
	body["scenario"].(map[string]any)["hero"] = []string{"As", "Ah"}
	resp := postJSON(t, srv.URL+"/api/scenarios", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitScenarioOverQuota(t *testing.T) {
	srv, ledger := newTestServer(t)
	for i := 0; i < credits.TierFree.Limits().Daily; i++ {
		_, err := ledger.CheckAndReserve(context.Background(), "u1", credits.TierFree)
		require.NoError(t, err)
	}

	resp := postJSON(t, srv.URL+"/api/scenarios", validScenarioBody())
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, float64(25), body["day_limit"])
	assert.Equal(t, float64(25), body["day_used"])
}

func TestSubmitSolveEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/solves", map[string]any{
		"user_id": "u1",
		"tier":    "plus",
		"game": map[string]any{
			"board":           []string{"Qh", "Jh", "Th"},
			"hero":            []string{"Ah", "Kh", "2c", "3d"},
			"pot":             100,
			"effective_stack": 400,
		},
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/scenarios", validScenarioBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := decode(t, resp)["job_id"].(string)

	cresp := postJSON(t, srv.URL+"/api/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, cresp.StatusCode)
	cresp.Body.Close()

	// Second cancel conflicts; unknown job is a 404.
	cresp = postJSON(t, srv.URL+"/api/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, cresp.StatusCode)
	cresp.Body.Close()

	cresp = postJSON(t, srv.URL+"/api/jobs/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, cresp.StatusCode)
	cresp.Body.Close()
}

func TestJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/jobs/" + uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/jobs/not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCreditsEndpoint(t *testing.T) {
	srv, ledger := newTestServer(t)
	_, err := ledger.CheckAndReserve(context.Background(), "u1", credits.TierPro)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/credits/u1?tier=pro")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode(t, resp)
	assert.Equal(t, float64(1), snap["day_used"])
	assert.Equal(t, float64(2500), snap["day_limit"])
}
