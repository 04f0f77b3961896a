package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"desyncd/internal/config"
	"desyncd/internal/eventbus"
	"desyncd/internal/identity"
	"desyncd/internal/registry"
	"desyncd/internal/runner"
	"desyncd/internal/stats"
	"desyncd/internal/storage"
	"desyncd/pkg/logx"
)

func newTestServer(t *testing.T, jobs map[string]config.JobConfig, store storage.Store) (*Server, *stats.Service, eventbus.Bus) {
	t.Helper()

	bus := eventbus.New()
	run := runner.New(runner.Config{}, logx.Nop(), bus)
	run.Start(context.Background())
	t.Cleanup(func() { run.Stop(context.Background()) })

	id := identity.Identity{App: "payments", Host: "node-1"}
	reg := registry.New(registry.Config{Jobs: jobs}, id, run, logx.Nop(), bus)
	if err := reg.Start(); err != nil {
		t.Fatalf("registry start: %v", err)
	}
	t.Cleanup(reg.Stop)

	st := stats.New(bus, store, logx.Nop())
	st.Start(context.Background())
	t.Cleanup(st.Stop)

	return New(id, reg, st, store, logx.Nop()), st, bus
}

func getJSON(t *testing.T, h http.Handler, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, nil, nil)

	var body map[string]string
	rec := getJSON(t, srv.Handler(), http.MethodGet, "/api/health", &body)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", rec.Code, body)
	}
}

func TestStatusListsJobsAndErrors(t *testing.T) {
	t.Parallel()
	jobs := map[string]config.JobConfig{
		"good": {Type: config.JobTypeCron, Value: "0 0 * * * *"},
		"bad":  {Type: config.JobTypeDuration, Value: "not-a-duration"},
	}
	srv, _, _ := newTestServer(t, jobs, nil)

	var body statusResponse
	rec := getJSON(t, srv.Handler(), http.MethodGet, "/api/status", &body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body.App != "payments" || body.Host != "node-1" {
		t.Fatalf("identity = %s/%s", body.App, body.Host)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].JobID != "good" {
		t.Fatalf("jobs = %+v", body.Jobs)
	}
	if body.Jobs[0].Next.IsZero() {
		t.Fatal("scheduled job has no next fire time")
	}
	if _, ok := body.Errors["bad"]; !ok {
		t.Fatalf("errors = %v, want entry for bad", body.Errors)
	}
}

func TestStatsAndReset(t *testing.T) {
	t.Parallel()
	srv, _, bus := newTestServer(t, nil, nil)
	h := srv.Handler()

	bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Data: eventbus.JobEvent{JobID: "a", RunID: "r1"}})

	deadline := time.Now().Add(3 * time.Second)
	for {
		var snap stats.Snapshot
		getJSON(t, h, http.MethodGet, "/api/stats", &snap)
		if snap.Jobs["a"].Fired == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fired counter never observed over the API")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if rec := getJSON(t, h, http.MethodPost, "/api/reset", nil); rec.Code != http.StatusOK {
		t.Fatalf("reset = %d", rec.Code)
	}
	var snap stats.Snapshot
	getJSON(t, h, http.MethodGet, "/api/stats", &snap)
	if len(snap.Jobs) != 0 {
		t.Fatalf("stats after reset = %+v", snap.Jobs)
	}
}

func TestRunsEndpoint(t *testing.T) {
	t.Parallel()

	store, err := storage.Open(storage.Config{Driver: "sqlite", Path: t.TempDir() + "/runs.db"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rec := storage.RunRecord{At: time.Now(), RunID: "r1", JobID: "a", Duration: 5 * time.Millisecond, OK: true}
	if err := store.AppendRun(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	srv, _, _ := newTestServer(t, nil, store)

	var body struct {
		Runs []struct {
			RunID string `json:"run_id"`
			JobID string `json:"job_id"`
			OK    bool   `json:"ok"`
		} `json:"runs"`
	}
	resp := getJSON(t, srv.Handler(), http.MethodGet, "/api/runs?job=a", &body)
	if resp.Code != http.StatusOK || len(body.Runs) != 1 || body.Runs[0].RunID != "r1" || !body.Runs[0].OK {
		t.Fatalf("runs = %d %+v", resp.Code, body.Runs)
	}

	if resp := getJSON(t, srv.Handler(), http.MethodGet, "/api/runs?job=missing", &body); resp.Code != http.StatusOK {
		t.Fatalf("runs for unknown job = %d", resp.Code)
	}
}

func TestRunsDisabled(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, nil, nil)
	rec := getJSON(t, srv.Handler(), http.MethodGet, "/api/runs", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("runs without storage = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, nil, nil)
	rec := getJSON(t, srv.Handler(), http.MethodGet, "/api/reset", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/reset = %d, want 405", rec.Code)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, nil, nil)

	if err := srv.Start(Config{Enabled: false}); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	if srv.Addr() != "" {
		t.Fatal("disabled server reported an address")
	}

	if err := srv.Start(Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("no listen address after start")
	}

	resp, err := http.Get("http://" + addr + "/api/health")
	if err != nil {
		t.Fatalf("live request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("live health = %d", resp.StatusCode)
	}

	srv.Stop(context.Background())
	if srv.Addr() != "" {
		t.Fatal("address survived stop")
	}
	srv.Stop(context.Background())
}
