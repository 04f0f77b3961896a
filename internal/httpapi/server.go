// Package httpapi exposes a small operational HTTP surface: job status,
// execution counters and recent run history. It is read-mostly; the only
// mutation is resetting counters.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"desyncd/internal/identity"
	"desyncd/internal/registry"
	"desyncd/internal/stats"
	"desyncd/internal/storage"
	"desyncd/pkg/logx"
)

// Config controls the optional API listener.
type Config struct {
	Enabled    bool
	Addr       string
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8086"
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	return c
}

// Server manages lifecycle for the API listener.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string

	id    identity.Identity
	reg   *registry.Registry
	stats *stats.Service
	store storage.Store
}

func New(id identity.Identity, reg *registry.Registry, st *stats.Service, store storage.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		log:   log.With(logx.String("comp", "httpapi")),
		id:    id,
		reg:   reg,
		stats: st,
		store: store,
	}
}

// Start binds the listener and begins serving. No-op if cfg.Enabled is false.
func (s *Server) Start(cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled || s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	srv := &http.Server{
		Handler:           s.throttle(limiter, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("api server error", logx.String("addr", cfg.Addr), logx.Err(err))
		}
	}()
	s.log.Info("api listening", logx.String("addr", s.addr))
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return
	}
	srv := s.srv
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("api shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	s.log.Info("api stopped", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler builds the route table. Exposed separately so tests can exercise
// the routes without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	return mux
}

func (s *Server) throttle(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type jobStatus struct {
	JobID string    `json:"job_id"`
	Type  string    `json:"type,omitempty"`
	Value string    `json:"value,omitempty"`
	Next  time.Time `json:"next,omitzero"`
	Prev  time.Time `json:"prev,omitzero"`
}

type statusResponse struct {
	App    string            `json:"app"`
	Host   string            `json:"host"`
	Jobs   []jobStatus       `json:"jobs"`
	Errors map[string]string `json:"errors,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{App: s.id.App, Host: s.id.Host, Jobs: []jobStatus{}}
	for _, j := range s.reg.Jobs() {
		resp.Jobs = append(resp.Jobs, jobStatus{
			JobID: j.JobID,
			Type:  string(j.Type),
			Value: j.Value,
			Next:  j.Next,
			Prev:  j.Prev,
		})
	}
	if errs := s.reg.Errors(); len(errs) > 0 {
		resp.Errors = make(map[string]string, len(errs))
		for id, err := range errs {
			resp.Errors[id] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.stats.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "run history disabled", http.StatusNotFound)
		return
	}
	jobID := r.URL.Query().Get("job")
	runs, err := s.store.RecentRuns(r.Context(), jobID, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type runRow struct {
		At     time.Time `json:"at"`
		RunID  string    `json:"run_id"`
		JobID  string    `json:"job_id"`
		TookMS int64     `json:"took_ms"`
		OK     bool      `json:"ok"`
		Error  string    `json:"error,omitempty"`
	}
	rows := make([]runRow, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, runRow{
			At:     run.At,
			RunID:  run.RunID,
			JobID:  run.JobID,
			TookMS: run.Duration.Milliseconds(),
			OK:     run.OK,
			Error:  run.Error,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": rows})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
