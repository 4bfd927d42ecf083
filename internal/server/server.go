// Package server exposes the update trigger over HTTP.
//
// The surface is deliberately small: POST /update starts a run and reports
// its outcome, GET /healthz answers liveness probes. Outcome classes map to
// status codes so callers can distinguish "nothing to do" from real failures
// without parsing messages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"floe/internal/creds"
	"floe/internal/granule"
	"floe/internal/logging"
	"floe/internal/updater"
	"floe/internal/validator"
)

// Runner starts an update run. Satisfied by *updater.Updater.
type Runner interface {
	Run(ctx context.Context, opts updater.RunOptions) (updater.Result, error)
}

// Config holds server configuration.
type Config struct {
	Logger *slog.Logger

	// Defaults applied to runs that do not override them in the request
	// body.
	RunTests      bool
	DryRun        bool
	LimitGranules *int
	// Parallel bounds concurrent reference builds per run.
	Parallel int
}

type Server struct {
	runner Runner
	cfg    Config
	logger *slog.Logger

	// runMu serializes update runs. Concurrent runs would race on branch
	// creation against the same tip.
	runMu sync.Mutex

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func New(runner Runner, cfg Config) *Server {
	return &Server{
		runner: runner,
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "server"),
	}
}

// Handler returns the route table. Exposed separately from Start for tests
// and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, usable after Start has begun listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, letting in-flight requests drain.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// updateRequest optionally overrides the configured run knobs.
type updateRequest struct {
	RunTests      *bool  `json:"run_tests"`
	DryRun        *bool  `json:"dry_run"`
	LimitGranules *int   `json:"limit_granules"`
	Branch        string `json:"branch"`
}

type updateResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Appended int    `json:"appended,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	// An empty body means "use the configured defaults".
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	opts := updater.RunOptions{
		RunTests:      s.cfg.RunTests,
		DryRun:        s.cfg.DryRun,
		LimitGranules: s.cfg.LimitGranules,
		Parallel:      s.cfg.Parallel,
		BranchName:    req.Branch,
	}
	if req.RunTests != nil {
		opts.RunTests = *req.RunTests
	}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}
	if req.LimitGranules != nil {
		opts.LimitGranules = req.LimitGranules
	}

	if !s.runMu.TryLock() {
		s.writeError(w, http.StatusConflict, "an update run is already in progress")
		return
	}
	defer s.runMu.Unlock()

	res, err := s.runner.Run(r.Context(), opts)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("update run failed", "status", status, "error", err)
		s.writeError(w, status, err.Error())
		return
	}

	s.logger.Info("update run finished",
		"outcome", res.Outcome.String(),
		"branch", res.Branch,
		"appended", res.Appended)
	s.writeJSON(w, http.StatusOK, updateResponse{
		Status:   "success",
		Message:  res.Message,
		Branch:   res.Branch,
		Appended: res.Appended,
	})
}

// statusFor classifies a run error. Data conditions (nothing new, failed
// validation, bad date ranges) are 422, credential problems 403, anything
// else 500.
func statusFor(err error) int {
	var report *validator.Report
	switch {
	case errors.Is(err, granule.ErrSearch):
		return http.StatusUnprocessableEntity
	case errors.As(err, &report):
		return http.StatusUnprocessableEntity
	case errors.Is(err, creds.ErrAuth):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, updateResponse{Status: "error", Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body updateResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
