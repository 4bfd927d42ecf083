package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"floe/internal/creds"
	"floe/internal/granule"
	"floe/internal/updater"
	"floe/internal/validator"
)

type fakeRunner struct {
	mu    sync.Mutex
	opts  []updater.RunOptions
	res   updater.Result
	err   error
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, opts updater.RunOptions) (updater.Result, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return updater.Result{}, ctx.Err()
		}
	}
	return f.res, f.err
}

func (f *fakeRunner) lastOpts(t *testing.T) updater.RunOptions {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opts) == 0 {
		t.Fatal("runner never invoked")
	}
	return f.opts[len(f.opts)-1]
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/update", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUpdateSuccess(t *testing.T) {
	runner := &fakeRunner{res: updater.Result{
		Outcome:  updater.OutcomeMerged,
		Message:  "Successfully updated store. Merged add_time_x into main.",
		Branch:   "add_time_x",
		Appended: 2,
	}}
	srv := New(runner, Config{RunTests: true})

	rec := post(t, srv.Handler(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp updateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "success" || resp.Appended != 2 {
		t.Errorf("response = %+v", resp)
	}
	if !runner.lastOpts(t).RunTests {
		t.Error("configured RunTests default not applied")
	}
}

func TestUpdateBodyOverrides(t *testing.T) {
	runner := &fakeRunner{res: updater.Result{Outcome: updater.OutcomeDryRunHeld}}
	srv := New(runner, Config{RunTests: true})

	rec := post(t, srv.Handler(), `{"run_tests": false, "dry_run": true, "limit_granules": 1, "branch": "add_time_manual"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	opts := runner.lastOpts(t)
	if opts.RunTests {
		t.Error("run_tests override lost")
	}
	if !opts.DryRun {
		t.Error("dry_run override lost")
	}
	if opts.LimitGranules == nil || *opts.LimitGranules != 1 {
		t.Errorf("limit = %v", opts.LimitGranules)
	}
	if opts.BranchName != "add_time_manual" {
		t.Errorf("branch = %q", opts.BranchName)
	}
}

func TestUpdateMalformedBody(t *testing.T) {
	runner := &fakeRunner{}
	srv := New(runner, Config{})

	rec := post(t, srv.Handler(), "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no new data", granule.ErrNoNewData, http.StatusUnprocessableEntity},
		{"date order", &granule.DateOrderError{}, http.StatusUnprocessableEntity},
		{"validation", &validator.Report{Failures: []string{"x"}}, http.StatusUnprocessableEntity},
		{"auth", creds.ErrAuth, http.StatusForbidden},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(&fakeRunner{err: tc.err}, Config{})
			rec := post(t, srv.Handler(), "")
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			var resp updateResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Status != "error" || resp.Error == "" {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestUpdateRejectsConcurrentRuns(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	srv := New(runner, Config{})
	h := srv.Handler()

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- post(t, h, "") }()

	// Wait for the first run to take the lock.
	deadline := time.Now().Add(2 * time.Second)
	for {
		runner.mu.Lock()
		started := len(runner.opts) > 0
		runner.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	rec := post(t, h, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("concurrent run status = %d, want %d", rec.Code, http.StatusConflict)
	}

	close(runner.block)
	if rec := <-done; rec.Code != http.StatusOK {
		t.Errorf("first run status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := New(&fakeRunner{}, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
