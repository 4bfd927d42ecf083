package creds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshableCachesUntilExpiry(t *testing.T) {
	var fetches atomic.Int32
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)

	p := NewRefreshable(func(context.Context) (Credentials, error) {
		n := fetches.Add(1)
		return Credentials{
			AccessKeyID:     "AKID",
			SecretAccessKey: "secret",
			SessionToken:    "tok",
			ExpiresAt:       now.Add(time.Duration(n) * time.Hour),
		}, nil
	})
	p.now = func() time.Time { return now }

	ctx := context.Background()
	first, err := p.Credentials(ctx)
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	second, _ := p.Credentials(ctx)
	if fetches.Load() != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetches.Load())
	}
	if first != second {
		t.Fatal("cached credentials should be returned")
	}

	// Move past expiry (minus slack) and expect a refresh.
	now = now.Add(56 * time.Minute)
	_, err = p.Credentials(ctx)
	if err != nil {
		t.Fatalf("Credentials after expiry: %v", err)
	}
	if fetches.Load() != 2 {
		t.Fatalf("expected refresh, got %d fetches", fetches.Load())
	}
}

func TestRefreshableClassifiesFailure(t *testing.T) {
	p := NewRefreshable(func(context.Context) (Credentials, error) {
		return Credentials{}, errors.New("login rejected")
	})
	_, err := p.Credentials(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestEarthdataFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "jane" || pass != "hunter2" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"accessKeyId": "AKID",
			"secretAccessKey": "secret",
			"sessionToken": "tok",
			"expiration": "2025-06-11T13:00:00Z"
		}`))
	}))
	defer srv.Close()

	f := NewEarthdataFetcher(Login{Username: "jane", Password: "hunter2"}, srv.URL)
	got, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.AccessKeyID != "AKID" || got.SessionToken != "tok" {
		t.Fatalf("unexpected credentials: %+v", got)
	}
	if !got.ExpiresAt.Equal(time.Date(2025, 6, 11, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("expiration = %v", got.ExpiresAt)
	}
}

func TestEarthdataFetchRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad login", http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewEarthdataFetcher(Login{Username: "jane", Password: "wrong"}, srv.URL)
	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestAWSProviderAdapts(t *testing.T) {
	exp := time.Date(2025, 6, 11, 13, 0, 0, 0, time.UTC)
	p := NewAWSProvider(NewStatic(Credentials{
		AccessKeyID:     "AKID",
		SecretAccessKey: "secret",
		SessionToken:    "tok",
		ExpiresAt:       exp,
	}))
	got, err := p.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.AccessKeyID != "AKID" || !got.CanExpire || !got.Expires.Equal(exp) {
		t.Fatalf("unexpected aws credentials: %+v", got)
	}
}
