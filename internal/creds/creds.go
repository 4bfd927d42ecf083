// Package creds provides upstream storage credentials: static sets and
// auto-refreshing providers backed by an Earthdata-style login exchange.
//
// A refreshable provider is a required seam, not an optimization: a writable
// store session can outlive the short-lived credentials used to resolve
// virtual chunk references, so every resolution path takes a Provider and
// never a raw credential set.
package creds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// ErrAuth classifies credential acquisition failures: upstream login
// rejections and refresh failures. Always fatal to the current attempt,
// never retried internally, and distinguishable from data/storage errors.
var ErrAuth = errors.New("authentication")

// refreshSlack renews credentials this long before their stated expiry.
const refreshSlack = 5 * time.Minute

// Credentials is one short-lived upstream credential set.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
}

// Expired reports whether the set is unusable at instant now, with renewal
// slack applied.
func (c Credentials) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(refreshSlack).Before(c.ExpiresAt)
}

// Provider supplies a usable credential set on demand.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static wraps a fixed credential set.
type Static struct {
	creds Credentials
}

// NewStatic creates a provider that always returns creds.
func NewStatic(creds Credentials) *Static {
	return &Static{creds: creds}
}

func (s *Static) Credentials(context.Context) (Credentials, error) {
	return s.creds, nil
}

// FetchFunc obtains a fresh credential set from the upstream provider.
type FetchFunc func(ctx context.Context) (Credentials, error)

// Refreshable caches a credential set and re-fetches it shortly before
// expiry. Safe for concurrent use.
type Refreshable struct {
	fetch FetchFunc
	now   func() time.Time

	mu     sync.Mutex
	cached Credentials
	valid  bool
}

// NewRefreshable creates a refreshing provider over fetch.
func NewRefreshable(fetch FetchFunc) *Refreshable {
	return &Refreshable{fetch: fetch, now: time.Now}
}

func (r *Refreshable) Credentials(ctx context.Context) (Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.valid && !r.cached.Expired(r.now()) {
		return r.cached, nil
	}
	fresh, err := r.fetch(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: refresh credentials: %v", ErrAuth, err)
	}
	r.cached, r.valid = fresh, true
	return fresh, nil
}

// AWSProvider adapts a Provider to the AWS SDK's credential provider
// interface so chunk-resolution S3 clients refresh transparently.
type AWSProvider struct {
	provider Provider
}

// NewAWSProvider wraps p for use as an aws.CredentialsProvider.
func NewAWSProvider(p Provider) *AWSProvider {
	return &AWSProvider{provider: p}
}

func (a *AWSProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	c, err := a.provider.Credentials(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	return aws.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		CanExpire:       !c.ExpiresAt.IsZero(),
		Expires:         c.ExpiresAt,
	}, nil
}
