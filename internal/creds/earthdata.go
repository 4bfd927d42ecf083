package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultCredentialEndpoint is the production temporary-credential exchange
// for the archive holding this collection.
const DefaultCredentialEndpoint = "https://archive.podaac.earthdata.nasa.gov/s3credentials"

// Login holds the long-lived upstream account credentials.
type Login struct {
	Username string
	Password string
}

// EarthdataFetcher exchanges a login for short-lived S3 credentials via the
// provider's credential endpoint.
type EarthdataFetcher struct {
	endpoint string
	login    Login
	http     *http.Client
}

// NewEarthdataFetcher creates a fetcher against endpoint (empty means
// DefaultCredentialEndpoint).
func NewEarthdataFetcher(login Login, endpoint string) *EarthdataFetcher {
	if endpoint == "" {
		endpoint = DefaultCredentialEndpoint
	}
	return &EarthdataFetcher{
		endpoint: endpoint,
		login:    login,
		http: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// The exchange bounces through the login host, which the
				// default client treats as cross-host and strips auth for.
				req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				return nil
			},
		},
	}
}

type credentialResponse struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
	Expiration      string `json:"expiration"`
}

// Fetch obtains a fresh temporary credential set. Login rejections surface
// as ErrAuth-classified errors.
func (f *EarthdataFetcher) Fetch(ctx context.Context) (Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Credentials{}, err
	}
	req.SetBasicAuth(f.login.Username, f.login.Password)

	resp, err := f.http.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: credential endpoint: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Credentials{}, fmt.Errorf("%w: login rejected (%d)", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Credentials{}, fmt.Errorf("%w: credential endpoint returned %d: %s",
			ErrAuth, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Credentials{}, fmt.Errorf("%w: decode credential response: %v", ErrAuth, err)
	}
	if parsed.AccessKeyID == "" || parsed.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("%w: credential response missing keys", ErrAuth)
	}

	expires, err := time.Parse(time.RFC3339, parsed.Expiration)
	if err != nil {
		// Some deployments return a bare "2006-01-02 15:04:05+00:00" form.
		expires, err = time.Parse("2006-01-02 15:04:05-07:00", parsed.Expiration)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: bad expiration %q", ErrAuth, parsed.Expiration)
		}
	}

	return Credentials{
		AccessKeyID:     parsed.AccessKeyID,
		SecretAccessKey: parsed.SecretAccessKey,
		SessionToken:    parsed.SessionToken,
		ExpiresAt:       expires,
	}, nil
}
