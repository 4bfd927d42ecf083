package refbuild

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"floe/internal/creds"
)

// S3Fetcher fetches sidecars and byte ranges from s3:// URLs using a
// refreshable credential provider. Clients are cached per bucket.
type S3Fetcher struct {
	provider creds.Provider
	region   string

	mu      sync.Mutex
	clients map[string]*s3.Client
}

func NewS3Fetcher(provider creds.Provider, region string) *S3Fetcher {
	return &S3Fetcher{
		provider: provider,
		region:   region,
		clients:  make(map[string]*s3.Client),
	}
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f.get(ctx, rawURL, "")
}

func (f *S3Fetcher) FetchRange(ctx context.Context, rawURL string, offset, length uint64) ([]byte, error) {
	return f.get(ctx, rawURL, fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
}

func (f *S3Fetcher) get(ctx context.Context, rawURL, byteRange string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "s3" {
		return nil, fmt.Errorf("fetch %s: not an s3 URL", rawURL)
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(u.Path[1:]),
	}
	if byteRange != "" {
		in.Range = aws.String(byteRange)
	}
	out, err := f.client(u.Host).GetObject(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (f *S3Fetcher) client(bucket string) *s3.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[bucket]; ok {
		return c
	}
	cfg := aws.Config{Region: f.region}
	if f.provider != nil {
		cfg.Credentials = aws.NewCredentialsCache(creds.NewAWSProvider(f.provider))
	}
	c := s3.NewFromConfig(cfg)
	f.clients[bucket] = c
	return c
}
