package refstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"floe/internal/refstore/blob"
	blobs3 "floe/internal/refstore/blob/s3"
)

// openBackend dispatches on the target's scheme to produce a blob backend.
func openBackend(ctx context.Context, target, region string) (blob.Store, error) {
	switch {
	case strings.HasPrefix(target, "s3://"):
		parsed, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse store target: %w", err)
		}
		bucket := parsed.Host
		prefix := strings.Trim(parsed.Path, "/")
		if bucket == "" {
			return nil, fmt.Errorf("store target %q has no bucket", target)
		}
		return blobs3.Open(ctx, bucket, prefix, region)
	case target == "mem:" || strings.HasPrefix(target, "mem://"):
		return blob.NewMemory(), nil
	case target == "":
		return nil, fmt.Errorf("empty store target")
	default:
		return blob.NewFile(target)
	}
}
