// Package granule models discrete published source files (granules) and
// locates the ones eligible for appending to the store.
//
// A granule covers a bounded time span. Consecutive granules of this
// collection overlap at their boundaries; window arithmetic in the updater
// accounts for that, so the locator never deduplicates.
package granule

import (
	"context"
	"time"
)

// Collection is the fixed collection identifier this system ingests.
const Collection = "MUR-JPL-L4-GLOB-v4.1"

// AccessMode selects which access URL of a granule to use.
type AccessMode int

const (
	// AccessDirect resolves the in-region (same cloud partition) URL.
	AccessDirect AccessMode = iota
	// AccessExternal resolves the public, out-of-region URL.
	AccessExternal
)

func (m AccessMode) String() string {
	if m == AccessExternal {
		return "external"
	}
	return "direct"
}

// Record is one published source file. Immutable once returned by a search.
type Record struct {
	ID          string
	BeginTime   time.Time
	EndTime     time.Time
	DirectURL   string
	ExternalURL string
	// Final reports whether this granule is the reprocessed (durable) version.
	// Preliminary near-real-time granules are later replaced in place with
	// different data and must never be appended.
	Final bool
}

// URL resolves the access URL for the given mode. Falls back to the other
// mode's URL when the preferred one is absent.
func (r Record) URL(mode AccessMode) string {
	if mode == AccessExternal {
		if r.ExternalURL != "" {
			return r.ExternalURL
		}
		return r.DirectURL
	}
	if r.DirectURL != "" {
		return r.DirectURL
	}
	return r.ExternalURL
}

// Searcher is the external granule discovery collaborator. Implementations
// query a search service for all granules of a collection whose temporal
// coverage intersects (start, end] and return them in coverage order.
type Searcher interface {
	Search(ctx context.Context, collection string, start, end time.Time) ([]Record, error)
}
