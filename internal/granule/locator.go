package granule

import (
	"context"
	"log/slog"
	"time"

	"floe/internal/logging"
)

// Locator finds granules eligible for appending: final-processing granules of
// the fixed collection within a time window, optionally truncated.
type Locator struct {
	searcher   Searcher
	collection string
	logger     *slog.Logger
}

// NewLocator creates a Locator over the given search collaborator.
func NewLocator(searcher Searcher, logger *slog.Logger) *Locator {
	logger = logging.Default(logger)
	return &Locator{
		searcher:   searcher,
		collection: Collection,
		logger:     logger.With("component", "locator"),
	}
}

// FindGranules returns the final-processing granules covering (start, end],
// in discovery order, truncated to the first *limit entries when limit is
// non-nil.
//
// Returns a *DateOrderError when start is not before end, and an error
// matching ErrNoNewData when the filtered, truncated result is empty. The
// latter includes limit == 0: a degenerate limit must look exactly like the
// natural zero-granule case to callers.
func (l *Locator) FindGranules(ctx context.Context, start, end time.Time, limit *int) ([]Record, error) {
	if !start.Before(end) {
		return nil, &DateOrderError{Start: start, End: end}
	}

	l.logger.Info("searching for granules",
		"collection", l.collection,
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339))

	found, err := l.searcher.Search(ctx, l.collection, start, end)
	if err != nil {
		return nil, err
	}

	final := make([]Record, 0, len(found))
	for _, rec := range found {
		if rec.Final {
			final = append(final, rec)
		}
	}
	l.logger.Info("granules found", "total", len(found), "final", len(final))

	if limit != nil && len(final) > *limit {
		l.logger.Info("limiting granules", "limit", *limit)
		final = final[:*limit]
	}

	if len(final) == 0 {
		l.logger.Warn("no valid granules found")
		return nil, ErrNoNewData
	}
	return final, nil
}
