package granule

import (
	"errors"
	"fmt"
	"time"
)

// ErrSearch classifies all granule-search failures. Specific failures wrap it
// so callers can match the whole family with errors.Is.
var ErrSearch = errors.New("granule search")

// ErrNoNewData is returned when no appendable granules exist in the requested
// window. This is an expected, frequent outcome ("nothing to do"), not an
// operational failure; callers must branch on it rather than alarm.
var ErrNoNewData = fmt.Errorf("%w: no new data granules available", ErrSearch)

// DateOrderError reports a search window whose start does not precede its
// end. This never happens in normal operation; it indicates a bug in window
// computation.
type DateOrderError struct {
	Start time.Time
	End   time.Time
}

func (e *DateOrderError) Error() string {
	return fmt.Sprintf("granule search: window start %s is not before end %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *DateOrderError) Unwrap() error { return ErrSearch }
