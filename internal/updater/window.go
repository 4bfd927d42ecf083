package updater

import "time"

// Granules of this collection cover 21:00 UTC of one date to 21:00 UTC of
// the next, so consecutive granules share the boundary instant. The window
// starts one second past 21:00 on the last ingested date: late enough to
// exclude the already-ingested granule, early enough to never skip the next.
const (
	boundaryHour     = 21
	boundaryStartSec = 1
)

// AppendWindow computes the granule search window for a store whose last
// published timestep is last: (lastDate 21:00:01 UTC, today 21:00:00 UTC].
func AppendWindow(last, now time.Time) (start, end time.Time) {
	lastDate := last.UTC()
	start = time.Date(lastDate.Year(), lastDate.Month(), lastDate.Day(),
		boundaryHour, 0, boundaryStartSec, 0, time.UTC)
	today := now.UTC()
	end = time.Date(today.Year(), today.Month(), today.Day(),
		boundaryHour, 0, 0, 0, time.UTC)
	return start, end
}
