package monitor

import (
	"time"

	"github.com/mmcdole/reel/internal/domain"
)

// Record is the in-memory health of one source. It is never persisted;
// only State is mirrored to the repository.
type Record struct {
	SourceID            string
	State               domain.ConnectionState
	LastCheck           time.Time
	ConsecutiveFailures int
	Interval            time.Duration // Wait between this check and the next
	LastSyncFailed      bool
	AuthRequired        bool
	Endpoint            domain.Endpoint
}

// NextCheck is when the record falls due again
func (r Record) NextCheck() time.Time {
	if r.LastCheck.IsZero() {
		return time.Time{}
	}
	return r.LastCheck.Add(r.Interval)
}

// Due reports whether a check should run at now
func (r Record) Due(now time.Time) bool {
	return !now.Before(r.NextCheck())
}

// reachableState is where a successful check lands
func (r Record) reachableState() domain.ConnectionState {
	if r.LastSyncFailed || r.AuthRequired {
		return domain.StateSyncFailed
	}
	return domain.StateConnected
}
