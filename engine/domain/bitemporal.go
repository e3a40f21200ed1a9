package domain

import "time"

// EndOfTime is the sentinel value for an unclosed bitemporal interval: epoch
// milliseconds at 9999-12-31T23:59:59Z (spec.md §3.1).
const EndOfTime int64 = 253402300799000

// Bitemporal holds the four timestamps every persisted node and relationship
// carries: vt_* is validity in the world, tt_* is transaction time in the
// system. Corrections never overwrite a row; they close its tt interval and
// a new version is appended.
type Bitemporal struct {
	VTStart int64 `json:"vt_start"`
	VTEnd   int64 `json:"vt_end"`
	TTStart int64 `json:"tt_start"`
	TTEnd   int64 `json:"tt_end"`
}

// OpenInterval stamps a new Bitemporal record, open in both dimensions, at
// the given instant.
func OpenInterval(now time.Time) Bitemporal {
	ms := now.UnixMilli()
	return Bitemporal{VTStart: ms, VTEnd: EndOfTime, TTStart: ms, TTEnd: EndOfTime}
}

// IsOpen reports whether the transaction-time interval is still open
// (tt_end == EndOfTime).
func (b Bitemporal) IsOpen() bool { return b.TTEnd == EndOfTime }

// CloseAt returns a copy of b with its transaction-time interval closed at
// `at` (epoch ms). Used when a correction supersedes this version.
func (b Bitemporal) CloseAt(at int64) Bitemporal {
	b.TTEnd = at
	return b
}

// AsOf reports whether b was the valid, current version as of time t:
// vt_start <= t < vt_end AND tt_start <= t < tt_end (spec.md §3.1).
func (b Bitemporal) AsOf(t int64) bool {
	return b.VTStart <= t && t < b.VTEnd && b.TTStart <= t && t < b.TTEnd
}

// NowMillis is the default clock, exposed as a variable so tests can
// substitute a deterministic one.
var NowMillis = func() int64 { return time.Now().UnixMilli() }
