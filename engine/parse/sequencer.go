package parse

import "sync"

// Sequencer assigns the monotonic per-session sequence number and causally
// ordered timestamp every TypedEvent carries (spec.md §4.2). It is the
// single point where cross-strategy ordering is enforced, so strategies
// themselves stay stateless with respect to sequencing and only accumulate
// per-message content.
type Sequencer struct {
	mu       sync.Mutex
	seq      map[string]int64
	lastTSms map[string]int64
}

// NewSequencer returns a ready-to-use Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{
		seq:      make(map[string]int64),
		lastTSms: make(map[string]int64),
	}
}

// Next returns the Common envelope for the next event in sessionID: its
// sequence number increments by exactly one, and its timestamp is baseMillis
// bumped forward by whole milliseconds if needed to stay strictly after the
// previous event stamped for this session.
func (s *Sequencer) Next(sessionID, eventID string, baseMillis int64) Common {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := baseMillis
	if prev, ok := s.lastTSms[sessionID]; ok && prev >= ts {
		ts = prev + 1
	}
	s.lastTSms[sessionID] = ts

	s.seq[sessionID]++
	return Common{SessionID: sessionID, EventID: eventID, Seq: s.seq[sessionID], Timestamp: ts}
}
