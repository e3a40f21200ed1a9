package aggregate

import (
	"sync"
	"time"

	"github.com/rawcontext/engram/engine/domain"
)

// TurnState is one state of the per-session turn-detection FSM (spec.md
// §4.3): Idle → Open → Closing → Idle.
type TurnState int

const (
	StateIdle TurnState = iota
	StateOpen
	StateClosing
)

// DefaultIdleTimeout closes an open turn after this much silence, regardless
// of an explicit UsageMarker ever arriving (spec.md §4.3 "any state + 30 min
// idle").
const DefaultIdleTimeout = 30 * time.Minute

// sessionTurn is the live FSM state for one session. Every field is guarded
// by mu; callers must hold it for the whole duration of a transition so a
// concurrent idle-sweep can't race a live event.
type sessionTurn struct {
	mu               sync.Mutex
	sessionID        string
	state            TurnState
	turnID           string
	ordinal          int // -1 until the first turn opens, so the first ordinal is 0 (spec.md §8)
	role             domain.TurnRole
	lastActivity     time.Time
	usageIn          int64
	usageOut         int64
	sessionStartedAt int64 // epoch ms of this session's first event; 0 until writeSessionLocked sets it
	sessionClosed    bool
}

// sessionTurns is a plain mutex-guarded map — the session cardinality this
// process handles at once is small enough that a single lock (unlike
// engine/parse's sharded Buffer, sized for per-chunk contention) is the
// simpler, adequate choice.
type sessionTurns struct {
	mu    sync.Mutex
	byID  map[string]*sessionTurn
}

func newSessionTurns() *sessionTurns {
	return &sessionTurns{byID: make(map[string]*sessionTurn)}
}

func (s *sessionTurns) get(sessionID string) *sessionTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[sessionID]
	if !ok {
		st = &sessionTurn{sessionID: sessionID, state: StateIdle, ordinal: -1, lastActivity: time.Now()}
		s.byID[sessionID] = st
	}
	return st
}

// idleSessions returns every session whose last activity is older than
// timeout and still has an open turn, for the idle-closing sweep.
func (s *sessionTurns) idleSessions(timeout time.Duration) []string {
	var ids []string
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.byID {
		st.mu.Lock()
		stale := st.state == StateOpen && now.Sub(st.lastActivity) > timeout
		st.mu.Unlock()
		if stale {
			ids = append(ids, id)
		}
	}
	return ids
}
