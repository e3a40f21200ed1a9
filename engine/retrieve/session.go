package retrieve

import (
	"context"

	"github.com/rawcontext/engram/pkg/fn"
	"github.com/rawcontext/engram/storage/vector"
)

const (
	// DefaultTopSessions and DefaultTurnsPerSession match spec.md §4.5's
	// two-stage session-aware retrieval defaults.
	DefaultTopSessions     = 5
	DefaultTurnsPerSession = 3
)

// SessionResult is one turn row returned by the two-stage retrieval, with
// the originating session's id and summary score preserved alongside it
// (spec.md §4.5 "return with session context preserved on every row").
type SessionResult struct {
	SessionID    string
	SessionScore float32
	TurnID       string
	TurnScore    float32
	Payload      map[string]any
}

// SessionRetrieveOpts configures TwoStageRetrieve.
type SessionRetrieveOpts struct {
	TopSessions     int
	TurnsPerSession int
	Parallel        bool
}

// TwoStageRetrieve first finds the topSessions most relevant sessions by
// dense similarity over a session-summary projection, then fetches
// turnsPerSession turns from each matched session, merging the results with
// session context attached to every row. A single session's fetch failure
// does not fail the whole batch (spec.md §4.5 "Per-session failures do not
// fail the batch").
func TwoStageRetrieve(ctx context.Context, store vector.Store, queryDense []float32, opts SessionRetrieveOpts) ([]SessionResult, error) {
	if opts.TopSessions <= 0 {
		opts.TopSessions = DefaultTopSessions
	}
	if opts.TurnsPerSession <= 0 {
		opts.TurnsPerSession = DefaultTurnsPerSession
	}

	sessions, err := store.Search(ctx, vector.SearchRequest{
		Kind:    vector.KindTextDense,
		Dense:   queryDense,
		Limit:   opts.TopSessions,
		Filters: map[string]string{"type": "SessionSummary"},
	})
	if err != nil {
		return nil, err
	}

	fetch := func(s vector.SearchResult) []SessionResult {
		sessionID, _ := s.Payload["session_id"].(string)
		turns, err := store.Search(ctx, vector.SearchRequest{
			Kind:    vector.KindTextDense,
			Dense:   queryDense,
			Limit:   opts.TurnsPerSession,
			Filters: map[string]string{"type": "Turn", "session_id": sessionID},
		})
		if err != nil {
			return nil // per-session failure: contribute nothing, don't fail the batch
		}
		out := make([]SessionResult, len(turns))
		for i, turn := range turns {
			out[i] = SessionResult{
				SessionID:    sessionID,
				SessionScore: s.Score,
				TurnID:       turn.ID,
				TurnScore:    turn.Score,
				Payload:      turn.Payload,
			}
		}
		return out
	}

	var perSession [][]SessionResult
	if opts.Parallel {
		perSession = fn.ParMap(sessions, 0, fetch)
	} else {
		perSession = make([][]SessionResult, len(sessions))
		for i, s := range sessions {
			perSession[i] = fetch(s)
		}
	}

	return fn.Flatten(perSession), nil
}
