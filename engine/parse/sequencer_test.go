package parse

import "testing"

func TestSequencerAssignsIncreasingSeqPerSession(t *testing.T) {
	s := NewSequencer()

	c1 := s.Next("sess-1", "ev-1", 1000)
	c2 := s.Next("sess-1", "ev-2", 1000)

	if c1.Seq != 1 || c2.Seq != 2 {
		t.Fatalf("expected seq 1 then 2, got %d then %d", c1.Seq, c2.Seq)
	}
	if c2.Timestamp <= c1.Timestamp {
		t.Fatalf("expected strictly increasing timestamps for a tie at baseMillis, got %d then %d", c1.Timestamp, c2.Timestamp)
	}
}

func TestSequencerIsIndependentAcrossSessions(t *testing.T) {
	s := NewSequencer()

	s.Next("sess-1", "ev-1", 1000)
	c := s.Next("sess-2", "ev-2", 1000)

	if c.Seq != 1 {
		t.Fatalf("expected a fresh session to start at seq 1, got %d", c.Seq)
	}
}
