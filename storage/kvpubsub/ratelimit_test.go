package kvpubsub

import "testing"

func TestToInt64(t *testing.T) {
	if v, ok := toInt64(int64(42)); !ok || v != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", v, ok)
	}
	if _, ok := toInt64("not an int"); ok {
		t.Fatal("expected ok=false for non-int64 value")
	}
}

func TestNewSlidingWindowLimiterStoresConfig(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 0, 500)
	if l.budgetCent != 500 {
		t.Fatalf("expected budget 500, got %d", l.budgetCent)
	}
}
