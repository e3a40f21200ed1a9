package domain

import (
	"testing"
	"time"
)

func TestOpenIntervalIsOpen(t *testing.T) {
	b := OpenInterval(time.UnixMilli(1000))
	if !b.IsOpen() {
		t.Fatal("freshly opened interval should be open")
	}
	if b.VTEnd != EndOfTime || b.TTEnd != EndOfTime {
		t.Fatal("open interval ends should be the EndOfTime sentinel")
	}
}

func TestCloseAtClosesOnlyTransactionTime(t *testing.T) {
	b := OpenInterval(time.UnixMilli(1000))
	closed := b.CloseAt(2000)
	if closed.IsOpen() {
		t.Fatal("closed interval should report not open")
	}
	if closed.VTEnd != EndOfTime {
		t.Fatal("CloseAt must not touch validity time")
	}
	if b.IsOpen() == closed.IsOpen() {
		t.Fatal("CloseAt must not mutate the receiver")
	}
}

func TestAsOf(t *testing.T) {
	b := Bitemporal{VTStart: 100, VTEnd: 200, TTStart: 100, TTEnd: 200}
	cases := []struct {
		t    int64
		want bool
	}{
		{50, false},
		{100, true},
		{150, true},
		{199, true},
		{200, false},
		{300, false},
	}
	for _, c := range cases {
		if got := b.AsOf(c.t); got != c.want {
			t.Errorf("AsOf(%d) = %v, want %v", c.t, got, c.want)
		}
	}
}

func TestAsOfRequiresBothDimensions(t *testing.T) {
	// valid in world but transaction-closed before t
	b := Bitemporal{VTStart: 0, VTEnd: EndOfTime, TTStart: 0, TTEnd: 50}
	if b.AsOf(100) {
		t.Fatal("a transaction-closed row must not be AsOf after its tt_end")
	}
}
