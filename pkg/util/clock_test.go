package util

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewManualClock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now = %v, want %v", c.Now(), start)
	}

	got := <-c.After(5 * time.Second)
	if !got.Equal(start.Add(5 * time.Second)) {
		t.Errorf("After fired with %v", got)
	}
	if !c.Now().Equal(start) {
		t.Errorf("After moved the clock to %v", c.Now())
	}

	c.Advance(time.Minute)
	if c.Now().Unix() != start.Unix()+60 {
		t.Errorf("Advance: now = %d", c.Now().Unix())
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Set: now = %v", c.Now())
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug").String() != "debug" {
		t.Error("debug level not parsed")
	}
	if parseLevel("nonsense").String() != "info" {
		t.Error("unknown level should fall back to info")
	}
}
