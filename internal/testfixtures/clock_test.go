package testfixtures

import (
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
}

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, time.May, 1, 19, 0, 0, 0, Seoul())
	clock := NewClock(start)

	updated := clock.Advance(90 * time.Minute)
	if !updated.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}

	clock.Set(start.Add(2 * time.Hour))
	if got := clock.Now(); !got.Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("expected %v, got %v", start.Add(2*time.Hour), got)
	}
}

func TestClockStep(t *testing.T) {
	start := ReferenceTime()
	clock := NewClock(start)
	clock.Step(time.Second)

	first, second := clock.Now(), clock.Now()
	if !first.Equal(start) || !second.Equal(start.Add(time.Second)) {
		t.Fatalf("expected stepped readings, got %v then %v", first, second)
	}

	clock.Step(0)
	if a, b := clock.Now(), clock.Now(); !a.Equal(b) {
		t.Fatalf("expected frozen clock, got %v then %v", a, b)
	}
}

func TestClockExpireLease(t *testing.T) {
	start := ReferenceTime()
	clock := NewClock(start)

	if got := clock.ExpireLease(start, 2*time.Minute); !got.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("expected lease end, got %v", got)
	}
	if got := clock.ExpireLease(start, time.Minute); !got.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("expected clock to stay put for an already expired lease, got %v", got)
	}
}

func TestClockNowFunc(t *testing.T) {
	clock := NewClock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	nowFn := clock.NowFunc()

	clock.Advance(time.Minute)
	if got := nowFn(); !got.Equal(clock.Now()) {
		t.Fatalf("expected updated time %v, got %v", clock.Now(), got)
	}

	var nilClock *Clock
	if nilClock.NowFunc() == nil {
		t.Fatalf("expected fallback to time.Now for nil clock")
	}
}
