package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrInvalidInterval is returned when an availability interval is empty,
	// reversed, all-day or crosses a day boundary.
	ErrInvalidInterval = errors.New("scheduler: invalid interval")
	// ErrInvalidDuration is returned when the minimum duration is not positive.
	ErrInvalidDuration = errors.New("scheduler: minimum duration must be positive")
	// ErrInvalidRange is returned when the bounding range is empty or reversed.
	ErrInvalidRange = errors.New("scheduler: range end must be after range start")
)

// Interval is a half-open [Start, End) span of reported availability.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// ParticipantIntervals carries one participant's availability. Submitted is
// false when the participant has not reported anything yet; an empty but
// submitted list means "never available".
type ParticipantIntervals struct {
	ParticipantID string
	Submitted     bool
	Intervals     []Interval
}

// Completeness describes how many participants have reported availability.
type Completeness string

const (
	CompletenessNoData   Completeness = "no_data"
	CompletenessPartial  Completeness = "partial"
	CompletenessComplete Completeness = "complete"
)

// Window is a maximal span where every submitting participant is available.
type Window struct {
	Start            time.Time
	End              time.Time
	ParticipantCount int
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Query describes an optimal window computation.
type Query struct {
	Participants   []ParticipantIntervals
	CandidateDates []Date
	MinDuration    time.Duration
	// RangeStart and RangeEnd bound every candidate date by wall-clock time.
	RangeStart *TimeOfDay
	RangeEnd   *TimeOfDay
	Location   *time.Location
}

// Result is the ranked output of ComputeOptimalWindows.
type Result struct {
	Windows      []Window
	Completeness Completeness
	Submitted    int
	Total        int
}

// ComputeOptimalWindows intersects the availability of every participant that
// submitted data and returns the maximal overlaps that fall on a candidate
// date, lie inside the bounding range and last at least MinDuration.
//
// Windows are ordered by participant count (desc), duration (desc) and start
// (asc). Runs are never split into MinDuration-sized chunks.
func ComputeOptimalWindows(q Query) (Result, error) {
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	if q.MinDuration <= 0 {
		return Result{}, ErrInvalidDuration
	}

	rangeStart, rangeEnd := TimeOfDay(0), EndOfDay
	if q.RangeStart != nil {
		rangeStart = *q.RangeStart
	}
	if q.RangeEnd != nil {
		rangeEnd = *q.RangeEnd
	}
	if rangeEnd <= rangeStart {
		return Result{}, ErrInvalidRange
	}

	submitters := make([][]Interval, 0, len(q.Participants))
	for _, p := range q.Participants {
		if !p.Submitted {
			continue
		}
		for idx, iv := range p.Intervals {
			if err := ValidateInterval(iv); err != nil {
				return Result{}, fmt.Errorf("participant %s interval %d: %w", p.ParticipantID, idx, err)
			}
		}
		submitters = append(submitters, mergeIntervals(p.Intervals))
	}

	result := Result{
		Submitted:    len(submitters),
		Total:        len(q.Participants),
		Completeness: completenessOf(len(submitters), len(q.Participants)),
	}

	if len(q.CandidateDates) == 0 {
		result.Completeness = CompletenessNoData
		return result, nil
	}
	if len(submitters) == 0 {
		return result, nil
	}

	runs := fullCoverageRuns(submitters)
	allowed := allowedSpans(q.CandidateDates, rangeStart, rangeEnd, loc)
	clipped := intersectSpans(runs, allowed)

	windows := make([]Window, 0, len(clipped))
	for _, span := range clipped {
		if span.Duration() < q.MinDuration {
			continue
		}
		windows = append(windows, Window{Start: span.Start, End: span.End, ParticipantCount: len(submitters)})
	}

	sort.SliceStable(windows, func(i, j int) bool {
		a, b := windows[i], windows[j]
		if a.ParticipantCount != b.ParticipantCount {
			return a.ParticipantCount > b.ParticipantCount
		}
		if a.Duration() != b.Duration() {
			return a.Duration() > b.Duration()
		}
		return a.Start.Before(b.Start)
	})

	if len(windows) > 0 {
		result.Windows = windows
	}
	return result, nil
}

// ValidateInterval rejects zero-length, reversed and all-day intervals as well
// as intervals that leave the day they start on.
func ValidateInterval(iv Interval) error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidInterval)
	}
	if !iv.End.After(iv.Start) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidInterval)
	}
	dayStart := DateOf(iv.Start).Start(iv.Start.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	if iv.Start.Equal(dayStart) && iv.End.Equal(dayEnd) {
		return fmt.Errorf("%w: all-day intervals are not allowed", ErrInvalidInterval)
	}
	if iv.End.After(dayEnd) || iv.Duration() >= 24*time.Hour {
		return fmt.Errorf("%w: interval must stay within %s", ErrInvalidInterval, DateOf(iv.Start))
	}
	return nil
}

// FreeIntervals returns the parts of span not covered by busy, in order.
// Busy intervals may overlap each other and extend past span.
func FreeIntervals(span Interval, busy []Interval) []Interval {
	if !span.End.After(span.Start) {
		return nil
	}
	var free []Interval
	cursor := span.Start
	for _, b := range mergeIntervals(busy) {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(span.End) {
			break
		}
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: b.Start})
		}
		cursor = b.End
		if !cursor.Before(span.End) {
			return free
		}
	}
	return append(free, Interval{Start: cursor, End: span.End})
}

func completenessOf(submitted, total int) Completeness {
	switch {
	case submitted == 0:
		return CompletenessNoData
	case submitted < total:
		return CompletenessPartial
	default:
		return CompletenessComplete
	}
}

// mergeIntervals sorts and coalesces overlapping or touching intervals so a
// participant never contributes more than one unit of coverage.
func mergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

type sweepEvent struct {
	at    time.Time
	delta int
}

// fullCoverageRuns sweeps +1/-1 boundary events and returns the maximal runs
// where every participant list covers the instant.
func fullCoverageRuns(participants [][]Interval) []Interval {
	need := len(participants)
	events := make([]sweepEvent, 0)
	for _, intervals := range participants {
		for _, iv := range intervals {
			events = append(events, sweepEvent{at: iv.Start, delta: 1}, sweepEvent{at: iv.End, delta: -1})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].at.Before(events[j].at)
	})

	var runs []Interval
	coverage := 0
	inRun := false
	var runStart time.Time
	for i := 0; i < len(events); {
		at := events[i].at
		for i < len(events) && events[i].at.Equal(at) {
			coverage += events[i].delta
			i++
		}
		full := coverage == need
		switch {
		case full && !inRun:
			runStart = at
			inRun = true
		case !full && inRun:
			runs = append(runs, Interval{Start: runStart, End: at})
			inRun = false
		}
	}
	return runs
}

// allowedSpans returns one span per distinct candidate date, bounded by the
// wall-clock range, in chronological order.
func allowedSpans(dates []Date, rangeStart, rangeEnd TimeOfDay, loc *time.Location) []Interval {
	unique := make([]Date, 0, len(dates))
	seen := make(map[Date]struct{}, len(dates))
	for _, d := range dates {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		unique = append(unique, d)
	}
	sort.Slice(unique, func(i, j int) bool {
		return unique[i].Before(unique[j])
	})

	spans := make([]Interval, 0, len(unique))
	for _, d := range unique {
		spans = append(spans, Interval{Start: rangeStart.On(d, loc), End: rangeEnd.On(d, loc)})
	}
	return spans
}

// intersectSpans intersects two sorted lists of disjoint spans.
func intersectSpans(a, b []Interval) []Interval {
	var out []Interval
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := laterOf(a[i].Start, b[j].Start)
		end := earlierOf(a[i].End, b[j].End)
		if end.After(start) {
			out = append(out, Interval{Start: start, End: end})
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
