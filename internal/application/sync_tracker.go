package application

import (
	"context"
	"fmt"
	"time"

	"github.com/SonJH7/Yakssok/internal/google"
)

// reauthCodes are the failure codes that only a fresh consent can clear.
var reauthCodes = map[string]struct{}{
	google.CodeMissingRefreshToken:  {},
	google.CodeCalendarScopeMissing: {},
	google.CodeInsufficientScope:    {},
	google.CodeReauthRequired:       {},
}

// transientCodes are the failure codes picked up again by ResyncPending.
var transientCodes = []string{
	google.CodeRateLimited,
	google.CodeRequestFailed,
	google.CodeCalendarSyncFailed,
}

// NeedsReauth reports whether a sync error code can only be cleared by the
// user granting calendar access again.
func NeedsReauth(errorCode string) bool {
	_, ok := reauthCodes[errorCode]
	return ok
}

// Outcome is the result of one participant sync attempt.
type Outcome struct {
	Status    SyncStatus
	ErrorCode string
	EventID   string
}

// SyncTracker persists sync outcomes on participations.
type SyncTracker struct {
	participations ParticipationRepository
	now            func() time.Time
}

// NewSyncTracker wires a SyncTracker.
func NewSyncTracker(participations ParticipationRepository, now func() time.Time) *SyncTracker {
	if now == nil {
		now = time.Now
	}
	return &SyncTracker{participations: participations, now: now}
}

// RecordOutcome writes status, error code, timestamp and event id in a single
// update. Success and skipped outcomes clear any previous error code.
func (t *SyncTracker) RecordOutcome(ctx context.Context, participationID string, outcome Outcome) (SyncState, error) {
	if t == nil {
		return SyncState{}, fmt.Errorf("SyncTracker is nil")
	}
	switch outcome.Status {
	case SyncSuccess, SyncSkipped:
		outcome.ErrorCode = ""
	case SyncFailed:
		if outcome.ErrorCode == "" {
			outcome.ErrorCode = google.CodeCalendarSyncFailed
		}
	default:
		return SyncState{}, fmt.Errorf("sync tracker: cannot record status %q", outcome.Status)
	}

	at := t.now().UTC()
	state := SyncState{
		Status:    outcome.Status,
		ErrorCode: outcome.ErrorCode,
		SyncedAt:  &at,
		EventID:   outcome.EventID,
	}
	if err := t.participations.RecordSync(ctx, participationID, state); err != nil {
		return SyncState{}, mapRepoError(err, ErrNotFound)
	}
	return state, nil
}

// Summarize counts participations per sync status. Rows without a recorded
// attempt are pending.
func Summarize(participations []Participation) SyncSummary {
	summary := SyncSummary{Total: len(participations)}
	for _, p := range participations {
		switch p.Sync.Status {
		case SyncSuccess:
			summary.Success++
		case SyncSkipped:
			summary.Skipped++
		case SyncPending:
			summary.Pending++
		default:
			summary.Failed++
		}
	}
	return summary
}
