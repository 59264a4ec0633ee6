package services

import (
	"time"

	"nextcompete-api/models"
)

type RoundStatus string

const (
	RoundDraft     RoundStatus = "draft"
	RoundLive      RoundStatus = "live"
	RoundCompleted RoundStatus = "completed"
)

// ResolveRoundStatus derives a round's status from its window. Both bounds are inclusive, so
// a round whose start equals its end is live at exactly that instant. Unset dates resolve
// to draft.
func ResolveRoundStatus(start, end, now time.Time) RoundStatus {
	if start.IsZero() || end.IsZero() {
		return RoundDraft
	}
	switch {
	case now.Before(start):
		return RoundDraft
	case now.After(end):
		return RoundCompleted
	default:
		return RoundLive
	}
}

// StatusOf resolves the status of r at now.
func StatusOf(r models.Round, now time.Time) RoundStatus {
	return ResolveRoundStatus(r.StartDate, r.EndDate, now)
}

// ParseRoundWindow parses RFC 3339 bounds and enforces start <= end. Invalid dates are
// rejected here so they are never persisted.
func ParseRoundWindow(startRaw, endRaw string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, invalid("startDate", "startDate %q is not an RFC 3339 timestamp", startRaw)
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, invalid("endDate", "endDate %q is not an RFC 3339 timestamp", endRaw)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, ErrInvalidRoundWindow
	}
	return start, end, nil
}
