package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"nextcompete-api/config"
	"nextcompete-api/models"
)

// Eligibility is where a participant stands in a competition at a point in time.
type Eligibility struct {
	CurrentRound *models.Round `json:"currentRound"`
	NextRound    *models.Round `json:"nextRound"`
	IsEliminated bool          `json:"isEliminated"`
}

type ProgressionService struct {
	db     *gorm.DB
	rounds *RoundCache
}

func NewProgressionService(db *gorm.DB, rounds *RoundCache) *ProgressionService {
	if db == nil {
		db = config.DB
	}
	return &ProgressionService{db: db, rounds: rounds}
}

// ComputeEligibility derives the user's current and next round. The current round is the
// live one unless the user was eliminated; the next round comes from the latest submission
// when it was approved with a next round the user has not submitted to yet. When both name
// the same round only the current round is reported.
func (s *ProgressionService) ComputeEligibility(ctx context.Context, userID, competitionID uint, now time.Time) (*Eligibility, error) {
	rounds, err := s.rounds.Rounds(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Competition{}).
			Where("competition_id = ?", competitionID).Count(&n).Error; err != nil {
			return nil, errors.Wrap(err, "load competition")
		}
		if n == 0 {
			return nil, ErrCompetitionNotFound
		}
		return &Eligibility{}, nil
	}

	var subs []models.Submission
	if err := s.db.WithContext(ctx).
		Where("competition_id = ? AND user_id = ?", competitionID, userID).
		Find(&subs).Error; err != nil {
		return nil, errors.Wrap(err, "load submissions")
	}
	return eligibilityFrom(rounds, subs, now), nil
}

func eligibilityFrom(rounds []models.Round, subs []models.Submission, now time.Time) *Eligibility {
	position := make(map[uint]int, len(rounds))
	for _, r := range rounds {
		position[r.RoundID] = r.Position
	}
	submittedTo := make(map[uint]bool, len(subs))
	var latest *models.Submission
	for i := range subs {
		sub := &subs[i]
		submittedTo[sub.RoundID] = true
		if latest == nil ||
			position[sub.RoundID] > position[latest.RoundID] ||
			(position[sub.RoundID] == position[latest.RoundID] && sub.SubmittedAt.After(latest.SubmittedAt)) {
			latest = sub
		}
	}

	// latest sits in the furthest round reached, so no approved submission can follow it
	out := &Eligibility{IsEliminated: latest != nil && latest.Status == models.SubmissionRejected}

	if !out.IsEliminated {
		for i := range rounds {
			if StatusOf(rounds[i], now) == RoundLive {
				r := rounds[i]
				out.CurrentRound = &r
				break
			}
		}
	}

	if latest != nil && latest.Status == models.SubmissionApproved && latest.NextRoundID != nil && !submittedTo[*latest.NextRoundID] {
		for i := range rounds {
			if rounds[i].RoundID == *latest.NextRoundID {
				r := rounds[i]
				out.NextRound = &r
				break
			}
		}
	}

	if out.CurrentRound != nil && out.NextRound != nil && out.CurrentRound.RoundID == out.NextRound.RoundID {
		out.NextRound = nil
	}
	return out
}

// advancedInto reports whether the user may submit to round: anyone registered may enter the
// first round, later rounds need an approved submission in the previous round pointing at it.
func advancedInto(ctx context.Context, db *gorm.DB, userID uint, ordered []models.Round, round models.Round) (bool, error) {
	var prev *models.Round
	for i := range ordered {
		if ordered[i].Position >= round.Position {
			break
		}
		prev = &ordered[i]
	}
	if prev == nil {
		return true, nil
	}
	var n int64
	err := db.WithContext(ctx).Model(&models.Submission{}).
		Where("round_id = ? AND user_id = ? AND status = ? AND next_round_id = ?",
			prev.RoundID, userID, models.SubmissionApproved, round.RoundID).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "check advancement")
	}
	return n > 0, nil
}
