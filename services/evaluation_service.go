package services

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nextcompete-api/config"
	"nextcompete-api/models"
)

var ErrSelfEvaluation = newError(KindForbidden, "judges cannot evaluate their own submission")

// EvaluationInput is one judge's verdict on a submission.
type EvaluationInput struct {
	Scores   map[string]float64      `json:"scoresByCriterion"`
	Status   models.SubmissionStatus `json:"resultingStatus" binding:"required,oneof=pending approved rejected"`
	Feedback *string                 `json:"feedback" binding:"omitempty,max=5000"`
}

// DecisionInput is an organizer override of a submission's status.
type DecisionInput struct {
	Status   models.SubmissionStatus `json:"status" binding:"required,oneof=approved rejected"`
	Feedback *string                 `json:"feedback" binding:"omitempty,max=5000"`
}

// Aggregate is the combined result of a submission's current evaluation records.
type Aggregate struct {
	Status     models.SubmissionStatus `json:"status"`
	Score      *float64                `json:"score"`
	Approvals  int                     `json:"approvals"`
	Rejections int                     `json:"rejections"`
	Judges     int                     `json:"judges"`
}

// LeaderboardEntry is one submission ranked by aggregate score.
type LeaderboardEntry struct {
	Rank           int                     `json:"rank"`
	SubmissionID   uint                    `json:"submissionId"`
	UserID         uint                    `json:"userId"`
	Status         models.SubmissionStatus `json:"status"`
	AggregateScore *float64                `json:"aggregateScore"`
}

// EvaluationResult is what recording an evaluation produced.
type EvaluationResult struct {
	Record     models.EvaluationRecord `json:"evaluation"`
	Aggregate  Aggregate               `json:"aggregate"`
	Submission models.Submission       `json:"submission"`
}

// weightedScore is the criterion-weighted mean of one record's scores, or the plain mean when
// no scored criterion carries a weight.
func weightedScore(scores, weights map[string]float64) (float64, bool) {
	if len(scores) == 0 {
		return 0, false
	}
	var sum, wsum float64
	for name, score := range scores {
		if w := weights[name]; w > 0 {
			sum += score * w
			wsum += w
		}
	}
	if wsum > 0 {
		return sum / wsum, true
	}
	for _, score := range scores {
		sum += score
	}
	return sum / float64(len(scores)), true
}

// AggregateEvaluations combines the current (non-superseded) records of one submission.
// The status is a majority vote among records that are not pending, decided only once at
// least the round's minimum number of judges have scored; a tie stays pending. The score is
// the mean of each judge's weighted score.
func AggregateEvaluations(records []models.EvaluationRecord, round models.Round) Aggregate {
	agg := Aggregate{Status: models.SubmissionPending}
	weights := round.CriteriaWeights()

	var total float64
	var scored int
	for _, r := range records {
		if r.SupersededAt != nil {
			continue
		}
		agg.Judges++
		switch r.ResultingStatus {
		case models.SubmissionApproved:
			agg.Approvals++
		case models.SubmissionRejected:
			agg.Rejections++
		}
		if v, ok := weightedScore(r.Scores.Data(), weights); ok {
			total += v
			scored++
		}
	}
	if scored > 0 {
		mean := total / float64(scored)
		agg.Score = &mean
	}

	minJudges := round.MinJudges
	if minJudges < 1 {
		minJudges = 1
	}
	if agg.Judges < minJudges {
		return agg
	}
	switch {
	case agg.Approvals > agg.Rejections:
		agg.Status = models.SubmissionApproved
	case agg.Rejections > agg.Approvals:
		agg.Status = models.SubmissionRejected
	}
	return agg
}

type EvaluationService struct {
	db       *gorm.DB
	rounds   *RoundCache
	notifier Notifier
	clock    Clock
}

func NewEvaluationService(db *gorm.DB, rounds *RoundCache, notifier Notifier) *EvaluationService {
	if db == nil {
		db = config.DB
	}
	return &EvaluationService{db: db, rounds: rounds, notifier: notifier}
}

func (s *EvaluationService) WithClock(c Clock) *EvaluationService {
	s.clock = c
	return s
}

type evaluationTarget struct {
	sub   models.Submission
	comp  models.Competition
	round models.Round
	next  *models.Round
}

func (s *EvaluationService) target(ctx context.Context, submissionID uint) (*evaluationTarget, error) {
	var t evaluationTarget
	err := s.db.WithContext(ctx).First(&t.sub, submissionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load submission")
	}
	if err := s.db.WithContext(ctx).First(&t.comp, t.sub.CompetitionID).Error; err != nil {
		return nil, errors.Wrap(err, "load competition")
	}
	round, err := s.rounds.Round(ctx, t.sub.CompetitionID, t.sub.RoundID)
	if err != nil {
		return nil, err
	}
	t.round = *round
	if t.next, err = s.rounds.Next(ctx, t.round); err != nil {
		return nil, err
	}
	return &t, nil
}

func checkScores(scores map[string]float64, round models.Round) error {
	weights := round.CriteriaWeights()
	var vs violations
	for name, score := range scores {
		if len(weights) > 0 {
			if _, ok := weights[name]; !ok {
				vs.add(ViolationInvalidField, "scoresByCriterion."+name, "%q is not a criterion of round %q", name, round.Name)
				continue
			}
		}
		if score < 0 || score > 100 {
			vs.add(ViolationInvalidField, "scoresByCriterion."+name, "score for %q must be between 0 and 100", name)
		}
	}
	return vs.err()
}

// applyOutcome moves the submission to status, guarded by its version. Approval advances it to
// the next round, if any; any other status clears the advancement.
func applyOutcome(tx *gorm.DB, t *evaluationTarget, status models.SubmissionStatus, score *float64, feedback *string, changedBy uint, reason string, now time.Time) error {
	updates := map[string]interface{}{
		"status":          status,
		"aggregate_score": score,
		"next_round_id":   nil,
		"version":         t.sub.Version + 1,
	}
	if status == models.SubmissionApproved && t.next != nil {
		updates["next_round_id"] = t.next.RoundID
	}
	if feedback != nil {
		updates["feedback"] = *feedback
	}
	res := tx.Model(&models.Submission{}).
		Where("submission_id = ? AND version = ?", t.sub.SubmissionID, t.sub.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	if status == t.sub.Status {
		return nil
	}
	old := t.sub.Status
	return tx.Create(&models.SubmissionStatusHistory{
		SubmissionID: t.sub.SubmissionID,
		OldStatus:    &old,
		NewStatus:    status,
		ChangedBy:    changedBy,
		Reason:       &reason,
		CreatedAt:    now,
	}).Error
}

func (s *EvaluationService) notifyOutcome(ctx context.Context, t *evaluationTarget, before models.SubmissionStatus, after models.Submission) {
	if after.Status == before || after.Status == models.SubmissionPending {
		return
	}
	data := map[string]string{"round": t.round.Name, "feedback": ""}
	if after.Feedback != nil {
		data["feedback"] = *after.Feedback
	}
	event := EventSubmissionRejected
	if after.Status == models.SubmissionApproved {
		event = EventSubmissionApproved
		if t.next != nil {
			event = EventSubmissionAdvanced
			data["next_round"] = t.next.Name
		}
	}
	id := after.SubmissionID
	s.notifier.Notify(ctx, NotificationEvent{UserID: after.UserID, Event: event, Data: data, RelatedSubmissionID: &id})
}

// RecordEvaluation stores a judge's scores, supersedes that judge's previous record and
// re-aggregates the submission's status.
func (s *EvaluationService) RecordEvaluation(ctx context.Context, p Principal, submissionID uint, in EvaluationInput) (*EvaluationResult, error) {
	t, err := s.target(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	judge, err := canJudge(ctx, s.db, p, t.comp)
	if err != nil {
		return nil, err
	}
	if !judge {
		return nil, ErrNotJudge
	}
	if t.sub.UserID == p.UserID {
		return nil, ErrSelfEvaluation
	}
	if !in.Status.Valid() {
		return nil, invalid("resultingStatus", "unknown status %q", in.Status)
	}
	if t.sub.Status == models.SubmissionApproved {
		return nil, ErrSubmissionFinalized
	}
	if err := checkScores(in.Scores, t.round); err != nil {
		return nil, err
	}

	now := s.clock.now()
	scores := in.Scores
	if scores == nil {
		scores = map[string]float64{}
	}
	record := models.EvaluationRecord{
		SubmissionID:    t.sub.SubmissionID,
		JudgeID:         p.UserID,
		Scores:          datatypes.NewJSONType(scores),
		Weight:          t.round.EvaluationWeight,
		ResultingStatus: in.Status,
		Feedback:        in.Feedback,
		CreateAt:        now,
	}

	var agg Aggregate
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EvaluationRecord{}).
			Where("submission_id = ? AND judge_id = ? AND superseded_at IS NULL", t.sub.SubmissionID, p.UserID).
			Update("superseded_at", now).Error; err != nil {
			return err
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		var current []models.EvaluationRecord
		if err := tx.Where("submission_id = ? AND superseded_at IS NULL", t.sub.SubmissionID).
			Find(&current).Error; err != nil {
			return err
		}
		agg = AggregateEvaluations(current, t.round)
		var feedback *string
		if agg.Status != models.SubmissionPending {
			feedback = in.Feedback
		}
		return applyOutcome(tx, t, agg.Status, agg.Score, feedback, p.UserID, "evaluation", now)
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, errors.Wrap(err, "record evaluation")
	}

	var after models.Submission
	if err := s.db.WithContext(ctx).Preload("Files", orderFiles).First(&after, submissionID).Error; err != nil {
		return nil, errors.Wrap(err, "reload submission")
	}
	config.Log.WithField("submission_id", submissionID).
		WithField("judge_id", p.UserID).
		WithField("status", after.Status).
		Info("evaluation recorded")
	s.notifyOutcome(ctx, t, t.sub.Status, after)
	return &EvaluationResult{Record: record, Aggregate: agg, Submission: after}, nil
}

// DecideSubmission lets the organizer set the outcome directly.
func (s *EvaluationService) DecideSubmission(ctx context.Context, p Principal, submissionID uint, in DecisionInput) (*models.Submission, error) {
	t, err := s.target(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !p.Organizes(t.comp) {
		return nil, ErrNotOrganizer
	}
	if in.Status != models.SubmissionApproved && in.Status != models.SubmissionRejected {
		return nil, invalid("status", "status must be approved or rejected")
	}
	if t.sub.Status == models.SubmissionApproved {
		return nil, ErrSubmissionFinalized
	}

	now := s.clock.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyOutcome(tx, t, in.Status, t.sub.AggregateScore, in.Feedback, p.UserID, "organizer decision", now)
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, errors.Wrap(err, "decide submission")
	}

	var after models.Submission
	if err := s.db.WithContext(ctx).Preload("Files", orderFiles).First(&after, submissionID).Error; err != nil {
		return nil, errors.Wrap(err, "reload submission")
	}
	s.notifyOutcome(ctx, t, t.sub.Status, after)
	return &after, nil
}

// ListEvaluations returns the current records of a submission to its organizer and judges.
func (s *EvaluationService) ListEvaluations(ctx context.Context, p Principal, submissionID uint) ([]models.EvaluationRecord, error) {
	t, err := s.target(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	judge, err := canJudge(ctx, s.db, p, t.comp)
	if err != nil {
		return nil, err
	}
	if !judge {
		return nil, ErrNotJudge
	}
	records := make([]models.EvaluationRecord, 0)
	err = s.db.WithContext(ctx).
		Where("submission_id = ? AND superseded_at IS NULL", submissionID).
		Order("create_at ASC").
		Find(&records).Error
	return records, errors.Wrap(err, "list evaluations")
}

// Leaderboard ranks a round's submissions by aggregate score; unscored ones come last.
func (s *EvaluationService) Leaderboard(ctx context.Context, p Principal, roundID uint) ([]LeaderboardEntry, error) {
	var round models.Round
	err := s.db.WithContext(ctx).First(&round, roundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load round")
	}
	var comp models.Competition
	if err := s.db.WithContext(ctx).First(&comp, round.CompetitionID).Error; err != nil {
		return nil, errors.Wrap(err, "load competition")
	}
	judge, err := canJudge(ctx, s.db, p, comp)
	if err != nil {
		return nil, err
	}
	if !judge {
		return nil, ErrNotJudge
	}

	var subs []models.Submission
	if err := s.db.WithContext(ctx).Where("round_id = ?", roundID).Find(&subs).Error; err != nil {
		return nil, errors.Wrap(err, "load submissions")
	}
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i].AggregateScore, subs[j].AggregateScore
		switch {
		case a == nil && b == nil:
			return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a > *b
		}
		return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
	})

	out := make([]LeaderboardEntry, 0, len(subs))
	for i, sub := range subs {
		out = append(out, LeaderboardEntry{
			Rank:           i + 1,
			SubmissionID:   sub.SubmissionID,
			UserID:         sub.UserID,
			Status:         sub.Status,
			AggregateScore: sub.AggregateScore,
		})
	}
	return out, nil
}
