package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"

	"nextcompete-api/models"
)

func record(judge uint, status models.SubmissionStatus, scores map[string]float64) models.EvaluationRecord {
	return models.EvaluationRecord{JudgeID: judge, ResultingStatus: status, Scores: datatypes.NewJSONType(scores)}
}

func weightedRound(minJudges int) models.Round {
	return models.Round{
		Name:      "Proposal",
		MinJudges: minJudges,
		Criteria:  datatypes.NewJSONType(map[string]float64{"impact": 60, "feasibility": 40}),
	}
}

func TestAggregateEvaluationsMajority(t *testing.T) {
	round := weightedRound(1)
	agg := AggregateEvaluations([]models.EvaluationRecord{
		record(1, models.SubmissionApproved, map[string]float64{"impact": 80, "feasibility": 60}),
		record(2, models.SubmissionApproved, map[string]float64{"impact": 90, "feasibility": 90}),
		record(3, models.SubmissionRejected, map[string]float64{"impact": 30, "feasibility": 30}),
	}, round)
	if agg.Status != models.SubmissionApproved || agg.Approvals != 2 || agg.Rejections != 1 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
	// (72 + 90 + 30) / 3
	if agg.Score == nil || math.Abs(*agg.Score-64) > 1e-9 {
		t.Fatalf("score: %v", agg.Score)
	}
}

func TestAggregateEvaluationsTieStaysPending(t *testing.T) {
	agg := AggregateEvaluations([]models.EvaluationRecord{
		record(1, models.SubmissionApproved, nil),
		record(2, models.SubmissionRejected, nil),
		record(3, models.SubmissionPending, nil),
	}, weightedRound(1))
	if agg.Status != models.SubmissionPending {
		t.Fatalf("tie should stay pending, got %s", agg.Status)
	}
	if agg.Score != nil {
		t.Fatalf("records without scores should leave the score unset")
	}
}

func TestAggregateEvaluationsWaitsForMinJudges(t *testing.T) {
	round := weightedRound(3)
	records := []models.EvaluationRecord{
		record(1, models.SubmissionApproved, nil),
		record(2, models.SubmissionApproved, nil),
	}
	if agg := AggregateEvaluations(records, round); agg.Status != models.SubmissionPending {
		t.Fatalf("two of three judges should not decide, got %s", agg.Status)
	}
	records = append(records, record(3, models.SubmissionRejected, nil))
	if agg := AggregateEvaluations(records, round); agg.Status != models.SubmissionApproved {
		t.Fatalf("three judges should decide, got %s", agg.Status)
	}
}

func TestAggregateEvaluationsSkipsSuperseded(t *testing.T) {
	old := record(1, models.SubmissionApproved, nil)
	at := time.Now()
	old.SupersededAt = &at
	agg := AggregateEvaluations([]models.EvaluationRecord{old, record(1, models.SubmissionRejected, nil)}, weightedRound(1))
	if agg.Status != models.SubmissionRejected || agg.Judges != 1 {
		t.Fatalf("superseded record should not count: %+v", agg)
	}
}

func TestWeightedScoreFallsBackToMean(t *testing.T) {
	v, ok := weightedScore(map[string]float64{"style": 40, "clarity": 80}, map[string]float64{"impact": 100})
	if !ok || v != 60 {
		t.Fatalf("got %v %v", v, ok)
	}
	if _, ok := weightedScore(nil, nil); ok {
		t.Fatalf("no scores should produce no value")
	}
}

func TestRecordEvaluationAdvancesToNextRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})

	feedback := "strong proposal"
	res, err := f.evaluations.RecordEvaluation(ctx, f.judge, sub.SubmissionID, EvaluationInput{
		Scores:   map[string]float64{"impact": 80, "feasibility": 60},
		Status:   models.SubmissionApproved,
		Feedback: &feedback,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.Submission.Status != models.SubmissionApproved {
		t.Fatalf("status: %s", res.Submission.Status)
	}
	if res.Submission.NextRoundID == nil || *res.Submission.NextRoundID != f.r2.RoundID {
		t.Fatalf("approval in round 1 should point at round 2, got %v", res.Submission.NextRoundID)
	}
	if res.Submission.Feedback == nil || *res.Submission.Feedback != feedback {
		t.Fatalf("feedback not stored: %v", res.Submission.Feedback)
	}
	if res.Submission.AggregateScore == nil || math.Abs(*res.Submission.AggregateScore-72) > 1e-9 {
		t.Fatalf("aggregate score: %v", res.Submission.AggregateScore)
	}
	advanced := f.notifier.byEvent(EventSubmissionAdvanced)
	if len(advanced) != 1 || advanced[0].Data["next_round"] != "Prototype" {
		t.Fatalf("expected advanced notification, got %+v", advanced)
	}

	// the advanced participant can now enter round 2, and its approval is final
	f.at(f.r2.StartDate.Add(time.Hour))
	final := f.submit(t, f.alice, f.r2, nil, []string{"https://example.com/prototype"})
	res, err = f.evaluations.RecordEvaluation(ctx, f.judge, final.SubmissionID, EvaluationInput{
		Scores: map[string]float64{"quality": 90},
		Status: models.SubmissionApproved,
	})
	if err != nil {
		t.Fatalf("record final: %v", err)
	}
	if res.Submission.NextRoundID != nil {
		t.Fatalf("final round approval has no next round")
	}
	if len(f.notifier.byEvent(EventSubmissionApproved)) != 1 {
		t.Fatalf("expected approved notification for the final round")
	}
}

func TestRecordEvaluationRejectsUnknownCriterion(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})
	_, err := f.evaluations.RecordEvaluation(context.Background(), f.judge, sub.SubmissionID, EvaluationInput{
		Scores: map[string]float64{"charisma": 50, "impact": 101},
		Status: models.SubmissionApproved,
	})
	ve, ok := err.(*ValidationError)
	if !ok || len(ve.Violations) != 2 {
		t.Fatalf("expected two field violations, got %v", err)
	}
}

func TestRecordEvaluationPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})

	in := EvaluationInput{Scores: f.scoresFor(f.r1.RoundID, 50), Status: models.SubmissionApproved}
	if _, err := f.evaluations.RecordEvaluation(ctx, f.bob, sub.SubmissionID, in); !errors.Is(err, ErrNotJudge) {
		t.Fatalf("participant should not judge, got %v", err)
	}

	// an admin who entered the competition still cannot score their own entry
	admin := Principal{UserID: 1, Email: "admin@example.com", Name: "Ada", RoleID: models.RoleAdmin}
	if err := NewUserService(f.db).Sync(ctx, admin); err != nil {
		t.Fatalf("sync admin: %v", err)
	}
	if _, err := f.competitions.Register(ctx, admin, f.comp.CompetitionID); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	own := f.submit(t, admin, f.r1, nil, []string{"https://example.com/admin"})
	if _, err := f.evaluations.RecordEvaluation(ctx, admin, own.SubmissionID, in); !errors.Is(err, ErrSelfEvaluation) {
		t.Fatalf("expected ErrSelfEvaluation, got %v", err)
	}
}

func TestCompetingJudgeCannotJudgeRivals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rival := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})

	if _, err := f.competitions.Register(ctx, f.judge, f.comp.CompetitionID); err != nil {
		t.Fatalf("register judge: %v", err)
	}
	f.submit(t, f.judge, f.r1, nil, []string{"https://example.com/judge"})

	in := EvaluationInput{Scores: f.scoresFor(f.r1.RoundID, 10), Status: models.SubmissionRejected}
	if _, err := f.evaluations.RecordEvaluation(ctx, f.judge, rival.SubmissionID, in); !errors.Is(err, ErrNotJudge) {
		t.Fatalf("a competing judge must not score rivals, got %v", err)
	}
	got, err := f.submissions.Get(ctx, f.alice, rival.SubmissionID)
	if err != nil || got.Status != models.SubmissionPending {
		t.Fatalf("rival should stay pending: %+v %v", got, err)
	}
	if _, err := f.submissions.Get(ctx, f.judge, rival.SubmissionID); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("a competing judge must not read rivals, got %v", err)
	}
	if _, err := f.submissions.ListForRound(ctx, f.judge, f.r1.RoundID, ""); !errors.Is(err, ErrNotJudge) {
		t.Fatalf("a competing judge must not list the round, got %v", err)
	}
	if _, err := f.evaluations.Leaderboard(ctx, f.judge, f.r1.RoundID); !errors.Is(err, ErrNotJudge) {
		t.Fatalf("a competing judge must not see the leaderboard, got %v", err)
	}
	if _, err := f.competitions.ListParticipants(ctx, f.judge, f.comp.CompetitionID); !errors.Is(err, ErrNotOrganizer) {
		t.Fatalf("a competing judge must not list the roster, got %v", err)
	}
}

func TestRecordEvaluationSupersedesJudgesPreviousRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})

	for _, status := range []models.SubmissionStatus{models.SubmissionPending, models.SubmissionRejected} {
		if _, err := f.evaluations.RecordEvaluation(ctx, f.judge, sub.SubmissionID, EvaluationInput{
			Scores: f.scoresFor(f.r1.RoundID, 40),
			Status: status,
		}); err != nil {
			t.Fatalf("record %s: %v", status, err)
		}
	}
	records, err := f.evaluations.ListEvaluations(ctx, f.organizer, sub.SubmissionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].ResultingStatus != models.SubmissionRejected {
		t.Fatalf("expected only the latest record, got %+v", records)
	}
	var all int64
	f.db.Model(&models.EvaluationRecord{}).Where("submission_id = ?", sub.SubmissionID).Count(&all)
	if all != 2 {
		t.Fatalf("records are never deleted, found %d", all)
	}
}

func TestDecideSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})

	if _, err := f.evaluations.DecideSubmission(ctx, f.judge, sub.SubmissionID, DecisionInput{Status: models.SubmissionApproved}); !errors.Is(err, ErrNotOrganizer) {
		t.Fatalf("judge cannot override, got %v", err)
	}
	note := "out of scope"
	decided, err := f.evaluations.DecideSubmission(ctx, f.organizer, sub.SubmissionID, DecisionInput{Status: models.SubmissionRejected, Feedback: &note})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != models.SubmissionRejected || decided.NextRoundID != nil {
		t.Fatalf("unexpected decision result: %+v", decided)
	}
	if len(f.notifier.byEvent(EventSubmissionRejected)) != 1 {
		t.Fatalf("expected rejected notification")
	}
}

func TestLeaderboardOrdersByScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com/a"})
	b := f.submit(t, f.bob, f.r1, nil, []string{"https://example.com/b"})
	f.reject(t, a)
	f.approve(t, b)

	board, err := f.evaluations.Leaderboard(ctx, f.organizer, f.r1.RoundID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].SubmissionID != b.SubmissionID || board[0].Rank != 1 || board[1].Rank != 2 {
		t.Fatalf("unexpected order: %+v", board)
	}
	if _, err := f.evaluations.Leaderboard(ctx, f.alice, f.r1.RoundID); !errors.Is(err, ErrNotJudge) {
		t.Fatalf("participants cannot see the leaderboard, got %v", err)
	}
}
