package services

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"nextcompete-api/models"
)

func TestUpsertCreatesAndRoundTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, f.alice, "proposal.pdf", 2*1024*1024)
	links := []string{"https://example.com/demo", "http://example.org/Deck?x=1"}

	sub := f.submit(t, f.alice, f.r1, []DraftFile{file}, links)
	if sub.Status != models.SubmissionPending || sub.Version != 1 {
		t.Fatalf("new submission: status %s version %d", sub.Status, sub.Version)
	}
	if sub.IsLate {
		t.Fatalf("on-time submission reported late")
	}

	got, err := f.submissions.Get(ctx, f.alice, sub.SubmissionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Files) != 1 || got.Files[0].PublicID != file.PublicID || got.Files[0].Size != file.Size {
		t.Fatalf("files not preserved: %+v", got.Files)
	}
	if len(got.Links) != 2 || got.Links[0] != links[0] || got.Links[1] != links[1] {
		t.Fatalf("links not preserved: %v", got.Links)
	}
	if got.Notes != "notes" {
		t.Fatalf("notes not preserved: %q", got.Notes)
	}

	received := f.notifier.byEvent(EventSubmissionReceived)
	if len(received) != 1 || received[0].UserID != f.alice.UserID || received[0].Data["round"] != "Proposal" {
		t.Fatalf("expected one submission_received notification, got %+v", received)
	}
}

func TestUpsertLateSubmissionRejected(t *testing.T) {
	f := newFixture(t)
	f.at(f.r1.EndDate.Add(2 * time.Hour))

	_, err := f.submissions.Upsert(context.Background(), f.alice, UpsertInput{
		CompetitionID: f.comp.CompetitionID,
		RoundID:       f.r1.RoundID,
		Links:         []string{"https://example.com"},
	})
	if !hasCode(violationCodes(err), ViolationDeadlinePassed) {
		t.Fatalf("expected deadline_passed, got %v", err)
	}
	if n := f.countSubmissions(t); n != 0 {
		t.Fatalf("no submission should be stored, found %d", n)
	}
}

func TestUpsertLateSubmissionAcceptedWhenAllowed(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Model(&models.Round{}).Where("round_id = ?", f.r1.RoundID).
		Update("accept_late_submissions", true).Error; err != nil {
		t.Fatalf("update round: %v", err)
	}
	f.rounds.Invalidate(f.comp.CompetitionID)
	f.at(f.r1.EndDate.Add(2 * time.Hour))

	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})
	if !sub.IsLate {
		t.Fatalf("submission after the deadline should be late")
	}
}

func TestUpsertRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	outsider := Principal{UserID: 99, Email: "out@example.com", RoleID: models.RoleParticipant}
	_, err := f.submissions.Upsert(context.Background(), outsider, UpsertInput{
		CompetitionID: f.comp.CompetitionID,
		RoundID:       f.r1.RoundID,
		Links:         []string{"https://example.com"},
	})
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestUpsertLaterRoundRequiresAdvancement(t *testing.T) {
	f := newFixture(t)
	f.at(f.r2.StartDate.Add(time.Hour))
	_, err := f.submissions.Upsert(context.Background(), f.alice, UpsertInput{
		CompetitionID: f.comp.CompetitionID,
		RoundID:       f.r2.RoundID,
		Links:         []string{"https://example.com"},
	})
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestUpsertRoundFromOtherCompetition(t *testing.T) {
	f := newFixture(t)
	_, err := f.submissions.Upsert(context.Background(), f.alice, UpsertInput{
		CompetitionID: f.comp.CompetitionID + 100,
		RoundID:       f.r1.RoundID,
		Links:         []string{"https://example.com"},
	})
	if !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("expected ErrRoundNotFound, got %v", err)
	}
}

func TestUpsertFileNotPersisted(t *testing.T) {
	f := newFixture(t)
	_, err := f.submissions.Upsert(context.Background(), f.alice, UpsertInput{
		CompetitionID: f.comp.CompetitionID,
		RoundID:       f.r1.RoundID,
		Files:         []DraftFile{{Name: "ghost.pdf", Size: 10, PublicID: "submission/30/missing.pdf"}},
	})
	if !hasCode(violationCodes(err), ViolationFileNotPersisted) {
		t.Fatalf("expected file_not_persisted, got %v", err)
	}
}

func TestUpsertRefusesAnotherUsersFile(t *testing.T) {
	f := newFixture(t)
	bobsFile := f.upload(t, f.bob, "bob.pdf", 1024)
	_, err := f.submissions.Upsert(context.Background(), f.alice, UpsertInput{
		CompetitionID: f.comp.CompetitionID,
		RoundID:       f.r1.RoundID,
		Files:         []DraftFile{bobsFile},
	})
	if !errors.Is(err, ErrNotAssetOwner) {
		t.Fatalf("expected ErrNotAssetOwner, got %v", err)
	}
}

func TestUpsertUsesStoredMetadata(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, f.alice, "proposal.pdf", 3*1024*1024)
	// a client claiming a smaller size does not get past the stored record
	file.Size = 1
	file.URL = "https://elsewhere.test/x"
	sub := f.submit(t, f.alice, f.r1, []DraftFile{file}, nil)
	if sub.Files[0].Size != 3*1024*1024 || sub.Files[0].URL == "https://elsewhere.test/x" {
		t.Fatalf("stored metadata not used: %+v", sub.Files[0])
	}
}

func TestUpsertReplacesAndChecksVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com/v1"})

	stale := first.Version
	updated, err := f.submissions.Upsert(ctx, f.alice, UpsertInput{
		CompetitionID:   f.comp.CompetitionID,
		RoundID:         f.r1.RoundID,
		Links:           []string{"https://example.com/v2"},
		ExpectedVersion: &stale,
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if updated.SubmissionID != first.SubmissionID || updated.Version != first.Version+1 {
		t.Fatalf("replace should keep the id and bump the version: %+v", updated.Submission)
	}
	if updated.Links[0] != "https://example.com/v2" {
		t.Fatalf("links not replaced: %v", updated.Links)
	}

	_, err = f.submissions.Upsert(ctx, f.alice, UpsertInput{
		CompetitionID:   f.comp.CompetitionID,
		RoundID:         f.r1.RoundID,
		Links:           []string{"https://example.com/v3"},
		ExpectedVersion: &stale,
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if n := f.countSubmissions(t); n != 1 {
		t.Fatalf("one submission per user and round, found %d", n)
	}
}

func TestUpsertAfterApprovalIsRefused(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})
	f.approve(t, sub)

	_, err := f.submissions.Upsert(context.Background(), f.alice, UpsertInput{
		CompetitionID: f.comp.CompetitionID,
		RoundID:       f.r1.RoundID,
		Links:         []string{"https://example.com/changed"},
	})
	if !errors.Is(err, ErrSubmissionFinalized) {
		t.Fatalf("expected ErrSubmissionFinalized, got %v", err)
	}
}

func TestResubmitAfterRejectionResetsToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})
	f.reject(t, sub)

	again := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com/better"})
	if again.Status != models.SubmissionPending {
		t.Fatalf("resubmission should be pending, got %s", again.Status)
	}
	if again.Feedback != nil || again.AggregateScore != nil {
		t.Fatalf("resubmission should clear the previous outcome: %+v", again.Submission)
	}

	records, err := f.evaluations.ListEvaluations(ctx, f.judge, sub.SubmissionID)
	if err != nil {
		t.Fatalf("list evaluations: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("previous evaluations should be superseded, %d remain", len(records))
	}

	var history []models.SubmissionStatusHistory
	if err := f.db.Where("submission_id = ?", sub.SubmissionID).Order("history_id ASC").Find(&history).Error; err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || history[2].NewStatus != models.SubmissionPending {
		t.Fatalf("expected created, rejected, resubmitted history, got %+v", history)
	}
}

func TestGetHidesOtherParticipantsSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com"})

	if _, err := f.submissions.Get(ctx, f.bob, sub.SubmissionID); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("other participant should not see it, got %v", err)
	}
	if _, err := f.submissions.Get(ctx, f.judge, sub.SubmissionID); err != nil {
		t.Fatalf("judge should see it: %v", err)
	}
	if _, err := f.submissions.Get(ctx, f.organizer, sub.SubmissionID); err != nil {
		t.Fatalf("organizer should see it: %v", err)
	}
}

func TestListForRoundFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.submit(t, f.alice, f.r1, nil, []string{"https://example.com/a"})
	f.submit(t, f.bob, f.r1, nil, []string{"https://example.com/b"})
	f.approve(t, a)

	all, err := f.submissions.ListForRound(ctx, f.judge, f.r1.RoundID, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	approved, err := f.submissions.ListForRound(ctx, f.judge, f.r1.RoundID, models.SubmissionApproved)
	if err != nil || len(approved) != 1 || approved[0].UserID != f.alice.UserID {
		t.Fatalf("approved: %+v %v", approved, err)
	}
	if _, err := f.submissions.ListForRound(ctx, f.bob, f.r1.RoundID, ""); !errors.Is(err, ErrNotJudge) {
		t.Fatalf("participant listing should be refused, got %v", err)
	}

	mine, err := f.submissions.ListMine(ctx, f.bob, f.comp.CompetitionID)
	if err != nil || len(mine) != 1 || mine[0].UserID != f.bob.UserID {
		t.Fatalf("mine: %+v %v", mine, err)
	}
}
