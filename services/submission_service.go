package services

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nextcompete-api/config"
	"nextcompete-api/models"
	"nextcompete-api/utils"
)

// UpsertInput creates or replaces the caller's submission for a round.
type UpsertInput struct {
	CompetitionID   uint        `json:"competitionId" binding:"required"`
	RoundID         uint        `json:"roundId" binding:"required"`
	SubmissionID    *uint       `json:"-"`
	Notes           string      `json:"notes" binding:"max=20000"`
	Links           []string    `json:"links" binding:"max=50"`
	Files           []DraftFile `json:"files" binding:"max=50"`
	ExpectedVersion *int        `json:"version"`
}

// SubmissionView is a submission with its lateness computed against the owning round.
type SubmissionView struct {
	models.Submission
	IsLate bool `json:"isLate"`
}

func newSubmissionView(sub models.Submission, round models.Round) SubmissionView {
	if sub.Links == nil {
		sub.Links = datatypes.JSONSlice[string]{}
	}
	if sub.Files == nil {
		sub.Files = []models.SubmissionFile{}
	}
	return SubmissionView{Submission: sub, IsLate: sub.IsLate(round)}
}

func orderFiles(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }

type SubmissionService struct {
	db       *gorm.DB
	rounds   *RoundCache
	notifier Notifier
	clock    Clock
}

func NewSubmissionService(db *gorm.DB, rounds *RoundCache, notifier Notifier) *SubmissionService {
	if db == nil {
		db = config.DB
	}
	return &SubmissionService{db: db, rounds: rounds, notifier: notifier}
}

func (s *SubmissionService) WithClock(c Clock) *SubmissionService {
	s.clock = c
	return s
}

// resolveFiles replaces client-reported file metadata with what storage confirmed. persisted
// holds the confirmed files; checked is every file in draft order for the rules check, with
// unconfirmed ones as the client described them.
func (s *SubmissionService) resolveFiles(ctx context.Context, p Principal, files []DraftFile, vs *violations) (persisted, checked []DraftFile, err error) {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		if f.PublicID != "" {
			ids = append(ids, f.PublicID)
		}
	}
	assets := map[string]models.StoredAsset{}
	if len(ids) > 0 {
		var rows []models.StoredAsset
		if err := s.db.WithContext(ctx).Where("public_id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, nil, errors.Wrap(err, "load stored assets")
		}
		for _, a := range rows {
			assets[a.PublicID] = a
		}
	}

	for i, f := range files {
		asset, ok := assets[f.PublicID]
		if f.Uploading || !ok {
			if !f.Uploading {
				vs.add(ViolationFileNotPersisted, fileField(i), "%s has not finished uploading", displayName(f))
			}
			checked = append(checked, f)
			continue
		}
		if asset.OwnerID != p.UserID {
			return nil, nil, ErrNotAssetOwner
		}
		name := f.Name
		if strings.TrimSpace(name) == "" {
			name = asset.Name
		}
		confirmed := DraftFile{
			Name:     name,
			URL:      asset.URL,
			Type:     asset.ContentType,
			Size:     asset.Size,
			PublicID: asset.PublicID,
		}
		persisted = append(persisted, confirmed)
		checked = append(checked, confirmed)
	}
	return persisted, checked, nil
}

// Upsert is the single create-or-replace entry point for a participant's round submission.
func (s *SubmissionService) Upsert(ctx context.Context, p Principal, in UpsertInput) (*SubmissionView, error) {
	if p.UserID == 0 {
		return nil, ErrAuthRequired
	}
	round, err := s.rounds.Round(ctx, in.CompetitionID, in.RoundID)
	if err != nil {
		return nil, err
	}

	registered, err := isRegistered(ctx, s.db, in.CompetitionID, p.UserID)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrNotRegistered
	}
	ordered, err := s.rounds.Rounds(ctx, in.CompetitionID)
	if err != nil {
		return nil, err
	}
	ok, err := advancedInto(ctx, s.db, p.UserID, ordered, *round)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotEligible
	}

	var existing *models.Submission
	q := s.db.WithContext(ctx).Where("round_id = ? AND user_id = ?", round.RoundID, p.UserID)
	if in.SubmissionID != nil {
		q = s.db.WithContext(ctx).Where("submission_id = ? AND user_id = ?", *in.SubmissionID, p.UserID)
	}
	var found models.Submission
	err = q.First(&found).Error
	switch {
	case err == nil:
		if found.RoundID != round.RoundID {
			return nil, invalid("roundId", "submission %d belongs to another round", found.SubmissionID)
		}
		existing = &found
	case errors.Is(err, gorm.ErrRecordNotFound):
		if in.SubmissionID != nil {
			return nil, ErrSubmissionNotFound
		}
	default:
		return nil, errors.Wrap(err, "load submission")
	}

	if existing != nil {
		if existing.Status == models.SubmissionApproved {
			return nil, ErrSubmissionFinalized
		}
		if in.ExpectedVersion != nil && *in.ExpectedVersion != existing.Version {
			return nil, ErrVersionConflict
		}
	}

	var vs violations
	files, checked, err := s.resolveFiles(ctx, p, in.Files, &vs)
	if err != nil {
		return nil, err
	}
	links := append(make([]string, 0, len(in.Links)), in.Links...)

	now := s.clock.now()
	draft := SubmissionDraft{Files: checked, Links: links, Notes: in.Notes}
	if _, verr := ValidateSubmission(draft, *round, now); verr != nil {
		var ve *ValidationError
		if !errors.As(verr, &ve) {
			return nil, verr
		}
		for _, v := range ve.Violations {
			vs.add(v.Code, v.Field, "%s", v.Message)
		}
	}
	if err := vs.err(); err != nil {
		return nil, err
	}

	rows := make([]models.SubmissionFile, 0, len(files))
	for i, f := range files {
		rows = append(rows, models.SubmissionFile{
			Position: i + 1,
			Name:     f.Name,
			URL:      f.URL,
			Type:     f.Type,
			Size:     f.Size,
			PublicID: f.PublicID,
		})
	}

	var subID uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing == nil {
			sub := models.Submission{
				RoundID:       round.RoundID,
				CompetitionID: round.CompetitionID,
				UserID:        p.UserID,
				SubmittedAt:   now,
				Notes:         in.Notes,
				Links:         datatypes.JSONSlice[string](links),
				Status:        models.SubmissionPending,
				Version:       1,
				Files:         rows,
			}
			if err := tx.Create(&sub).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrVersionConflict
				}
				return err
			}
			subID = sub.SubmissionID
			return tx.Create(&models.SubmissionStatusHistory{
				SubmissionID: sub.SubmissionID,
				NewStatus:    models.SubmissionPending,
				ChangedBy:    p.UserID,
				CreatedAt:    now,
			}).Error
		}

		subID = existing.SubmissionID
		res := tx.Model(&models.Submission{}).
			Where("submission_id = ? AND version = ?", existing.SubmissionID, existing.Version).
			Updates(map[string]interface{}{
				"notes":           in.Notes,
				"links":           datatypes.JSONSlice[string](links),
				"status":          models.SubmissionPending,
				"feedback":        nil,
				"next_round_id":   nil,
				"aggregate_score": nil,
				"submitted_at":    now,
				"version":         existing.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		if err := tx.Where("submission_id = ?", existing.SubmissionID).Delete(&models.SubmissionFile{}).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].SubmissionID = existing.SubmissionID
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.EvaluationRecord{}).
			Where("submission_id = ? AND superseded_at IS NULL", existing.SubmissionID).
			Update("superseded_at", now).Error; err != nil {
			return err
		}
		if existing.Status != models.SubmissionPending {
			old := existing.Status
			reason := "resubmitted"
			return tx.Create(&models.SubmissionStatusHistory{
				SubmissionID: existing.SubmissionID,
				OldStatus:    &old,
				NewStatus:    models.SubmissionPending,
				ChangedBy:    p.UserID,
				Reason:       &reason,
				CreatedAt:    now,
			}).Error
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, ErrVersionConflict
		}
		return nil, errors.Wrap(err, "save submission")
	}

	var saved models.Submission
	if err := s.db.WithContext(ctx).Preload("Files", orderFiles).First(&saved, subID).Error; err != nil {
		return nil, errors.Wrap(err, "reload submission")
	}
	config.Log.WithField("submission_id", saved.SubmissionID).
		WithField("round_id", round.RoundID).
		WithField("version", saved.Version).
		Info("submission saved")

	sid := saved.SubmissionID
	s.notifier.Notify(ctx, NotificationEvent{
		UserID:              p.UserID,
		Event:               EventSubmissionReceived,
		Data:                map[string]string{"round": round.Name, "deadline": utils.FormatRoundDate(round.EndDate)},
		RelatedSubmissionID: &sid,
	})

	view := newSubmissionView(saved, *round)
	return &view, nil
}

func (s *SubmissionService) load(ctx context.Context, id uint) (*models.Submission, error) {
	var sub models.Submission
	err := s.db.WithContext(ctx).Preload("Files", orderFiles).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load submission")
	}
	return &sub, nil
}

// Get returns a submission to its owner or to the competition's organizer and judges.
// Anyone else gets ErrSubmissionNotFound.
func (s *SubmissionService) Get(ctx context.Context, p Principal, id uint) (*SubmissionView, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != p.UserID {
		var comp models.Competition
		if err := s.db.WithContext(ctx).First(&comp, sub.CompetitionID).Error; err != nil {
			return nil, errors.Wrap(err, "load competition")
		}
		judge, err := canJudge(ctx, s.db, p, comp)
		if err != nil {
			return nil, err
		}
		if !judge {
			return nil, ErrSubmissionNotFound
		}
	}
	round, err := s.rounds.Round(ctx, sub.CompetitionID, sub.RoundID)
	if err != nil {
		return nil, err
	}
	view := newSubmissionView(*sub, *round)
	return &view, nil
}

// ListForRound returns a round's submissions for its organizer and judges, optionally
// filtered by status.
func (s *SubmissionService) ListForRound(ctx context.Context, p Principal, roundID uint, status models.SubmissionStatus) ([]SubmissionView, error) {
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

	q := s.db.WithContext(ctx).Preload("Files", orderFiles).Where("round_id = ?", roundID)
	if status != "" {
		if !status.Valid() {
			return nil, invalid("status", "unknown status %q", status)
		}
		q = q.Where("status = ?", status)
	}
	var subs []models.Submission
	if err := q.Order("submitted_at ASC").Find(&subs).Error; err != nil {
		return nil, errors.Wrap(err, "list submissions")
	}
	out := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, newSubmissionView(sub, round))
	}
	return out, nil
}

// ListMine returns the caller's submissions, limited to one competition when competitionID
// is non-zero.
func (s *SubmissionService) ListMine(ctx context.Context, p Principal, competitionID uint) ([]SubmissionView, error) {
	q := s.db.WithContext(ctx).Preload("Files", orderFiles).Where("user_id = ?", p.UserID)
	if competitionID != 0 {
		q = q.Where("competition_id = ?", competitionID)
	}
	var subs []models.Submission
	if err := q.Order("submitted_at DESC").Find(&subs).Error; err != nil {
		return nil, errors.Wrap(err, "list own submissions")
	}
	out := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		round, err := s.rounds.Round(ctx, sub.CompetitionID, sub.RoundID)
		if err != nil {
			return nil, err
		}
		out = append(out, newSubmissionView(sub, *round))
	}
	return out, nil
}
