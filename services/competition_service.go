package services

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nextcompete-api/config"
	"nextcompete-api/models"
)

var ErrOrganizerRoleRequired = newError(KindForbidden, "an organizer account is required")

// RulesInput is the submission policy of a round as sent by organizers.
type RulesInput struct {
	AllowFileUpload       bool     `json:"allowFileUpload" yaml:"allowFileUpload"`
	AllowExternalLinks    bool     `json:"allowExternalLinks" yaml:"allowExternalLinks"`
	AcceptLateSubmissions bool     `json:"acceptLateSubmissions" yaml:"acceptLateSubmissions"`
	ShowCountdown         bool     `json:"showCountdown" yaml:"showCountdown"`
	MaxFileSizeMB         int      `json:"maxFileSizeMB" yaml:"maxFileSizeMB" binding:"gte=0,lte=1024"`
	AllowedFileTypes      []string `json:"allowedFileTypes" yaml:"allowedFileTypes"`
}

// RoundInput defines or redefines a round.
type RoundInput struct {
	Name             string             `json:"name" yaml:"name" binding:"required,max=255"`
	StartDate        string             `json:"startDate" yaml:"startDate" binding:"required"`
	EndDate          string             `json:"endDate" yaml:"endDate" binding:"required"`
	JudgingMethod    string             `json:"judgingMethod" yaml:"judgingMethod" binding:"max=64"`
	Criteria         map[string]float64 `json:"criteria" yaml:"criteria"`
	Deliverables     string             `json:"deliverables" yaml:"deliverables"`
	EvaluationWeight float64            `json:"evaluationWeight" yaml:"evaluationWeight" binding:"gte=0,lte=100"`
	MinJudges        int                `json:"minJudges" yaml:"minJudges" binding:"gte=0"`
	SubmissionRules  RulesInput         `json:"submissionRules" yaml:"submissionRules"`
}

// PrizeInput defines a prize.
type PrizeInput struct {
	Rank        int    `json:"rank" yaml:"rank" binding:"gte=0"`
	Title       string `json:"title" yaml:"title" binding:"required,max=255"`
	Description string `json:"description" yaml:"description"`
	Value       string `json:"value" yaml:"value" binding:"max=128"`
}

// CompetitionInput defines a competition with its ordered rounds and prizes.
type CompetitionInput struct {
	Title       string       `json:"title" yaml:"title" binding:"required,max=255"`
	Description string       `json:"description" yaml:"description"`
	Rounds      []RoundInput `json:"rounds" yaml:"rounds" binding:"required,min=1,dive"`
	Prizes      []PrizeInput `json:"prizes" yaml:"prizes" binding:"dive"`
}

// ResourceInput attaches a stored file or an external link to a round.
type ResourceInput struct {
	Name     string `json:"name" binding:"required,max=255"`
	URL      string `json:"url" binding:"required,httpurl"`
	Type     string `json:"type" binding:"max=128"`
	Size     int64  `json:"size" binding:"gte=0"`
	PublicID string `json:"publicId"`
}

// WinnerInput assigns one prize.
type WinnerInput struct {
	PrizeID uint `json:"prizeId" binding:"required"`
	UserID  uint `json:"userId" binding:"required"`
}

// CompetitionQuery selects optional parts of a competition.
type CompetitionQuery struct {
	IncludeRounds  bool
	IncludeWinners bool
}

// RoundView is a round with its derived status.
type RoundView struct {
	models.Round
	Status RoundStatus `json:"status"`
}

// CompetitionView is a competition with derived round statuses.
type CompetitionView struct {
	models.Competition
	Rounds []RoundView `json:"rounds,omitempty"`
}

// RoundDetail is a round, its resources and the caller's own submissions.
type RoundDetail struct {
	RoundView
	CompetitionTitle string           `json:"competitionTitle"`
	MySubmissions    []SubmissionView `json:"submissions"`
}

type CompetitionService struct {
	db       *gorm.DB
	rounds   *RoundCache
	notifier Notifier
	clock    Clock
}

func NewCompetitionService(db *gorm.DB, rounds *RoundCache, notifier Notifier) *CompetitionService {
	if db == nil {
		db = config.DB
	}
	return &CompetitionService{db: db, rounds: rounds, notifier: notifier}
}

func (s *CompetitionService) WithClock(c Clock) *CompetitionService {
	s.clock = c
	return s
}

func buildRound(in RoundInput, position int) (models.Round, error) {
	start, end, err := ParseRoundWindow(in.StartDate, in.EndDate)
	if err != nil {
		return models.Round{}, err
	}

	var vs violations
	for name, weight := range in.Criteria {
		if strings.TrimSpace(name) == "" {
			vs.add(ViolationInvalidField, "criteria", "criterion names must not be empty")
		}
		if weight < 0 || weight > 100 {
			vs.add(ViolationInvalidField, "criteria."+name, "weight of %q must be between 0 and 100", name)
		}
	}
	if !in.SubmissionRules.AllowFileUpload && !in.SubmissionRules.AllowExternalLinks {
		vs.add(ViolationInvalidField, "submissionRules", "round %q must accept files, links or both", in.Name)
	}
	if err := vs.err(); err != nil {
		return models.Round{}, err
	}

	maxMB := in.SubmissionRules.MaxFileSizeMB
	if maxMB == 0 {
		maxMB = models.DefaultMaxFileSizeMB
	}
	minJudges := in.MinJudges
	if minJudges <= 0 {
		minJudges = 1
	}
	criteria := in.Criteria
	if criteria == nil {
		criteria = map[string]float64{}
	}
	types := datatypes.JSONSlice[string]{}
	for _, t := range in.SubmissionRules.AllowedFileTypes {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	return models.Round{
		Position:         position,
		Name:             strings.TrimSpace(in.Name),
		StartDate:        start,
		EndDate:          end,
		JudgingMethod:    in.JudgingMethod,
		Criteria:         datatypes.NewJSONType(criteria),
		Deliverables:     in.Deliverables,
		EvaluationWeight: in.EvaluationWeight,
		MinJudges:        minJudges,
		SubmissionRules: models.SubmissionRules{
			AllowFileUpload:       in.SubmissionRules.AllowFileUpload,
			AllowExternalLinks:    in.SubmissionRules.AllowExternalLinks,
			AcceptLateSubmissions: in.SubmissionRules.AcceptLateSubmissions,
			ShowCountdown:         in.SubmissionRules.ShowCountdown,
			MaxFileSizeMB:         maxMB,
			AllowedFileTypes:      types,
		},
		Version: 1,
	}, nil
}

// checkSequence requires every round to start no earlier than the previous one ends.
func checkSequence(rounds []models.Round) error {
	for i := 1; i < len(rounds); i++ {
		if rounds[i].StartDate.Before(rounds[i-1].EndDate) {
			return invalid("rounds["+strconv.Itoa(i)+"].startDate",
				"round %q starts before round %q ends", rounds[i].Name, rounds[i-1].Name)
		}
	}
	return nil
}

// CreateCompetition defines a competition owned by the calling organizer.
func (s *CompetitionService) CreateCompetition(ctx context.Context, p Principal, in CompetitionInput) (*CompetitionView, error) {
	if p.RoleID != models.RoleOrganizer && !p.IsAdmin() {
		return nil, ErrOrganizerRoleRequired
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, invalid("title", "title is required")
	}
	if len(in.Rounds) == 0 {
		return nil, invalid("rounds", "at least one round is required")
	}

	comp := models.Competition{
		OrganizerID: p.UserID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
	}
	for i, rin := range in.Rounds {
		r, err := buildRound(rin, i+1)
		if err != nil {
			return nil, err
		}
		comp.Rounds = append(comp.Rounds, r)
	}
	if err := checkSequence(comp.Rounds); err != nil {
		return nil, err
	}
	for _, pin := range in.Prizes {
		comp.Prizes = append(comp.Prizes, models.Prize{
			Rank:        pin.Rank,
			Title:       pin.Title,
			Description: pin.Description,
			Value:       pin.Value,
		})
	}

	if err := s.db.WithContext(ctx).Create(&comp).Error; err != nil {
		return nil, errors.Wrap(err, "create competition")
	}
	config.Log.WithField("competition_id", comp.CompetitionID).
		WithField("rounds", len(comp.Rounds)).
		Info("competition created")
	return s.view(comp), nil
}

func (s *CompetitionService) view(c models.Competition) *CompetitionView {
	now := s.clock.now()
	v := &CompetitionView{Competition: c}
	for _, r := range c.Rounds {
		v.Rounds = append(v.Rounds, RoundView{Round: r, Status: StatusOf(r, now)})
	}
	v.Competition.Rounds = nil
	return v
}

func (s *CompetitionService) loadCompetition(ctx context.Context, db *gorm.DB, id uint) (*models.Competition, error) {
	var c models.Competition
	err := db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCompetitionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load competition")
	}
	return &c, nil
}

func (s *CompetitionService) loadRound(ctx context.Context, db *gorm.DB, id uint) (*models.Round, error) {
	var r models.Round
	err := db.WithContext(ctx).First(&r, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load round")
	}
	return &r, nil
}

// GetCompetition returns a competition with its prizes and, on request, rounds and winners.
func (s *CompetitionService) GetCompetition(ctx context.Context, id uint, q CompetitionQuery) (*CompetitionView, error) {
	db := s.db.WithContext(ctx).Preload("Prizes", func(db *gorm.DB) *gorm.DB {
		return db.Order("`rank` ASC").Order("prize_id ASC")
	})
	if q.IncludeRounds {
		db = db.Preload("Rounds", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).Preload("Rounds.Resources", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		})
	}
	if q.IncludeWinners {
		db = db.Preload("Winners")
	}

	var c models.Competition
	err := db.First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCompetitionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load competition")
	}
	return s.view(c), nil
}

// Register puts the caller on the competition's roster.
func (s *CompetitionService) Register(ctx context.Context, p Principal, competitionID uint) (*models.Registration, error) {
	comp, err := s.loadCompetition(ctx, s.db, competitionID)
	if err != nil {
		return nil, err
	}
	if comp.OrganizerID == p.UserID {
		return nil, ErrOrganizerEntrant
	}

	rounds, err := s.rounds.Rounds(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.now()
	if len(rounds) > 0 && StatusOf(rounds[len(rounds)-1], now) == RoundCompleted {
		return nil, ErrRegistrationClosed
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Registration{}).
		Where("competition_id = ? AND user_id = ?", competitionID, p.UserID).
		Count(&existing).Error; err != nil {
		return nil, errors.Wrap(err, "check registration")
	}
	if existing > 0 {
		return nil, ErrAlreadyRegistered
	}

	reg := models.Registration{CompetitionID: competitionID, UserID: p.UserID, RegisteredAt: now}
	if err := s.db.WithContext(ctx).Create(&reg).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyRegistered
		}
		return nil, errors.Wrap(err, "create registration")
	}
	return &reg, nil
}

func isRegistered(ctx context.Context, db *gorm.DB, competitionID, userID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.Registration{}).
		Where("competition_id = ? AND user_id = ?", competitionID, userID).
		Count(&n).Error
	return n > 0, errors.Wrap(err, "check registration")
}

// canJudge reports whether p may evaluate submissions of comp. A judge who is on the
// competition's roster is a contestant there and loses judging rights for it.
func canJudge(ctx context.Context, db *gorm.DB, p Principal, comp models.Competition) (bool, error) {
	if p.Organizes(comp) {
		return true, nil
	}
	if p.RoleID != models.RoleJudge {
		return false, nil
	}
	registered, err := isRegistered(ctx, db, comp.CompetitionID, p.UserID)
	if err != nil {
		return false, err
	}
	return !registered, nil
}

// ListParticipants returns the roster; organizers and judges only.
func (s *CompetitionService) ListParticipants(ctx context.Context, p Principal, competitionID uint) ([]models.Registration, error) {
	comp, err := s.loadCompetition(ctx, s.db, competitionID)
	if err != nil {
		return nil, err
	}
	judge, err := canJudge(ctx, s.db, p, *comp)
	if err != nil {
		return nil, err
	}
	if !judge {
		return nil, ErrNotOrganizer
	}
	regs := make([]models.Registration, 0)
	err = s.db.WithContext(ctx).Preload("User").
		Where("competition_id = ?", competitionID).
		Order("registered_at ASC").
		Find(&regs).Error
	return regs, errors.Wrap(err, "list participants")
}

// UpdateRound redefines a round. Dates, criteria and submission rules can only change while
// the round is still a draft; once live only resources may be added.
func (s *CompetitionService) UpdateRound(ctx context.Context, p Principal, roundID uint, in RoundInput) (*RoundView, error) {
	round, err := s.loadRound(ctx, s.db, roundID)
	if err != nil {
		return nil, err
	}
	comp, err := s.loadCompetition(ctx, s.db, round.CompetitionID)
	if err != nil {
		return nil, err
	}
	if !p.Organizes(*comp) {
		return nil, ErrNotOrganizer
	}
	now := s.clock.now()
	if StatusOf(*round, now) != RoundDraft {
		return nil, ErrRoundLocked
	}

	updated, err := buildRound(in, round.Position)
	if err != nil {
		return nil, err
	}
	if updated.StartDate.Before(now) {
		// moving the start into the past would make the round live without the rules freeze
		return nil, invalid("startDate", "startDate must be in the future for a draft round")
	}

	siblings, err := s.rounds.Rounds(ctx, round.CompetitionID)
	if err != nil {
		return nil, err
	}
	for i := range siblings {
		if siblings[i].RoundID == round.RoundID {
			siblings[i].StartDate, siblings[i].EndDate, siblings[i].Name = updated.StartDate, updated.EndDate, updated.Name
		}
	}
	if err := checkSequence(siblings); err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&models.Round{}).
		Where("round_id = ? AND version = ?", round.RoundID, round.Version).
		Updates(map[string]interface{}{
			"name":                    updated.Name,
			"start_date":              updated.StartDate,
			"end_date":                updated.EndDate,
			"judging_method":          updated.JudgingMethod,
			"criteria":                updated.Criteria,
			"deliverables":            updated.Deliverables,
			"evaluation_weight":       updated.EvaluationWeight,
			"min_judges":              updated.MinJudges,
			"allow_file_upload":       updated.SubmissionRules.AllowFileUpload,
			"allow_external_links":    updated.SubmissionRules.AllowExternalLinks,
			"accept_late_submissions": updated.SubmissionRules.AcceptLateSubmissions,
			"show_countdown":          updated.SubmissionRules.ShowCountdown,
			"max_file_size_mb":        updated.SubmissionRules.MaxFileSizeMB,
			"allowed_file_types":      updated.SubmissionRules.AllowedFileTypes,
			"version":                 round.Version + 1,
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "update round")
	}
	if res.RowsAffected == 0 {
		return nil, newError(KindConflict, "round was changed by another request; reload and retry")
	}
	s.rounds.Invalidate(round.CompetitionID)

	fresh, err := s.loadRound(ctx, s.db, roundID)
	if err != nil {
		return nil, err
	}
	return &RoundView{Round: *fresh, Status: StatusOf(*fresh, now)}, nil
}

// AddRoundResource attaches an organizer resource to a draft or live round.
func (s *CompetitionService) AddRoundResource(ctx context.Context, p Principal, roundID uint, in ResourceInput) (*models.RoundResource, error) {
	round, err := s.loadRound(ctx, s.db, roundID)
	if err != nil {
		return nil, err
	}
	comp, err := s.loadCompetition(ctx, s.db, round.CompetitionID)
	if err != nil {
		return nil, err
	}
	if !p.Organizes(*comp) {
		return nil, ErrNotOrganizer
	}
	if StatusOf(*round, s.clock.now()) == RoundCompleted {
		return nil, ErrRoundArchived
	}

	if in.PublicID != "" {
		var asset models.StoredAsset
		err := s.db.WithContext(ctx).Where("public_id = ?", in.PublicID).First(&asset).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid("publicId", "file %s has not finished uploading", in.PublicID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "load asset")
		}
		if asset.OwnerID != p.UserID && !p.IsAdmin() {
			return nil, ErrNotAssetOwner
		}
	}

	res := models.RoundResource{
		RoundID:  roundID,
		Name:     in.Name,
		URL:      in.URL,
		Type:     in.Type,
		Size:     in.Size,
		PublicID: in.PublicID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.RoundResource{}).Where("round_id = ?", roundID).Count(&count).Error; err != nil {
			return err
		}
		res.Position = int(count) + 1
		return tx.Create(&res).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "add round resource")
	}
	return &res, nil
}

// GetRound returns a round with its status, optionally its resources, and the caller's own
// submissions for it.
func (s *CompetitionService) GetRound(ctx context.Context, p Principal, roundID uint, includeResources bool) (*RoundDetail, error) {
	db := s.db.WithContext(ctx)
	if includeResources {
		db = db.Preload("Resources", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") })
	}
	var round models.Round
	err := db.First(&round, roundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load round")
	}
	comp, err := s.loadCompetition(ctx, s.db, round.CompetitionID)
	if err != nil {
		return nil, err
	}

	var subs []models.Submission
	if err := s.db.WithContext(ctx).Preload("Files", orderFiles).
		Where("round_id = ? AND user_id = ?", roundID, p.UserID).
		Find(&subs).Error; err != nil {
		return nil, errors.Wrap(err, "load own submissions")
	}

	detail := &RoundDetail{
		RoundView:        RoundView{Round: round, Status: StatusOf(round, s.clock.now())},
		CompetitionTitle: comp.Title,
		MySubmissions:    make([]SubmissionView, 0, len(subs)),
	}
	for _, sub := range subs {
		detail.MySubmissions = append(detail.MySubmissions, newSubmissionView(sub, round))
	}
	return detail, nil
}

// SelectWinners assigns prizes. Every winner must hold an approved submission in the final
// round and a prize can be awarded once.
func (s *CompetitionService) SelectWinners(ctx context.Context, p Principal, competitionID uint, in []WinnerInput) ([]models.Winner, error) {
	comp, err := s.loadCompetition(ctx, s.db, competitionID)
	if err != nil {
		return nil, err
	}
	if !p.Organizes(*comp) {
		return nil, ErrNotOrganizer
	}
	if len(in) == 0 {
		return nil, invalid("winners", "at least one winner is required")
	}
	rounds, err := s.rounds.Rounds(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, ErrNotWinnerEligible
	}
	final := rounds[len(rounds)-1]
	now := s.clock.now()

	winners := make([]models.Winner, 0, len(in))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range in {
			var prize models.Prize
			err := tx.Where("prize_id = ? AND competition_id = ?", w.PrizeID, competitionID).First(&prize).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPrizeNotFound
			}
			if err != nil {
				return err
			}

			var awarded int64
			if err := tx.Model(&models.Winner{}).Where("prize_id = ?", w.PrizeID).Count(&awarded).Error; err != nil {
				return err
			}
			if awarded > 0 {
				return ErrPrizeAwarded
			}

			var sub models.Submission
			err = tx.Where("round_id = ? AND user_id = ? AND status = ?", final.RoundID, w.UserID, models.SubmissionApproved).
				First(&sub).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotWinnerEligible
			}
			if err != nil {
				return err
			}

			winner := models.Winner{
				CompetitionID: competitionID,
				PrizeID:       prize.PrizeID,
				UserID:        w.UserID,
				SubmissionID:  sub.SubmissionID,
				AwardedBy:     p.UserID,
				AwardedAt:     now,
			}
			if err := tx.Create(&winner).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrPrizeAwarded
				}
				return err
			}
			winners = append(winners, winner)
		}
		return nil
	})
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, errors.Wrap(err, "select winners")
	}

	prizes := map[uint]string{}
	var rows []models.Prize
	if err := s.db.WithContext(ctx).Where("competition_id = ?", competitionID).Find(&rows).Error; err == nil {
		for _, pr := range rows {
			prizes[pr.PrizeID] = pr.Title
		}
	}
	for _, w := range winners {
		subID := w.SubmissionID
		s.notifier.Notify(ctx, NotificationEvent{
			UserID:              w.UserID,
			Event:               EventWinnerSelected,
			Data:                map[string]string{"prize": prizes[w.PrizeID], "competition": comp.Title},
			RelatedSubmissionID: &subID,
		})
	}
	return winners, nil
}
