package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nextcompete-api/config"
	"nextcompete-api/models"
)

var testDBSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// memStore is an in-memory ObjectStore whose failures can be switched on.
type memStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failPut    error
	failDelete error
	deletes    []string
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key string, body io.ReadSeeker, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return "", m.failPut
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.objects[key] = data
	return "https://files.test/" + key, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, key)
	if m.failDelete != nil {
		return m.failDelete
	}
	delete(m.objects, key)
	return nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memStore) setFailDelete(err error) {
	m.mu.Lock()
	m.failDelete = err
	m.mu.Unlock()
}

// recordingNotifier keeps every event instead of storing it.
type recordingNotifier struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ev NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) byEvent(event string) []NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NotificationEvent
	for _, ev := range r.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

var d0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fixture is a competition with two consecutive rounds and two registered participants.
type fixture struct {
	db       *gorm.DB
	now      time.Time
	rounds   *RoundCache
	notifier *recordingNotifier
	store    *memStore

	competitions *CompetitionService
	submissions  *SubmissionService
	evaluations  *EvaluationService
	progression  *ProgressionService
	assets       *AssetService

	organizer, judge, alice, bob Principal

	comp   *CompetitionView
	r1, r2 models.Round
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) at(t time.Time) { f.now = t }

func defaultCompetitionInput() CompetitionInput {
	rules := RulesInput{
		AllowFileUpload:    true,
		AllowExternalLinks: true,
		MaxFileSizeMB:      10,
		AllowedFileTypes:   []string{".pdf", ".doc,.docx", ".png"},
	}
	return CompetitionInput{
		Title:       "Green Campus Challenge",
		Description: "Ideas for a greener campus",
		Rounds: []RoundInput{
			{
				Name:             "Proposal",
				StartDate:        d0.Format(time.RFC3339),
				EndDate:          d0.Add(7 * 24 * time.Hour).Format(time.RFC3339),
				Criteria:         map[string]float64{"impact": 60, "feasibility": 40},
				EvaluationWeight: 40,
				SubmissionRules:  rules,
			},
			{
				Name:             "Prototype",
				StartDate:        d0.Add(8 * 24 * time.Hour).Format(time.RFC3339),
				EndDate:          d0.Add(15 * 24 * time.Hour).Format(time.RFC3339),
				Criteria:         map[string]float64{"quality": 100},
				EvaluationWeight: 60,
				SubmissionRules:  rules,
			},
		},
		Prizes: []PrizeInput{
			{Rank: 1, Title: "First place", Value: "1000 USD"},
			{Rank: 2, Title: "Runner-up", Value: "500 USD"},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:        db,
		now:       d0.Add(3 * 24 * time.Hour),
		rounds:    NewRoundCache(db, time.Minute),
		notifier:  &recordingNotifier{},
		store:     newMemStore(),
		organizer: Principal{UserID: 10, Email: "org@example.com", Name: "Olivia", RoleID: models.RoleOrganizer},
		judge:     Principal{UserID: 20, Email: "judge@example.com", Name: "Jamal", RoleID: models.RoleJudge},
		alice:     Principal{UserID: 30, Email: "alice@example.com", Name: "Alice", RoleID: models.RoleParticipant},
		bob:       Principal{UserID: 40, Email: "bob@example.com", Name: "Bob", RoleID: models.RoleParticipant},
	}
	users := NewUserService(db)
	for _, p := range []Principal{f.organizer, f.judge, f.alice, f.bob} {
		if err := users.Sync(context.Background(), p); err != nil {
			t.Fatalf("sync user %d: %v", p.UserID, err)
		}
	}

	f.competitions = NewCompetitionService(db, f.rounds, f.notifier).WithClock(f.clock)
	f.submissions = NewSubmissionService(db, f.rounds, f.notifier).WithClock(f.clock)
	f.evaluations = NewEvaluationService(db, f.rounds, f.notifier).WithClock(f.clock)
	f.progression = NewProgressionService(db, f.rounds)
	f.assets = NewAssetService(db, f.store, config.Settings{
		UploadMaxFileSizeMB: 10,
		UploadConcurrency:   3,
		CleanupMaxAttempts:  3,
	}).WithClock(f.clock)

	// the competition is defined before the first round opens
	f.now = d0.Add(-24 * time.Hour)
	comp, err := f.competitions.CreateCompetition(context.Background(), f.organizer, defaultCompetitionInput())
	if err != nil {
		t.Fatalf("create competition: %v", err)
	}
	f.comp = comp
	f.r1, f.r2 = comp.Rounds[0].Round, comp.Rounds[1].Round

	for _, p := range []Principal{f.alice, f.bob} {
		if _, err := f.competitions.Register(context.Background(), p, comp.CompetitionID); err != nil {
			t.Fatalf("register %d: %v", p.UserID, err)
		}
	}
	f.now = d0.Add(3 * 24 * time.Hour)
	return f
}

// upload stores a file of size bytes for p and returns it as a draft file.
func (f *fixture) upload(t *testing.T, p Principal, name string, size int64) DraftFile {
	t.Helper()
	res, err := f.assets.Upload(context.Background(), p, UploadInput{
		Name:         name,
		ContentType:  "application/pdf",
		Size:         size,
		Body:         bytes.NewReader([]byte("%PDF-1.7 test")),
		ResourceType: ResourceSubmission,
	})
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return DraftFile{Name: res.Name, URL: res.URL, Type: res.Type, Size: res.Size, PublicID: res.PublicID}
}

func (f *fixture) submit(t *testing.T, p Principal, round models.Round, files []DraftFile, links []string) *SubmissionView {
	t.Helper()
	sub, err := f.submissions.Upsert(context.Background(), p, UpsertInput{
		CompetitionID: f.comp.CompetitionID,
		RoundID:       round.RoundID,
		Notes:         "notes",
		Links:         links,
		Files:         files,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return sub
}

func (f *fixture) approve(t *testing.T, sub *SubmissionView) {
	t.Helper()
	_, err := f.evaluations.RecordEvaluation(context.Background(), f.judge, sub.SubmissionID, EvaluationInput{
		Scores: f.scoresFor(sub.RoundID, 80),
		Status: models.SubmissionApproved,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) reject(t *testing.T, sub *SubmissionView) {
	t.Helper()
	_, err := f.evaluations.RecordEvaluation(context.Background(), f.judge, sub.SubmissionID, EvaluationInput{
		Scores: f.scoresFor(sub.RoundID, 20),
		Status: models.SubmissionRejected,
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
}

func (f *fixture) scoresFor(roundID uint, v float64) map[string]float64 {
	round := f.r1
	if roundID == f.r2.RoundID {
		round = f.r2
	}
	out := map[string]float64{}
	for name := range round.CriteriaWeights() {
		out[name] = v
	}
	return out
}

func (f *fixture) countSubmissions(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&models.Submission{}).Count(&n).Error; err != nil {
		t.Fatalf("count submissions: %v", err)
	}
	return n
}

func violationCodes(err error) []string {
	ve, ok := err.(*ValidationError)
	if !ok {
		return nil
	}
	codes := make([]string, 0, len(ve.Violations))
	for _, v := range ve.Violations {
		codes = append(codes, v.Code)
	}
	return codes
}
