package services

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"nextcompete-api/config"
	"nextcompete-api/models"
)

var ErrLastSubmissionItem = newError(KindConflict, "this file is the only item of a submission; add another file or link first")

// Resource types of stored assets; they prefix object keys.
const (
	ResourceSubmission = "submission"
	ResourceRound      = "resource"
	ResourceAttachment = "attachment"
)

// UploadInput is one file to store.
type UploadInput struct {
	Name         string
	ContentType  string
	Size         int64
	Body         io.ReadSeeker
	RoundID      *uint
	ResourceType string
}

// UploadResult reports one stored file, or why it was not stored.
type UploadResult struct {
	URL      string `json:"imageUrl,omitempty"`
	PublicID string `json:"public_id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Size     int64  `json:"size"`
	Error    string `json:"error,omitempty"`
}

// ReconcileReport summarises one pass over the cleanup queue.
type ReconcileReport struct {
	Processed int `json:"processed"`
	Done      int `json:"done"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

type AssetService struct {
	db          *gorm.DB
	store       ObjectStore
	maxBytes    int64
	concurrency int
	maxAttempts int
	clock       Clock
}

func NewAssetService(db *gorm.DB, store ObjectStore, s config.Settings) *AssetService {
	if db == nil {
		db = config.DB
	}
	mb := s.UploadMaxFileSizeMB
	if mb <= 0 {
		mb = models.DefaultMaxFileSizeMB
	}
	concurrency := s.UploadConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	attempts := s.CleanupMaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &AssetService{
		db:          db,
		store:       store,
		maxBytes:    int64(mb) * 1024 * 1024,
		concurrency: concurrency,
		maxAttempts: attempts,
	}
}

func (s *AssetService) WithClock(c Clock) *AssetService {
	s.clock = c
	return s
}

func (s *AssetService) checkUpload(ctx context.Context, in UploadInput) error {
	if in.Body == nil || in.Size == 0 {
		return invalid("file", "file is empty")
	}
	// only submission files are bound by a round's rules
	if in.RoundID == nil || in.ResourceType != ResourceSubmission {
		if in.Size > s.maxBytes {
			var vs violations
			vs.add(ViolationFileTooLarge, "file", "%s exceeds the %dMB limit", in.Name, s.maxBytes/(1024*1024))
			return vs.err()
		}
		return nil
	}
	var round models.Round
	err := s.db.WithContext(ctx).First(&round, *in.RoundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRoundNotFound
	}
	if err != nil {
		return errors.Wrap(err, "load round")
	}
	if !round.SubmissionRules.AllowFileUpload {
		var vs violations
		vs.add(ViolationFileUploadDisabled, "file", "file upload disabled")
		return vs.err()
	}
	return CheckFileAgainstRules(in.Name, in.Size, round.SubmissionRules)
}

func objectKey(resourceType string, ownerID uint, name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return resourceType + "/" + strconv.FormatUint(uint64(ownerID), 10) + "/" + uuid.NewString() + ext
}

// Upload checks the file against the round's rules (or the global limit) and stores it. The
// asset record is written only after storage confirmed the object.
func (s *AssetService) Upload(ctx context.Context, p Principal, in UploadInput) (*UploadResult, error) {
	if p.UserID == 0 {
		return nil, ErrAuthRequired
	}
	in.Name = filepath.Base(strings.TrimSpace(in.Name))
	if in.Name == "." || in.Name == "/" || in.Name == "" {
		return nil, invalid("fileName", "file name is required")
	}
	switch in.ResourceType {
	case ResourceSubmission, ResourceRound, ResourceAttachment:
	case "":
		in.ResourceType = ResourceSubmission
	default:
		return nil, invalid("resourceType", "unknown resource type %q", in.ResourceType)
	}
	if err := s.checkUpload(ctx, in); err != nil {
		return nil, err
	}

	key := objectKey(in.ResourceType, p.UserID, in.Name)
	url, err := s.store.Put(ctx, key, in.Body, in.ContentType)
	if err != nil {
		return nil, errors.Wrap(err, "store upload")
	}

	asset := models.StoredAsset{
		PublicID:     key,
		OwnerID:      p.UserID,
		URL:          url,
		Name:         in.Name,
		ContentType:  in.ContentType,
		Size:         in.Size,
		ResourceType: in.ResourceType,
		CreateAt:     s.clock.now(),
	}
	if err := s.db.WithContext(ctx).Create(&asset).Error; err != nil {
		log := config.Log.WithField("public_id", key).WithError(err)
		if derr := s.store.Delete(persistentContext(ctx), key); derr != nil {
			log.WithField("delete_error", derr.Error()).Error("upload record failed and object could not be removed; queued")
			s.enqueue(ctx, key, models.CleanupPurgeObject, derr)
		} else {
			log.Warn("upload record failed; object removed")
		}
		return nil, errors.Wrap(err, "record upload")
	}

	return &UploadResult{URL: url, PublicID: key, Name: in.Name, Type: in.ContentType, Size: in.Size}, nil
}

// UploadBatch stores files in parallel. Each file gets its own result; one failure never
// stops the others.
func (s *AssetService) UploadBatch(ctx context.Context, p Principal, files []UploadInput) []UploadResult {
	results := make([]UploadResult, len(files))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range files {
		i := i
		g.Go(func() error {
			res, err := s.Upload(ctx, p, files[i])
			if err != nil {
				results[i] = UploadResult{Name: files[i].Name, Size: files[i].Size, Error: err.Error()}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *AssetService) enqueue(ctx context.Context, publicID, kind string, cause error) {
	now := s.clock.now()
	msg := cause.Error()
	job := models.StorageCleanupJob{
		PublicID:  publicID,
		Kind:      kind,
		Status:    models.CleanupPending,
		LastError: &msg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(persistentContext(ctx)).Create(&job).Error; err != nil {
		config.Log.WithField("public_id", publicID).WithField("kind", kind).WithError(err).
			Error("could not queue storage cleanup job")
	}
}

// guardDelete refuses deletions that would break a submission or an archived round.
func (s *AssetService) guardDelete(ctx context.Context, publicID string) error {
	var files []models.SubmissionFile
	if err := s.db.WithContext(ctx).Where("public_id = ?", publicID).Find(&files).Error; err != nil {
		return errors.Wrap(err, "load submission files")
	}
	for _, f := range files {
		var sub models.Submission
		if err := s.db.WithContext(ctx).Preload("Files").First(&sub, f.SubmissionID).Error; err != nil {
			return errors.Wrap(err, "load submission")
		}
		if sub.Status != models.SubmissionPending {
			return ErrAssetInUse
		}
		remaining := len(sub.Links)
		for _, other := range sub.Files {
			if other.PublicID != publicID {
				remaining++
			}
		}
		if remaining == 0 {
			return ErrLastSubmissionItem
		}
	}

	var resources []models.RoundResource
	if err := s.db.WithContext(ctx).Where("public_id = ?", publicID).Find(&resources).Error; err != nil {
		return errors.Wrap(err, "load round resources")
	}
	now := s.clock.now()
	for _, res := range resources {
		var round models.Round
		if err := s.db.WithContext(ctx).First(&round, res.RoundID).Error; err != nil {
			return errors.Wrap(err, "load round")
		}
		if StatusOf(round, now) == RoundCompleted {
			return ErrRoundArchived
		}
	}
	return nil
}

// purgeRecords removes every row that references publicID.
func purgeRecords(tx *gorm.DB, publicID string) error {
	var subIDs []uint
	if err := tx.Model(&models.SubmissionFile{}).
		Where("public_id = ?", publicID).
		Distinct().Pluck("submission_id", &subIDs).Error; err != nil {
		return err
	}
	if err := tx.Where("public_id = ?", publicID).Delete(&models.SubmissionFile{}).Error; err != nil {
		return err
	}
	if len(subIDs) > 0 {
		if err := tx.Model(&models.Submission{}).
			Where("submission_id IN ?", subIDs).
			Update("version", gorm.Expr("version + 1")).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("public_id = ?", publicID).Delete(&models.RoundResource{}).Error; err != nil {
		return err
	}
	return tx.Where("public_id = ?", publicID).Delete(&models.StoredAsset{}).Error
}

// DeleteAsset removes a stored file. The object is deleted from storage first; if that fails
// nothing else changes. The records referencing it are then removed in one transaction, and
// if that fails a purge_record job is queued so the references do not outlive the object.
func (s *AssetService) DeleteAsset(ctx context.Context, p Principal, publicID string) error {
	if publicID == "" {
		return invalid("publicId", "publicId is required")
	}
	var asset models.StoredAsset
	err := s.db.WithContext(ctx).Where("public_id = ?", publicID).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAssetNotFound
	}
	if err != nil {
		return errors.Wrap(err, "load asset")
	}
	if asset.OwnerID != p.UserID && !p.IsAdmin() {
		return ErrNotAssetOwner
	}
	if err := s.guardDelete(ctx, publicID); err != nil {
		return err
	}

	log := config.Log.WithField("public_id", publicID)
	if err := s.store.Delete(ctx, publicID); err != nil {
		log.WithError(err).Warn("storage delete failed; records kept")
		return errors.Wrap(err, "delete stored object")
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return purgeRecords(tx, publicID)
	}); err != nil {
		log.WithError(err).Error("object deleted but records remain; queued purge")
		s.enqueue(ctx, publicID, models.CleanupPurgeRecord, err)
		return errors.Wrap(err, "delete asset records")
	}
	log.Info("asset deleted")
	return nil
}

// ReconcileStorage works through up to limit pending cleanup jobs. A job that keeps failing
// is marked failed after the configured number of attempts.
func (s *AssetService) ReconcileStorage(ctx context.Context, limit int) (ReconcileReport, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.StorageCleanupJob
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.CleanupPending).
		Order("job_id ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return ReconcileReport{}, errors.Wrap(err, "load cleanup jobs")
	}

	var report ReconcileReport
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		var runErr error
		switch job.Kind {
		case models.CleanupPurgeRecord:
			runErr = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return purgeRecords(tx, job.PublicID)
			})
		case models.CleanupPurgeObject:
			runErr = s.store.Delete(ctx, job.PublicID)
		default:
			runErr = errors.Errorf("unknown cleanup kind %q", job.Kind)
		}

		updates := map[string]interface{}{
			"attempts":   job.Attempts + 1,
			"updated_at": s.clock.now(),
		}
		switch {
		case runErr == nil:
			updates["status"] = models.CleanupDone
			updates["last_error"] = nil
			report.Done++
		case job.Attempts+1 >= s.maxAttempts:
			updates["status"] = models.CleanupFailed
			updates["last_error"] = runErr.Error()
			report.Failed++
		default:
			updates["last_error"] = runErr.Error()
			report.Retrying++
		}
		if err := s.db.WithContext(ctx).Model(&models.StorageCleanupJob{}).
			Where("job_id = ?", job.JobID).
			Updates(updates).Error; err != nil {
			return report, errors.Wrap(err, "update cleanup job")
		}
		if runErr != nil {
			config.Log.WithField("job_id", job.JobID).WithField("public_id", job.PublicID).
				WithError(runErr).Warn("storage cleanup attempt failed")
		}
	}
	return report, nil
}

// RunReconciler calls ReconcileStorage every interval until ctx is cancelled.
func (s *AssetService) RunReconciler(ctx context.Context, interval time.Duration, limit int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := s.ReconcileStorage(ctx, limit)
		if err != nil && ctx.Err() == nil {
			config.Log.WithError(err).Error("storage reconcile failed")
		} else if report.Processed > 0 {
			config.Log.WithField("done", report.Done).
				WithField("retrying", report.Retrying).
				WithField("failed", report.Failed).
				Info("storage reconcile pass")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
