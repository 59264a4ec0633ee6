package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the service uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Competition{},
		&Prize{},
		&Registration{},
		&Winner{},
		&Round{},
		&RoundResource{},
		&Submission{},
		&SubmissionFile{},
		&SubmissionStatusHistory{},
		&EvaluationRecord{},
		&StoredAsset{},
		&StorageCleanupJob{},
		&Notification{},
		&NotificationMessage{},
		&Conversation{},
		&Message{},
	)
}
