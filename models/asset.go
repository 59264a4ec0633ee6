package models

import "time"

// StoredAsset is written once the storage backend confirmed the object.
type StoredAsset struct {
	AssetID      uint      `gorm:"primaryKey;column:asset_id" json:"-"`
	PublicID     string    `gorm:"column:public_id;size:255;uniqueIndex;not null" json:"publicId"`
	OwnerID      uint      `gorm:"column:owner_id;index;not null" json:"ownerId"`
	URL          string    `gorm:"column:url;type:text" json:"url"`
	Name         string    `gorm:"column:name;size:255" json:"name"`
	ContentType  string    `gorm:"column:content_type;size:128" json:"type"`
	Size         int64     `gorm:"column:size" json:"size"`
	ResourceType string    `gorm:"column:resource_type;size:32" json:"resourceType"`
	CreateAt     time.Time `gorm:"column:create_at;autoCreateTime" json:"createdAt"`
}

func (StoredAsset) TableName() string { return "stored_assets" }

const (
	// CleanupPurgeRecord removes DB references to an object already gone from storage.
	CleanupPurgeRecord = "purge_record"
	// CleanupPurgeObject deletes a storage object no longer referenced by any record.
	CleanupPurgeObject = "purge_object"

	CleanupPending = "pending"
	CleanupDone    = "done"
	CleanupFailed  = "failed"
)

// StorageCleanupJob is a queued compensating action for a half-finished asset deletion.
type StorageCleanupJob struct {
	JobID     uint      `gorm:"primaryKey;column:job_id" json:"id"`
	PublicID  string    `gorm:"column:public_id;size:255;index;not null" json:"publicId"`
	Kind      string    `gorm:"column:kind;size:32;not null" json:"kind"`
	Status    string    `gorm:"column:status;size:16;index;not null;default:'pending'" json:"status"`
	Attempts  int       `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError *string   `gorm:"column:last_error;type:text" json:"lastError,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (StorageCleanupJob) TableName() string { return "storage_cleanup_jobs" }
