package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Task struct {
	Id       string `gorm:"primaryKey"`
	UserId   string `gorm:"index"`
	Metadata datatypes.JSON

	ProcessingStatus string `gorm:"size:20;not null;default:pending"`
	Progress         int    `gorm:"default:0"`
	Completed        bool   `gorm:"default:false"`

	ProcessingStartedAt   sql.NullTime
	ProcessingCompletedAt sql.NullTime
	UpdatedAt             time.Time

	Result datatypes.JSON
}

func (Task) TableName() string {
	return "tasks"
}

type Model struct {
	Id     string `gorm:"primaryKey"`
	TaskId string `gorm:"uniqueIndex;not null"`
	Status string `gorm:"size:20;not null"`
}

func (Model) TableName() string {
	return "models"
}

type UploadRecord struct {
	Id          string `gorm:"primaryKey"`
	BucketName  string `gorm:"index:idx_upload_object;not null"`
	Key         string `gorm:"index:idx_upload_object;not null"`
	ContentType string
	UploadedAt  time.Time
}

func (UploadRecord) TableName() string {
	return "cloudflare_r2"
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Task{}, &Model{}, &UploadRecord{}); err != nil {
		return fmt.Errorf("error creating initial tables: %w", err)
	}
	return nil
}
