package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type TaskRow struct {
	Id       string `gorm:"primaryKey"`
	UserId   string `gorm:"index"`
	Metadata datatypes.JSONType[TaskMetadata]

	ProcessingStatus string `gorm:"size:20;not null;default:pending"`
	Progress         int    `gorm:"default:0"`
	Completed        bool   `gorm:"default:false"`

	ProcessingStartedAt   sql.NullTime
	ProcessingCompletedAt sql.NullTime
	UpdatedAt             time.Time

	Result      datatypes.JSON
	TrainingLog sql.NullString
}

func (TaskRow) TableName() string {
	return "tasks"
}

type ModelRow struct {
	Id     string `gorm:"primaryKey"`
	TaskId string `gorm:"uniqueIndex;not null"`
	Status string `gorm:"size:20;not null"`
}

func (ModelRow) TableName() string {
	return "models"
}

type UploadRecordRow struct {
	Id          string `gorm:"primaryKey"`
	BucketName  string `gorm:"index:idx_upload_object;not null"`
	Key         string `gorm:"index:idx_upload_object;not null"`
	ContentType string
	UploadedAt  time.Time
}

func (UploadRecordRow) TableName() string {
	return "cloudflare_r2"
}

func (r *TaskRow) toTask() (*Task, error) {
	task := &Task{
		Id:               r.Id,
		UserId:           r.UserId,
		Metadata:         r.Metadata.Data(),
		ProcessingStatus: r.ProcessingStatus,
		Progress:         r.Progress,
		Completed:        r.Completed,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ProcessingStartedAt.Valid {
		t := r.ProcessingStartedAt.Time
		task.ProcessingStartedAt = &t
	}
	if r.ProcessingCompletedAt.Valid {
		t := r.ProcessingCompletedAt.Time
		task.ProcessingCompletedAt = &t
	}
	if r.TrainingLog.Valid {
		msg := r.TrainingLog.String
		task.TrainingLog = &msg
	}
	if len(r.Result) > 0 && string(r.Result) != "null" {
		var result TaskResult
		if err := json.Unmarshal(r.Result, &result); err != nil {
			return nil, fmt.Errorf("error decoding result of task %s: %w", r.Id, err)
		}
		task.Result = &result
	}
	return task, nil
}

func (r *ModelRow) toModel() *Model {
	return &Model{Id: r.Id, TaskId: r.TaskId, Status: r.Status}
}

func (r *UploadRecordRow) toUploadRecord() UploadRecord {
	return UploadRecord{
		Id:          r.Id,
		BucketName:  r.BucketName,
		Key:         r.Key,
		ContentType: r.ContentType,
		UploadedAt:  r.UploadedAt,
	}
}
