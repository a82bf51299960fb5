package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormStore keeps the collections as SQL tables. It backs local runs (sqlite)
// and deployments that use postgres instead of a document database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetTask(ctx context.Context, taskId string) (*Task, error) {
	var row TaskRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", taskId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskId, ErrNotFound)
		}
		slog.Error("error loading task", "task_id", taskId, "error", err)
		return nil, fmt.Errorf("error loading task %s: %w", taskId, err)
	}
	return row.toTask()
}

func (s *GormStore) GetModelByTask(ctx context.Context, taskId string) (*Model, error) {
	var row ModelRow
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskId).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("model for task %s: %w", taskId, ErrNotFound)
		}
		slog.Error("error loading model", "task_id", taskId, "error", err)
		return nil, fmt.Errorf("error loading model for task %s: %w", taskId, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) MarkTaskProcessing(ctx context.Context, taskId string, now time.Time) error {
	result := s.db.WithContext(ctx).Model(&TaskRow{}).Where("id = ?", taskId).Updates(map[string]any{
		"processing_status":     TaskProcessing,
		"processing_started_at": gorm.Expr("COALESCE(processing_started_at, ?)", now.UTC()),
		"updated_at":            now.UTC(),
	})
	if result.Error != nil {
		slog.Error("error marking task processing", "task_id", taskId, "error", result.Error)
		return fmt.Errorf("error marking task %s processing: %w", taskId, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", taskId, ErrNotFound)
	}
	return nil
}

func (s *GormStore) CompleteTask(ctx context.Context, taskId, modelId string, result TaskResult, now time.Time) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("error encoding result of task %s: %w", taskId, err)
	}

	return s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		update := txn.Model(&ModelRow{}).Where("id = ?", modelId).Update("status", ModelReady)
		if update.Error != nil {
			slog.Error("error updating model status", "model_id", modelId, "status", ModelReady, "error", update.Error)
			return fmt.Errorf("error updating model %s: %w", modelId, update.Error)
		}
		if update.RowsAffected == 0 {
			return fmt.Errorf("model %s: %w", modelId, ErrNotFound)
		}

		update = txn.Model(&TaskRow{}).Where("id = ?", taskId).Updates(map[string]any{
			"processing_status":       TaskCompleted,
			"progress":                100,
			"completed":               true,
			"processing_completed_at": now.UTC(),
			"updated_at":              now.UTC(),
			"result":                  datatypes.JSON(encoded),
		})
		if update.Error != nil {
			slog.Error("error completing task", "task_id", taskId, "error", update.Error)
			return fmt.Errorf("error completing task %s: %w", taskId, update.Error)
		}
		if update.RowsAffected == 0 {
			return fmt.Errorf("task %s: %w", taskId, ErrNotFound)
		}
		return nil
	})
}

func (s *GormStore) FailTask(ctx context.Context, taskId, reason string, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		update := txn.Model(&TaskRow{}).Where("id = ?", taskId).Updates(map[string]any{
			"processing_status":       TaskFailed,
			"completed":               false,
			"processing_completed_at": now.UTC(),
			"updated_at":              now.UTC(),
			"training_log":            reason,
		})
		if update.Error != nil {
			slog.Error("error failing task", "task_id", taskId, "error", update.Error)
			return fmt.Errorf("error marking task %s failed: %w", taskId, update.Error)
		}
		if update.RowsAffected == 0 {
			return fmt.Errorf("task %s: %w", taskId, ErrNotFound)
		}

		// A task may fail before its model exists.
		if err := txn.Model(&ModelRow{}).Where("task_id = ?", taskId).Update("status", ModelFailed).Error; err != nil {
			slog.Error("error updating model status", "task_id", taskId, "status", ModelFailed, "error", err)
			return fmt.Errorf("error marking model of task %s failed: %w", taskId, err)
		}
		return nil
	})
}

func (s *GormStore) CreateUploadRecord(ctx context.Context, record UploadRecord) (*UploadRecord, error) {
	row := UploadRecordRow{
		Id:          record.Id,
		BucketName:  record.BucketName,
		Key:         record.Key,
		ContentType: record.ContentType,
		UploadedAt:  record.UploadedAt.UTC(),
	}
	if row.Id == "" {
		row.Id = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		slog.Error("error creating upload record", "bucket", record.BucketName, "key", record.Key, "error", err)
		return nil, fmt.Errorf("error creating upload record: %w", err)
	}
	created := row.toUploadRecord()
	return &created, nil
}

func (s *GormStore) ListUploadRecords(ctx context.Context, bucket, key string) ([]UploadRecord, error) {
	var rows []UploadRecordRow
	if err := s.db.WithContext(ctx).Where(&UploadRecordRow{BucketName: bucket, Key: key}).Order("uploaded_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing upload records: %w", err)
	}
	records := make([]UploadRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toUploadRecord())
	}
	return records, nil
}

func (s *GormStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("error getting sql handle: %w", err)
	}
	return sqlDB.Close()
}

// CreateTask inserts a task. Tasks are normally created by the service that
// accepts training requests; this is used for seeding and local runs.
func (s *GormStore) CreateTask(ctx context.Context, task Task) error {
	row := TaskRow{
		Id:               task.Id,
		UserId:           task.UserId,
		Metadata:         datatypes.NewJSONType(task.Metadata),
		ProcessingStatus: task.ProcessingStatus,
		Progress:         task.Progress,
		Completed:        task.Completed,
		UpdatedAt:        time.Now().UTC(),
	}
	if row.ProcessingStatus == "" {
		row.ProcessingStatus = TaskPending
	}
	if task.ProcessingStartedAt != nil {
		row.ProcessingStartedAt = sql.NullTime{Time: task.ProcessingStartedAt.UTC(), Valid: true}
	}
	if task.Result != nil {
		encoded, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("error encoding result of task %s: %w", task.Id, err)
		}
		row.Result = datatypes.JSON(encoded)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("error creating task %s: %w", task.Id, err)
	}
	return nil
}

func (s *GormStore) CreateModel(ctx context.Context, model Model) error {
	row := ModelRow{Id: model.Id, TaskId: model.TaskId, Status: model.Status}
	if row.Status == "" {
		row.Status = ModelPending
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("error creating model %s: %w", model.Id, err)
	}
	return nil
}
