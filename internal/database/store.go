package database

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

const (
	TaskPending    string = "pending"
	TaskProcessing string = "processing"
	TaskCompleted  string = "completed"
	TaskFailed     string = "failed"
)

const (
	ModelPending string = "pending"
	ModelReady   string = "ready"
	ModelFailed  string = "failed"
)

type TaskMetadata struct {
	Gender      string   `json:"gender"`
	DatasetUrls []string `json:"datasetUrls"`
}

type LocationInfo struct {
	BucketName    string   `json:"bucketName"`
	OptimizedKeys []string `json:"optimizedKeys"`
	OriginalKeys  []string `json:"originalKeys"`
}

type TaskResult struct {
	CompletedIn  int64        `json:"completedIn"`
	ModelUrl     string       `json:"modelUrl"`
	LocationInfo LocationInfo `json:"locationInfo"`
}

type Task struct {
	Id       string
	UserId   string
	Metadata TaskMetadata

	ProcessingStatus string
	Progress         int
	Completed        bool

	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	UpdatedAt             time.Time

	Result      *TaskResult
	TrainingLog *string
}

type Model struct {
	Id     string
	TaskId string
	Status string
}

type UploadRecord struct {
	Id          string
	BucketName  string
	Key         string
	ContentType string
	UploadedAt  time.Time
}

// Store is the gateway to the tasks, models and upload metadata collections.
//
// CompleteTask and FailTask change a task and its model together. Backends
// that support transactions apply both writes atomically. Otherwise the model
// is written first and the task last: the task is the record of truth, so a
// crash in between leaves the task unfinished and a rerun repeats the upload
// under the same key and rewrites both records.
type Store interface {
	GetTask(ctx context.Context, taskId string) (*Task, error)

	GetModelByTask(ctx context.Context, taskId string) (*Model, error)

	MarkTaskProcessing(ctx context.Context, taskId string, now time.Time) error

	CompleteTask(ctx context.Context, taskId, modelId string, result TaskResult, now time.Time) error

	FailTask(ctx context.Context, taskId, reason string, now time.Time) error

	CreateUploadRecord(ctx context.Context, record UploadRecord) (*UploadRecord, error)

	ListUploadRecords(ctx context.Context, bucket, key string) ([]UploadRecord, error)

	Close(ctx context.Context) error
}
