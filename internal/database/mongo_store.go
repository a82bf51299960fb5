package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	TasksCollection   = "tasks"
	ModelsCollection  = "models"
	UploadsCollection = "cloudflare_r2"
)

// Returned by standalone servers for transaction commands.
const illegalOperationCode = 20

// flexibleID reads an _id or reference stored either as an ObjectId or as a
// plain string and writes it back in the same representation idValue picks.
type flexibleID string

func (id flexibleID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(idValue(string(id)))
}

func (id *flexibleID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	if oid, ok := raw.ObjectIDOK(); ok {
		*id = flexibleID(oid.Hex())
		return nil
	}
	if s, ok := raw.StringValueOK(); ok {
		*id = flexibleID(s)
		return nil
	}
	if t == bsontype.Null || t == bsontype.Undefined {
		*id = ""
		return nil
	}
	return fmt.Errorf("unsupported id type %s", t)
}

func idValue(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

type taskMetadataDocument struct {
	Gender      string   `bson:"gender"`
	DatasetUrls []string `bson:"datasetUrls"`
}

type locationInfoDocument struct {
	BucketName    string   `bson:"bucketName"`
	OptimizedKeys []string `bson:"optimizedKeys"`
	OriginalKeys  []string `bson:"originalKeys"`
}

type taskResultDocument struct {
	CompletedIn  int64                `bson:"completedIn"`
	ModelUrl     string               `bson:"modelUrl"`
	LocationInfo locationInfoDocument `bson:"locationInfo"`
}

type taskDocument struct {
	Id       flexibleID           `bson:"_id"`
	UserId   flexibleID           `bson:"userId"`
	Metadata taskMetadataDocument `bson:"metadata"`

	ProcessingStatus string `bson:"processingStatus"`
	Progress         int    `bson:"progress"`
	Completed        bool   `bson:"completed"`

	ProcessingStartedAt   *time.Time `bson:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time `bson:"processingCompletedAt,omitempty"`
	UpdatedAt             time.Time  `bson:"updatedAt"`

	Result      *taskResultDocument `bson:"result"`
	TrainingLog *string             `bson:"trainingLog,omitempty"`
}

type modelDocument struct {
	Id     flexibleID `bson:"_id"`
	TaskId flexibleID `bson:"taskId"`
	Status string     `bson:"status"`
}

type uploadRecordDocument struct {
	Id          primitive.ObjectID `bson:"_id"`
	BucketName  string             `bson:"bucketName"`
	Key         string             `bson:"key"`
	ContentType string             `bson:"contentType"`
	UploadedAt  time.Time          `bson:"uploadedAt"`
}

func (d *taskDocument) toTask() *Task {
	task := &Task{
		Id:     string(d.Id),
		UserId: string(d.UserId),
		Metadata: TaskMetadata{
			Gender:      d.Metadata.Gender,
			DatasetUrls: d.Metadata.DatasetUrls,
		},
		ProcessingStatus:      d.ProcessingStatus,
		Progress:              d.Progress,
		Completed:             d.Completed,
		ProcessingStartedAt:   d.ProcessingStartedAt,
		ProcessingCompletedAt: d.ProcessingCompletedAt,
		UpdatedAt:             d.UpdatedAt,
		TrainingLog:           d.TrainingLog,
	}
	if d.Result != nil {
		task.Result = &TaskResult{
			CompletedIn: d.Result.CompletedIn,
			ModelUrl:    d.Result.ModelUrl,
			LocationInfo: LocationInfo{
				BucketName:    d.Result.LocationInfo.BucketName,
				OptimizedKeys: d.Result.LocationInfo.OptimizedKeys,
				OriginalKeys:  d.Result.LocationInfo.OriginalKeys,
			},
		}
	}
	return task
}

func newTaskResultDocument(result TaskResult) *taskResultDocument {
	optimized := result.LocationInfo.OptimizedKeys
	if optimized == nil {
		optimized = []string{}
	}
	original := result.LocationInfo.OriginalKeys
	if original == nil {
		original = []string{}
	}
	return &taskResultDocument{
		CompletedIn: result.CompletedIn,
		ModelUrl:    result.ModelUrl,
		LocationInfo: locationInfoDocument{
			BucketName:    result.LocationInfo.BucketName,
			OptimizedKeys: optimized,
			OriginalKeys:  original,
		},
	}
}

// MongoStore is the production backend. Task and model updates run in a
// transaction when the deployment supports it (replica set or sharded
// cluster); on a standalone server they fall back to the ordered writes
// documented on Store.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database

	noTransactions atomic.Bool
}

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	slog.Info("connecting to mongo", "database", dbName)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx) //nolint:errcheck
		return nil, fmt.Errorf("unable to ping mongo: %w", err)
	}

	slog.Info("mongo connection established", "database", dbName)
	return &MongoStore{client: client, db: client.Database(dbName)}, nil
}

func (s *MongoStore) tasks() *mongo.Collection {
	return s.db.Collection(TasksCollection)
}

func (s *MongoStore) models() *mongo.Collection {
	return s.db.Collection(ModelsCollection)
}

func (s *MongoStore) uploads() *mongo.Collection {
	return s.db.Collection(UploadsCollection)
}

func (s *MongoStore) GetTask(ctx context.Context, taskId string) (*Task, error) {
	var doc taskDocument
	if err := s.tasks().FindOne(ctx, bson.M{"_id": idValue(taskId)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("task %s: %w", taskId, ErrNotFound)
		}
		slog.Error("error loading task", "task_id", taskId, "error", err)
		return nil, fmt.Errorf("error loading task %s: %w", taskId, err)
	}
	return doc.toTask(), nil
}

func (s *MongoStore) GetModelByTask(ctx context.Context, taskId string) (*Model, error) {
	var doc modelDocument
	if err := s.models().FindOne(ctx, bson.M{"taskId": idValue(taskId)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("model for task %s: %w", taskId, ErrNotFound)
		}
		slog.Error("error loading model", "task_id", taskId, "error", err)
		return nil, fmt.Errorf("error loading model for task %s: %w", taskId, err)
	}
	return &Model{Id: string(doc.Id), TaskId: string(doc.TaskId), Status: doc.Status}, nil
}

func (s *MongoStore) MarkTaskProcessing(ctx context.Context, taskId string, now time.Time) error {
	// The pipeline form keeps an existing processingStartedAt.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"processingStatus":    TaskProcessing,
			"updatedAt":           now,
			"processingStartedAt": bson.M{"$ifNull": bson.A{"$processingStartedAt", now}},
		}}},
	}
	res, err := s.tasks().UpdateOne(ctx, bson.M{"_id": idValue(taskId)}, update)
	if err != nil {
		slog.Error("error marking task processing", "task_id", taskId, "error", err)
		return fmt.Errorf("error marking task %s processing: %w", taskId, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("task %s: %w", taskId, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) CompleteTask(ctx context.Context, taskId, modelId string, result TaskResult, now time.Time) error {
	return s.withTransaction(ctx, func(ctx context.Context) error {
		res, err := s.models().UpdateOne(ctx, bson.M{"_id": idValue(modelId)}, bson.M{
			"$set": bson.M{"status": ModelReady},
		})
		if err != nil {
			slog.Error("error updating model status", "model_id", modelId, "status", ModelReady, "error", err)
			return fmt.Errorf("error updating model %s: %w", modelId, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("model %s: %w", modelId, ErrNotFound)
		}

		res, err = s.tasks().UpdateOne(ctx, bson.M{"_id": idValue(taskId)}, bson.M{
			"$set": bson.M{
				"processingStatus":      TaskCompleted,
				"updatedAt":             now,
				"progress":              100,
				"completed":             true,
				"processingCompletedAt": now,
				"result":                newTaskResultDocument(result),
			},
		})
		if err != nil {
			slog.Error("error completing task", "task_id", taskId, "error", err)
			return fmt.Errorf("error completing task %s: %w", taskId, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("task %s: %w", taskId, ErrNotFound)
		}
		return nil
	})
}

func (s *MongoStore) FailTask(ctx context.Context, taskId, reason string, now time.Time) error {
	return s.withTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.models().UpdateOne(ctx, bson.M{"taskId": idValue(taskId)}, bson.M{
			"$set": bson.M{"status": ModelFailed},
		}); err != nil {
			slog.Error("error updating model status", "task_id", taskId, "status", ModelFailed, "error", err)
			return fmt.Errorf("error marking model of task %s failed: %w", taskId, err)
		}

		res, err := s.tasks().UpdateOne(ctx, bson.M{"_id": idValue(taskId)}, bson.M{
			"$set": bson.M{
				"processingStatus":      TaskFailed,
				"updatedAt":             now,
				"processingCompletedAt": now,
				"completed":             false,
				"trainingLog":           reason,
			},
		})
		if err != nil {
			slog.Error("error failing task", "task_id", taskId, "error", err)
			return fmt.Errorf("error marking task %s failed: %w", taskId, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("task %s: %w", taskId, ErrNotFound)
		}
		return nil
	})
}

func (s *MongoStore) CreateUploadRecord(ctx context.Context, record UploadRecord) (*UploadRecord, error) {
	doc := uploadRecordDocument{
		Id:          primitive.NewObjectID(),
		BucketName:  record.BucketName,
		Key:         record.Key,
		ContentType: record.ContentType,
		UploadedAt:  record.UploadedAt.UTC(),
	}
	if record.Id != "" {
		oid, err := primitive.ObjectIDFromHex(record.Id)
		if err != nil {
			return nil, fmt.Errorf("invalid upload record id %q: %w", record.Id, err)
		}
		doc.Id = oid
	}
	if _, err := s.uploads().InsertOne(ctx, doc); err != nil {
		slog.Error("error creating upload record", "bucket", record.BucketName, "key", record.Key, "error", err)
		return nil, fmt.Errorf("error creating upload record: %w", err)
	}
	created := record
	created.Id = doc.Id.Hex()
	created.UploadedAt = doc.UploadedAt
	return &created, nil
}

func (s *MongoStore) ListUploadRecords(ctx context.Context, bucket, key string) ([]UploadRecord, error) {
	cursor, err := s.uploads().Find(ctx, bson.M{"bucketName": bucket, "key": key},
		options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing upload records: %w", err)
	}
	var docs []uploadRecordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("error decoding upload records: %w", err)
	}
	records := make([]UploadRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, UploadRecord{
			Id:          doc.Id.Hex(),
			BucketName:  doc.BucketName,
			Key:         doc.Key,
			ContentType: doc.ContentType,
			UploadedAt:  doc.UploadedAt,
		})
	}
	return records, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CreateTask inserts a task document, used for seeding and tests.
func (s *MongoStore) CreateTask(ctx context.Context, task Task) error {
	doc := taskDocument{
		Id:     flexibleID(task.Id),
		UserId: flexibleID(task.UserId),
		Metadata: taskMetadataDocument{
			Gender:      task.Metadata.Gender,
			DatasetUrls: task.Metadata.DatasetUrls,
		},
		ProcessingStatus:    task.ProcessingStatus,
		Progress:            task.Progress,
		Completed:           task.Completed,
		ProcessingStartedAt: task.ProcessingStartedAt,
		UpdatedAt:           time.Now().UTC(),
	}
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = TaskPending
	}
	if task.Result != nil {
		doc.Result = newTaskResultDocument(*task.Result)
	}
	if _, err := s.tasks().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("error creating task %s: %w", task.Id, err)
	}
	return nil
}

func (s *MongoStore) CreateModel(ctx context.Context, model Model) error {
	doc := modelDocument{Id: flexibleID(model.Id), TaskId: flexibleID(model.TaskId), Status: model.Status}
	if doc.Status == "" {
		doc.Status = ModelPending
	}
	if _, err := s.models().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("error creating model %s: %w", model.Id, err)
	}
	return nil
}

func (s *MongoStore) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.noTransactions.Load() {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("error starting mongo session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	if err == nil {
		return nil
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorCode(illegalOperationCode) {
		slog.Warn("mongo deployment does not support transactions, falling back to ordered writes")
		s.noTransactions.Store(true)
		return fn(ctx)
	}
	return err
}
