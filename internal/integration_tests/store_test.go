package integrationtests

import (
	"context"
	"testing"
	"time"

	"lora-runner/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testStoreLifecycle(t *testing.T, ctx context.Context, store seedingStore, taskId, modelId string) {
	require.NoError(t, store.CreateTask(ctx, database.Task{
		Id:       taskId,
		UserId:   "U1",
		Metadata: database.TaskMetadata{Gender: "female", DatasetUrls: []string{"https://img/0"}},
	}))
	require.NoError(t, store.CreateModel(ctx, database.Model{Id: modelId, TaskId: taskId}))

	task, err := store.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, database.TaskPending, task.ProcessingStatus)
	assert.Equal(t, []string{"https://img/0"}, task.Metadata.DatasetUrls)
	assert.Nil(t, task.Result)

	started := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.MarkTaskProcessing(ctx, taskId, started))
	require.NoError(t, store.MarkTaskProcessing(ctx, taskId, started.Add(time.Hour)))

	task, err = store.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, database.TaskProcessing, task.ProcessingStatus)
	require.NotNil(t, task.ProcessingStartedAt)
	assert.WithinDuration(t, started, *task.ProcessingStartedAt, time.Second)

	result := database.TaskResult{
		CompletedIn: 1234,
		ModelUrl:    "https://loras.cheeryclick.com/U1/" + modelId + ".safetensors",
		LocationInfo: database.LocationInfo{
			BucketName:    "loras",
			OptimizedKeys: []string{},
			OriginalKeys:  []string{"U1/" + modelId + ".safetensors"},
		},
	}
	require.NoError(t, store.CompleteTask(ctx, taskId, modelId, result, time.Now().UTC()))

	task, err = store.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, database.TaskCompleted, task.ProcessingStatus)
	assert.Equal(t, 100, task.Progress)
	assert.True(t, task.Completed)
	require.NotNil(t, task.Result)
	assert.Equal(t, result.ModelUrl, task.Result.ModelUrl)
	assert.Equal(t, result.LocationInfo.OriginalKeys, task.Result.LocationInfo.OriginalKeys)

	model, err := store.GetModelByTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, modelId, model.Id)
	assert.Equal(t, database.ModelReady, model.Status)

	require.NoError(t, store.FailTask(ctx, taskId, "out of memory", time.Now().UTC()))

	task, err = store.GetTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, database.TaskFailed, task.ProcessingStatus)
	assert.False(t, task.Completed)
	require.NotNil(t, task.TrainingLog)
	assert.Equal(t, "out of memory", *task.TrainingLog)

	model, err = store.GetModelByTask(ctx, taskId)
	require.NoError(t, err)
	assert.Equal(t, database.ModelFailed, model.Status)

	_, err = store.GetTask(ctx, "000000000000000000000000")
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.ErrorIs(t, store.CompleteTask(ctx, taskId, "000000000000000000000001", result, time.Now()), database.ErrNotFound)

	record, err := store.CreateUploadRecord(ctx, database.UploadRecord{
		BucketName:  "loras",
		Key:         "U1/" + modelId + ".safetensors",
		ContentType: "TENSOR",
		UploadedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, record.Id)

	records, err := store.ListUploadRecords(ctx, "loras", "U1/"+modelId+".safetensors")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.Id, records[0].Id)
}

func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	testStoreLifecycle(t, ctx, createPostgresStore(t, ctx), "T1", "M1")
}

func TestMongoStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	testStoreLifecycle(t, ctx, createMongoStore(t, ctx), primitive.NewObjectID().Hex(), primitive.NewObjectID().Hex())
}
