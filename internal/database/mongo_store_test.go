package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFlexibleIDReadsObjectIdsAndStrings(t *testing.T) {
	oid := primitive.NewObjectID()

	raw, err := bson.Marshal(bson.M{"_id": oid, "taskId": "plain-id", "status": "ready"})
	require.NoError(t, err)

	var doc modelDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, oid.Hex(), string(doc.Id))
	assert.Equal(t, "plain-id", string(doc.TaskId))
	assert.Equal(t, "ready", doc.Status)
}

func TestFlexibleIDWritesObjectIdsForHex(t *testing.T) {
	oid := primitive.NewObjectID()

	raw, err := bson.Marshal(modelDocument{Id: flexibleID(oid.Hex()), TaskId: "T1", Status: ModelPending})
	require.NoError(t, err)

	var decoded bson.M
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	assert.Equal(t, oid, decoded["_id"])
	assert.Equal(t, "T1", decoded["taskId"])
}

func TestTaskDocumentConversion(t *testing.T) {
	raw, err := bson.Marshal(bson.M{
		"_id":              "T1",
		"userId":           primitive.NewObjectID(),
		"metadata":         bson.M{"gender": "male", "datasetUrls": bson.A{"u1"}},
		"processingStatus": TaskPending,
		"result":           nil,
	})
	require.NoError(t, err)

	var doc taskDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))
	task := doc.toTask()
	assert.Equal(t, "T1", task.Id)
	assert.Len(t, task.UserId, 24)
	assert.Equal(t, "male", task.Metadata.Gender)
	assert.Equal(t, []string{"u1"}, task.Metadata.DatasetUrls)
	assert.Nil(t, task.Result)
}

func TestNewTaskResultDocumentUsesEmptyArrays(t *testing.T) {
	doc := newTaskResultDocument(TaskResult{ModelUrl: "u"})
	assert.NotNil(t, doc.LocationInfo.OptimizedKeys)
	assert.NotNil(t, doc.LocationInfo.OriginalKeys)
}
