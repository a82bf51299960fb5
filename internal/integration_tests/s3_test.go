package integrationtests

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lora-runner/internal/storage"
	"lora-runner/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "loras"

func TestS3Provider_PutAndDownload(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := createS3Provider(t, ctx)
	require.NoError(t, provider.CreateBucket(ctx, bucketName))
	require.NoError(t, provider.CreateBucket(ctx, bucketName))

	content := []byte("Test weights")
	put, err := provider.PutObject(ctx, bucketName, "U1/M1.safetensors", bytes.NewReader(content), "TENSOR")
	require.NoError(t, err)
	assert.NotEmpty(t, put.ETag)

	dest := filepath.Join(t.TempDir(), "M1.safetensors")
	meta, err := provider.DownloadObject(ctx, bucketName, "U1/M1.safetensors", dest)
	require.NoError(t, err)
	assert.Equal(t, "TENSOR", meta.ContentType)
	assert.Equal(t, int64(len(content)), meta.ContentLength)
	assert.Equal(t, put.ETag, meta.ETag)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestS3Provider_DownloadMissing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := createS3Provider(t, ctx)
	require.NoError(t, provider.CreateBucket(ctx, bucketName))

	dest := filepath.Join(t.TempDir(), "missing.bin")
	_, err := provider.DownloadObject(ctx, bucketName, "missing", dest)
	assert.Error(t, err)
	assert.NoFileExists(t, dest)
}

func TestGateway_StoreAndFetch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := createS3Provider(t, ctx)
	require.NoError(t, provider.CreateBucket(ctx, bucketName))
	store := createPostgresStore(t, ctx)

	gateway := storage.NewGateway(provider, store, utils.RetryPolicy{Attempts: 3, Delay: 10 * time.Millisecond})

	result, err := gateway.Store(ctx, bucketName, "U1/M1.safetensors", []byte("weights"), "TENSOR")
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Size)
	assert.NotEmpty(t, result.Record.Id)

	records, err := store.ListUploadRecords(ctx, bucketName, "U1/M1.safetensors")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "TENSOR", records[0].ContentType)

	dest := filepath.Join(t.TempDir(), "nested", "M1.safetensors")
	meta, err := gateway.Fetch(ctx, bucketName, "U1/M1.safetensors", dest)
	require.NoError(t, err)
	assert.False(t, meta.Skipped)
	assert.Equal(t, int64(7), meta.ContentLength)

	meta, err = gateway.Fetch(ctx, bucketName, "U1/M1.safetensors", dest)
	require.NoError(t, err)
	assert.True(t, meta.Skipped)
}
