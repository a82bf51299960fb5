package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lora-runner/internal/database"
	"lora-runner/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

func testPolicy() utils.RetryPolicy {
	return utils.RetryPolicy{Attempts: 3, Delay: time.Millisecond}
}

// flakyProvider fails the first n PutObject calls, n = failures.
type flakyProvider struct {
	Provider
	failures  int
	puts      int
	downloads int
}

func (p *flakyProvider) PutObject(ctx context.Context, bucket, key string, data io.Reader, contentType string) (PutResult, error) {
	p.puts++
	if p.puts <= p.failures {
		io.Copy(io.Discard, data) //nolint:errcheck
		return PutResult{}, errFlaky
	}
	return p.Provider.PutObject(ctx, bucket, key, data, contentType)
}

func (p *flakyProvider) DownloadObject(ctx context.Context, bucket, key, filename string) (ObjectMetadata, error) {
	p.downloads++
	return p.Provider.DownloadObject(ctx, bucket, key, filename)
}

type flakyRecorder struct {
	failures int
	calls    int
	records  []database.UploadRecord
}

func (r *flakyRecorder) CreateUploadRecord(ctx context.Context, record database.UploadRecord) (*database.UploadRecord, error) {
	r.calls++
	if r.calls <= r.failures {
		return nil, errFlaky
	}
	record.Id = "record-1"
	r.records = append(r.records, record)
	return &record, nil
}

func setupSqliteRecords(t *testing.T) *database.GormStore {
	t.Helper()
	store, err := database.OpenSqliteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) }) //nolint:errcheck
	return store
}

func TestGatewayStoreRetriesTransientFailures(t *testing.T) {
	local, baseDir := setupTestProvider(t)
	provider := &flakyProvider{Provider: local, failures: 2}
	records := setupSqliteRecords(t)
	gateway := NewGateway(provider, records, testPolicy())

	res, err := gateway.Store(context.Background(), "loras", "user-1/M1.safetensors", []byte("weights"), "TENSOR")
	require.NoError(t, err)
	assert.Equal(t, 3, provider.puts)
	assert.Equal(t, int64(7), res.Size)
	assert.NotEmpty(t, res.Record.Id)

	data, err := os.ReadFile(filepath.Join(baseDir, "loras", "user-1", "M1.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	stored, err := records.ListUploadRecords(context.Background(), "loras", "user-1/M1.safetensors")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "TENSOR", stored[0].ContentType)
}

func TestGatewayStoreExhaustsRetries(t *testing.T) {
	local, _ := setupTestProvider(t)
	provider := &flakyProvider{Provider: local, failures: 5}
	records := &flakyRecorder{}
	gateway := NewGateway(provider, records, testPolicy())

	_, err := gateway.Store(context.Background(), "loras", "k", []byte("weights"), "TENSOR")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientStorage)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, provider.puts)
	assert.Equal(t, 0, records.calls)
}

func TestGatewayStoreRecordFailureDoesNotReupload(t *testing.T) {
	local, _ := setupTestProvider(t)
	provider := &flakyProvider{Provider: local}
	records := &flakyRecorder{failures: 2}
	gateway := NewGateway(provider, records, testPolicy())

	res, err := gateway.Store(context.Background(), "loras", "k", []byte("weights"), "TENSOR")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.puts)
	assert.Equal(t, 3, records.calls)
	require.Len(t, records.records, 1)
	assert.Equal(t, "record-1", res.Record.Id)
	assert.Equal(t, "loras", records.records[0].BucketName)
}

func TestGatewayStoreRecordFailureExhausted(t *testing.T) {
	local, _ := setupTestProvider(t)
	records := &flakyRecorder{failures: 3}
	gateway := NewGateway(local, records, testPolicy())

	_, err := gateway.Store(context.Background(), "loras", "k", []byte("weights"), "TENSOR")
	assert.ErrorIs(t, err, ErrTransientStorage)
	assert.Empty(t, records.records)
}

func TestGatewayFetch(t *testing.T) {
	local, _ := setupTestProvider(t)
	provider := &flakyProvider{Provider: local}
	gateway := NewGateway(provider, &flakyRecorder{}, testPolicy())

	_, err := local.PutObject(context.Background(), "loras", "k", bytes.NewReader([]byte("payload")), "TENSOR")
	require.NoError(t, err)

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "sub", "file.bin")

	meta, err := gateway.Fetch(context.Background(), "loras", "k", dest)
	require.NoError(t, err)
	assert.False(t, meta.Skipped)
	assert.Equal(t, "TENSOR", meta.ContentType)
	assert.Equal(t, 1, provider.downloads)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	meta, err = gateway.Fetch(context.Background(), "loras", "k", dest)
	require.NoError(t, err)
	assert.True(t, meta.Skipped)
	assert.Equal(t, 1, provider.downloads)
}

func TestGatewayFetchErrorLeavesNoFile(t *testing.T) {
	local, _ := setupTestProvider(t)
	gateway := NewGateway(local, &flakyRecorder{}, testPolicy())

	destDir := t.TempDir()
	_, err := gateway.Fetch(context.Background(), "loras", "missing", filepath.Join(destDir, "file.bin"))
	require.Error(t, err)

	entries, err := os.ReadDir(destDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
