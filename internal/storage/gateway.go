package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"lora-runner/internal/database"
	"lora-runner/internal/utils"
)

var ErrTransientStorage = errors.New("transient storage error")

type UploadRecorder interface {
	CreateUploadRecord(ctx context.Context, record database.UploadRecord) (*database.UploadRecord, error)
}

type UploadResult struct {
	Bucket      string
	Key         string
	ContentType string
	Size        int64
	PutResult

	Record database.UploadRecord
}

// Gateway stores artifacts through a Provider and records every successful
// upload. The upload and the record insert are retried separately, so a
// failed insert never repeats an upload that already succeeded and each
// successful Store leaves exactly one record.
type Gateway struct {
	provider Provider
	records  UploadRecorder
	policy   utils.RetryPolicy
	now      func() time.Time
}

func NewGateway(provider Provider, records UploadRecorder, policy utils.RetryPolicy) *Gateway {
	return &Gateway{
		provider: provider,
		records:  records,
		policy:   policy,
		now:      time.Now,
	}
}

func (g *Gateway) Store(ctx context.Context, bucket, key string, buffer []byte, contentType string) (UploadResult, error) {
	var put PutResult
	err := utils.Retry(ctx, g.policy, "upload object", func(ctx context.Context) error {
		var err error
		// Each attempt needs a fresh reader over the whole buffer.
		put, err = g.provider.PutObject(ctx, bucket, key, bytes.NewReader(buffer), contentType)
		return err
	})
	if err != nil {
		slog.Error("upload failed", "bucket", bucket, "key", key, "error", err)
		return UploadResult{}, fmt.Errorf("%w: upload to %s/%s: %w", ErrTransientStorage, bucket, key, err)
	}

	var record *database.UploadRecord
	uploadedAt := g.now().UTC()
	err = utils.Retry(ctx, g.policy, "record upload", func(ctx context.Context) error {
		var err error
		record, err = g.records.CreateUploadRecord(ctx, database.UploadRecord{
			BucketName:  bucket,
			Key:         key,
			ContentType: contentType,
			UploadedAt:  uploadedAt,
		})
		return err
	})
	if err != nil {
		slog.Error("recording upload failed", "bucket", bucket, "key", key, "error", err)
		return UploadResult{}, fmt.Errorf("%w: record upload of %s/%s: %w", ErrTransientStorage, bucket, key, err)
	}

	slog.Info("file stored", "bucket", bucket, "key", key, "size", len(buffer), "record_id", record.Id)

	return UploadResult{
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(buffer)),
		PutResult:   put,
		Record:      *record,
	}, nil
}

// Fetch downloads bucket/key to dest unless dest already exists, in which case
// no request is made and the returned metadata has Skipped set. The download
// goes to a temporary file that is renamed into place on success.
func (g *Gateway) Fetch(ctx context.Context, bucket, key, dest string) (ObjectMetadata, error) {
	if _, err := os.Stat(dest); err == nil {
		slog.Info("file already exists, skipping download", "dest", dest)
		return ObjectMetadata{Skipped: true}, nil
	} else if !os.IsNotExist(err) {
		return ObjectMetadata{}, fmt.Errorf("failed to stat %s: %w", dest, err)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return ObjectMetadata{}, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.download")
	if err != nil {
		return ObjectMetadata{}, fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	meta, err := g.provider.DownloadObject(ctx, bucket, key, tmpName)
	if err != nil {
		os.Remove(tmpName)
		return ObjectMetadata{}, err
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return ObjectMetadata{}, fmt.Errorf("failed to move download into place at %s: %w", dest, err)
	}

	slog.Info("file downloaded", "bucket", bucket, "key", key, "dest", dest, "bytes", meta.ContentLength)
	return meta, nil
}
