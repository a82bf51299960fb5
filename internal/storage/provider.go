package storage

import (
	"context"
	"io"
	"time"
)

type PutResult struct {
	ETag      string
	VersionId string
	Location  string
}

type ObjectMetadata struct {
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time

	// Skipped is set when the destination already existed and nothing was
	// downloaded.
	Skipped bool
}

type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader, contentType string) (PutResult, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) (ObjectMetadata, error)
}
