package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const localMetadataDir = ".metadata"

// LocalProvider keeps buckets as directories under dir. It is used for local
// runs and tests; content type and ETag are kept in a sidecar file per object.
type LocalProvider struct {
	dir string
}

type localObjectInfo struct {
	ContentType string    `json:"contentType"`
	ETag        string    `json:"etag"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

func NewLocalProvider(dir string) *LocalProvider {
	return &LocalProvider{dir: dir}
}

func (p *LocalProvider) objectPath(bucket, key string) string {
	return filepath.Join(p.dir, bucket, filepath.FromSlash(key))
}

func (p *LocalProvider) metadataPath(bucket, key string) string {
	return filepath.Join(p.dir, localMetadataDir, bucket, filepath.FromSlash(key)+".json")
}

func (p *LocalProvider) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(p.dir, bucket), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func (p *LocalProvider) PutObject(ctx context.Context, bucket, key string, data io.Reader, contentType string) (PutResult, error) {
	path := p.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return PutResult{}, fmt.Errorf("failed to create directory for %s/%s: %w", bucket, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to create file %s/%s: %w", bucket, key, err)
	}
	defer dst.Close()

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(dst, hash), data); err != nil {
		return PutResult{}, fmt.Errorf("failed to write file %s/%s: %w", bucket, key, err)
	}

	info := localObjectInfo{
		ContentType: contentType,
		ETag:        hex.EncodeToString(hash.Sum(nil)),
		UploadedAt:  time.Now().UTC(),
	}
	if err := p.writeInfo(bucket, key, info); err != nil {
		return PutResult{}, err
	}

	return PutResult{ETag: info.ETag, Location: path}, nil
}

func (p *LocalProvider) DownloadObject(ctx context.Context, bucket, key, filename string) (ObjectMetadata, error) {
	src, err := os.Open(p.objectPath(bucket, key))
	if err != nil {
		return ObjectMetadata{}, fmt.Errorf("failed to open object %s/%s: %w", bucket, key, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return ObjectMetadata{}, fmt.Errorf("failed to create directory for download %s: %w", filepath.Dir(filename), err)
	}

	dst, err := os.Create(filename)
	if err != nil {
		return ObjectMetadata{}, fmt.Errorf("failed to create file %s: %w", filename, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return ObjectMetadata{}, fmt.Errorf("failed to copy object %s/%s to %s: %w", bucket, key, filename, err)
	}

	info, err := p.readInfo(bucket, key)
	if err != nil {
		return ObjectMetadata{}, err
	}

	return ObjectMetadata{
		ContentType:   info.ContentType,
		ContentLength: n,
		ETag:          info.ETag,
		LastModified:  info.UploadedAt,
	}, nil
}

func (p *LocalProvider) writeInfo(bucket, key string, info localObjectInfo) error {
	path := p.metadataPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create metadata directory for %s/%s: %w", bucket, key, err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s/%s: %w", bucket, key, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata for %s/%s: %w", bucket, key, err)
	}
	return nil
}

// readInfo returns empty metadata for objects copied in without PutObject.
func (p *LocalProvider) readInfo(bucket, key string) (localObjectInfo, error) {
	var info localObjectInfo
	data, err := os.ReadFile(p.metadataPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return info, nil
		}
		return info, fmt.Errorf("failed to read metadata for %s/%s: %w", bucket, key, err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("failed to decode metadata for %s/%s: %w", bucket, key, err)
	}
	return info, nil
}
