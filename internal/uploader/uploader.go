// Package uploader ships finished stats artifacts to cloud storage. Upload
// failures never change the worker's exit code; the local artifact stays
// authoritative.
package uploader

import (
	"context"
	"strings"

	"tally/internal/params"
)

// Uploader ships artifact files under a per-run key prefix.
type Uploader interface {
	Enabled() bool
	UploadFiles(ctx context.Context, runID string, paths []string) (string, error)
}

// NoopUploader stands in when no storage backend is configured.
type NoopUploader struct{}

func (n NoopUploader) Enabled() bool {
	return false
}

func (n NoopUploader) UploadFiles(ctx context.Context, runID string, paths []string) (string, error) {
	return "", nil
}

// New picks the configured backend, preferring S3 when both are enabled.
func New(cfg params.StorageConfig) (Uploader, error) {
	if cfg.S3.Enabled {
		return NewS3(cfg.S3)
	}
	if cfg.GCS.Enabled {
		return NewGCS(cfg.GCS)
	}
	return NoopUploader{}, nil
}

func keyPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix
}

func objectKey(prefix, runID, name string) string {
	return keyPrefix(prefix) + runID + "/" + name
}
