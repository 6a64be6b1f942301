// Package gcs archives run reports to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config holds the GCS destination for archived run reports.
type Config struct {
	// Bucket is the target bucket name, without a gs:// prefix.
	Bucket string
}

// BlobStore uploads report objects to one bucket. It satisfies
// report.BlobStore; the client is shared and owned by the caller.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New builds a BlobStore over an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject streams the report into the bucket under path and returns the
// gs:// URI of the written object.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("object path is required")
	}
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("upload report object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("upload report object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize report object: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
