// Package local archives run reports to a directory on the local
// filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the filesystem destination for archived run reports.
type Config struct {
	// BaseDir is the directory all report objects are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes report objects below one base directory. It satisfies
// report.BlobStore and returns file:// URIs.
type BlobStore struct {
	baseDir string
}

// New validates that the base directory exists (creating it if needed) and
// is writable, and returns the store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path %q is not a directory", cfg.BaseDir)
	}

	// Probe writability up front so a read-only volume fails at setup, not
	// at the end of a run when the report is archived.
	probe := filepath.Join(cfg.BaseDir, ".parmon-write-probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// PutObject writes the report under baseDir/path, creating intermediate
// directories, and returns the file:// URI. Paths escaping the base
// directory are rejected.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("object path is required")
	}

	full := filepath.Join(s.baseDir, path)
	if !strings.HasPrefix(filepath.Clean(full), filepath.Clean(s.baseDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("object path %q escapes the base directory", path)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	payload, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read report payload: %w", err)
	}
	if err := os.WriteFile(full, payload, 0o600); err != nil {
		return "", fmt.Errorf("write report object: %w", err)
	}

	return fmt.Sprintf("file://%s", full), nil
}
