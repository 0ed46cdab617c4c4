// Package local implements the on-disk artifact store for downloaded papers.
package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	artifactExt   = ".pdf"
	tempPattern   = ".download-*.tmp"
	tempGlob      = ".download-*.tmp"
	copyChunkSize = 8192
)

// Config captures the parameters for the local artifact store.
type Config struct {
	// BaseDir is the directory where artifacts are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ArtifactStore writes artifacts atomically: content lands in a temporary file
// inside BaseDir and is renamed into place only once fully written, so a
// partial file is never observable at the final path.
type ArtifactStore struct {
	baseDir string
}

// New creates the store, ensuring BaseDir exists and is writable, and removes
// temporary files left behind by an interrupted run.
func New(cfg Config) (*ArtifactStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	stale, err := filepath.Glob(filepath.Join(cfg.BaseDir, tempGlob))
	if err != nil {
		return nil, fmt.Errorf("scan stale downloads: %w", err)
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale download %s: %w", p, err)
		}
	}

	return &ArtifactStore{baseDir: cfg.BaseDir}, nil
}

// BaseDir returns the storage root.
func (s *ArtifactStore) BaseDir() string {
	return s.baseDir
}

// Path returns the final location for key, rejecting keys that escape BaseDir.
func (s *ArtifactStore) Path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Join(s.baseDir, key+artifactExt)

	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFullPath, nil
}

// Exists reports whether a completed artifact is present for key.
func (s *ArtifactStore) Exists(key string) (string, int64, bool, error) {
	p, err := s.Path(key)
	if err != nil {
		return "", 0, false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, 0, false, nil
		}
		return p, 0, false, fmt.Errorf("stat artifact: %w", err)
	}
	return p, info.Size(), info.Mode().IsRegular(), nil
}

// Write streams r to key's final path via a temporary file and returns the
// path and the number of bytes written. On any failure the temporary file is
// removed and nothing appears at the final path.
func (s *ArtifactStore) Write(key string, r io.Reader) (path string, written int64, err error) {
	path, err = s.Path(key)
	if err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(s.baseDir, tempPattern)
	if err != nil {
		return path, 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	buf := make([]byte, copyChunkSize)
	// Wrapping hides ReadFrom so the copy proceeds in fixed-size chunks.
	written, err = io.CopyBuffer(struct{ io.Writer }{tmp}, r, buf)
	if err != nil {
		return path, written, fmt.Errorf("write artifact: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return path, written, fmt.Errorf("sync artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return path, written, fmt.Errorf("close artifact: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return path, written, fmt.Errorf("rename artifact: %w", err)
	}
	return path, written, nil
}
