// Package storage implements the Storage collaborator on the local
// filesystem: one directory per sender under a configured root.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docverse/internal/domain"
)

// FileStore writes documents under root/<sender>/<jobid>_<name>.
type FileStore struct {
	root   string
	logger *slog.Logger
}

func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create storage root %s: %w", root, err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Store writes the document durably: temp file first, then rename, so
// a crash never leaves a half-written artifact at the final location.
func (f *FileStore) Store(ctx context.Context, job domain.DocumentJob, data []byte) (string, error) {
	dir := filepath.Join(f.root, sanitize(job.Sender))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sender dir: %w", err)
	}

	name := sanitize(job.Filename)
	if name == "" {
		name = "document"
	}
	final := filepath.Join(dir, sanitize(job.MediaID)+"_"+name)

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close document: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize document: %w", err)
	}

	f.logger.Debug("document stored", "location", final, "bytes", len(data))
	return final, nil
}

// Remove deletes a stored artifact. Removing something already gone is
// not an error.
func (f *FileStore) Remove(ctx context.Context, location string) error {
	rel, err := filepath.Rel(f.root, location)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("location %s outside storage root", location)
	}
	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}

// sanitize strips path separators and other characters unsafe for
// filenames, and bounds the length.
func sanitize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}
	out := sb.String()
	if len(out) > 200 {
		ext := filepath.Ext(out)
		out = out[:200-len(ext)] + ext
	}
	return out
}
