package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// FileBackend stores content on the local file system. Each content type
// gets its own subdirectory under the base path, and files are named by
// their hex content ID. The layout doubles as the repository layout the
// GitHubBackend reads.
type FileBackend struct {
	basePath string
}

// NewFileBackend creates a file storage backend rooted at basePath,
// creating the base directory and the per-type subdirectories if needed.
func NewFileBackend(basePath string) (*FileBackend, error) {
	for _, contentType := range []interfaces.ContentType{interfaces.PolicyContent, interfaces.SignatureContent} {
		dir := filepath.Join(basePath, contentType.String())
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
		}
	}

	return &FileBackend{basePath: basePath}, nil
}

// Fetch reads content by ID from the type's subdirectory.
func (f *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	path, err := f.contentPath(id, contentType)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, interfaces.ErrContentNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading content file: %w", err)
	}

	return data, nil
}

// Store writes data to the type's subdirectory under its computed content ID.
func (f *FileBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	path, err := f.contentPath(id, contentType)
	if err != nil {
		return interfaces.ContentID{}, err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return interfaces.ContentID{}, fmt.Errorf("writing content file: %w", err)
	}

	return id, nil
}

// Available reports whether the base directory exists and is accessible.
func (f *FileBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(f.basePath)
	return err == nil && info.IsDir()
}

// Name returns an identifier for logging.
func (f *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(f.basePath))
}

// LocationURI returns the URI identifying this backend.
func (f *FileBackend) LocationURI() string {
	return fmt.Sprintf("file://%s", f.basePath)
}

func (f *FileBackend) contentPath(id interfaces.ContentID, contentType interfaces.ContentType) (string, error) {
	switch contentType {
	case interfaces.PolicyContent, interfaces.SignatureContent:
		return filepath.Join(f.basePath, contentType.String(), id.String()), nil
	default:
		return "", fmt.Errorf("unsupported content type: %d", contentType)
	}
}
