// Package storage persists rendered views of a run on the filesystem or in
// S3-compatible object storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docutag/interlinker/models"
)

// View file names under a run's prefix
const (
	FileOriginal = "original.html"
	FileLinked   = "linked.html"
	FileModified = "modified.html"
	FileStats    = "stats.json"
)

// ErrUnknownView is returned for a view name other than original, linked or modified
var ErrUnknownView = errors.New("unknown view")

// ViewStore stores the three rendered views and their stats under one prefix
type ViewStore interface {
	SaveViews(ctx context.Context, name string, views models.RenderedViews) (string, error)
	ReadView(ctx context.Context, prefix, view string) (string, error)
	DeleteViews(ctx context.Context, prefix string) error
}

// Config contains storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// Storage handles filesystem storage operations
type Storage struct {
	config Config
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}
	return &Storage{config: config}, nil
}

// viewPrefix is views/YYYY/MM/name
func viewPrefix(now time.Time, name string) string {
	return path.Join("views", fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())), name)
}

// viewFile maps a view name to its file
func viewFile(view string) (string, error) {
	switch view {
	case "original":
		return FileOriginal, nil
	case "linked":
		return FileLinked, nil
	case "modified":
		return FileModified, nil
	case "stats":
		return FileStats, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, view)
}

// viewFiles returns the file contents to write for views
func viewFiles(views models.RenderedViews) (map[string][]byte, error) {
	stats, err := json.MarshalIndent(views.Stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render stats: %w", err)
	}
	return map[string][]byte{
		FileOriginal: []byte(views.OriginalHTML),
		FileLinked:   []byte(views.LinkedHTML),
		FileModified: []byte(views.ModifiedHTML),
		FileStats:    stats,
	}, nil
}

// SaveViews writes the views under views/YYYY/MM/name and returns the relative
// prefix. An existing directory of the same name gets a numeric suffix.
func (s *Storage) SaveViews(_ context.Context, name string, views models.RenderedViews) (string, error) {
	files, err := viewFiles(views)
	if err != nil {
		return "", err
	}

	// Generate directory structure: views/YYYY/MM/name
	prefix := viewPrefix(time.Now(), name)
	dirPath := filepath.Join(s.config.BasePath, filepath.FromSlash(prefix))
	// Check if directory already exists and make unique if necessary
	for counter := 1; fileExists(dirPath); counter++ {
		prefix = viewPrefix(time.Now(), fmt.Sprintf("%s-%d", name, counter))
		dirPath = filepath.Join(s.config.BasePath, filepath.FromSlash(prefix))
	}

	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create view directory: %w", err)
	}
	// Write files
	for file, data := range files {
		if err := os.WriteFile(filepath.Join(dirPath, file), data, 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", file, err)
		}
	}

	// Return relative path from base storage directory
	return prefix, nil
}

// ReadView reads one view ("original", "linked", "modified" or "stats")
func (s *Storage) ReadView(_ context.Context, prefix, view string) (string, error) {
	file, err := viewFile(view)
	if err != nil {
		return "", err
	}
	fullPath, err := s.resolve(prefix)
	if err != nil {
		return "", err
	}
	// Read file
	data, err := os.ReadFile(filepath.Join(fullPath, file))
	if err != nil {
		return "", fmt.Errorf("failed to read view: %w", err)
	}
	return string(data), nil
}

// DeleteViews removes every file under prefix
func (s *Storage) DeleteViews(_ context.Context, prefix string) error {
	fullPath, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	// Remove directory and all contents
	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("failed to delete views: %w", err)
	}
	return nil
}

// GetFullPath returns the absolute path for a relative path
func (s *Storage) GetFullPath(relPath string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(relPath))
}

// resolve joins prefix to the base path, refusing paths that escape it
func (s *Storage) resolve(prefix string) (string, error) {
	// Normalize the prefix and reject traversal
	clean := path.Clean("/" + prefix)
	if clean == "/" || strings.Contains(prefix, "..") {
		return "", fmt.Errorf("invalid storage path %q", prefix)
	}
	return s.GetFullPath(strings.TrimPrefix(clean, "/")), nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
