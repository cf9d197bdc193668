package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"instasave/pkg/models"
)

// DateLayout names the per-day media buckets
const DateLayout = "2006-01-02"

// Manager owns the media root. Files are laid out as <date>/<id>.<ext> and
// written once; an existing file is treated as already downloaded.
type Manager struct {
	root string
}

// NewManager creates the media root if needed
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute media root
func (m *Manager) Root() string {
	return m.root
}

// RelPath returns the slash separated path of a media file relative to the root
func RelPath(takenAt time.Time, id string, kind models.MediaKind) string {
	return fmt.Sprintf("%s/%s.%s", takenAt.UTC().Format(DateLayout), id, kind.Extension())
}

// Exists reports whether rel is already on disk
func (m *Manager) Exists(rel string) bool {
	abs, err := m.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Resolve maps a relative media path to an absolute one, refusing paths
// that escape the root
func (m *Manager) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty media path")
	}
	abs := filepath.Join(m.root, filepath.FromSlash(rel))
	if abs != m.root && !strings.HasPrefix(abs, m.root+string(filepath.Separator)) {
		return "", fmt.Errorf("media path %q escapes the media root", rel)
	}
	return abs, nil
}

// Save writes a media file atomically. The content goes to a temporary file
// in the target directory which is synced and renamed into place, so rel is
// either absent or complete.
func (m *Manager) Save(rel string, write func(w io.Writer) error) error {
	abs, err := m.Resolve(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create date directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync media file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
