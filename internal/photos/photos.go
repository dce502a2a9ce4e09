// Package photos stores uploaded ID photos. Records only keep the
// returned reference; photo bytes never pass through the ledger.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for names that would escape the upload directory.
var ErrInvalidName = errors.New("photos: invalid file name")

// Store saves a photo under name and returns the reference to record.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Local writes photos into a directory on disk.
type Local struct {
	Dir string
}

// NewLocal creates the upload directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("photos: create upload dir: %w", err)
	}
	return &Local{Dir: dir}, nil
}

// Save writes the photo and returns its file name.
func (l *Local) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.WriteFile(filepath.Join(l.Dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("photos: write %s: %w", name, err)
	}
	return name, nil
}

// Remover is implemented by stores that can delete a saved photo.
type Remover interface {
	Remove(ctx context.Context, ref string) error
}

// Remove deletes a photo saved by Save. A missing file is not an error.
func (l *Local) Remove(_ context.Context, ref string) error {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, ref)
	}
	if err := os.Remove(filepath.Join(l.Dir, ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("photos: remove %s: %w", ref, err)
	}
	return nil
}
