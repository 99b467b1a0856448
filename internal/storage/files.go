// Package storage keeps gallery and history image files under the data directory.
//
// Stored references are slash-separated paths relative to the root, so the
// data directory can move without rewriting database rows.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
)

const (
	galleryDir = "gallery"
	historyDir = "history"
)

// FileStore reads and writes files below a root directory.
type FileStore struct {
	root string
}

// New creates the root layout if needed.
func New(root string) (*FileStore, error) {
	for _, dir := range []string{galleryDir, historyDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", faceerr.ErrStorage, dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

// Root returns the root directory.
func (s *FileStore) Root() string {
	return s.root
}

// GalleryPaths returns fresh references for an enrolled image and its face crop.
func (s *FileStore) GalleryPaths(personName string) (original, face string) {
	id := uuid.NewString()
	dir := path.Join(galleryDir, personName)
	return path.Join(dir, id+".jpg"), path.Join(dir, id+"_face.jpg")
}

// HistoryPaths returns fresh references for a recognition event's image and thumbnail.
func (s *FileStore) HistoryPaths() (image, thumb string) {
	id := uuid.NewString()
	return path.Join(historyDir, id+".jpg"), path.Join(historyDir, id+"_thumb.jpg")
}

// Abs resolves a reference to a filesystem path, rejecting references that
// escape the root.
func (s *FileStore) Abs(ref string) (string, error) {
	clean := path.Clean("/" + ref)[1:]
	if clean == "" || clean != ref || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: bad file reference %q", faceerr.ErrInvalidInput, ref)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Write stores data under ref. The file appears atomically.
func (s *FileStore) Write(ref string, data []byte) error {
	p, err := s.Abs(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("%w: create directory for %s: %v", faceerr.ErrStorage, ref, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %v", faceerr.ErrStorage, ref, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", faceerr.ErrStorage, ref, err)
	}
	return nil
}

// Read returns the file behind ref.
func (s *FileStore) Read(ref string) ([]byte, error) {
	p, err := s.Abs(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: file %s", faceerr.ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", faceerr.ErrStorage, ref, err)
	}
	return data, nil
}

// Remove deletes every non-empty ref. Missing files are not an error.
func (s *FileStore) Remove(refs ...string) error {
	var errs []error
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		p, err := s.Abs(ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%w: remove %s: %v", faceerr.ErrStorage, ref, err))
		}
	}
	return errors.Join(errs...)
}

// RemovePersonDir deletes the person's gallery directory if it is empty.
func (s *FileStore) RemovePersonDir(personName string) {
	p, err := s.Abs(path.Join(galleryDir, personName))
	if err != nil {
		return
	}
	os.Remove(p)
}
