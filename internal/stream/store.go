package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when an object id does not resolve to a
// fully written object. The HTTP layer maps it to 404.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the persistence abstraction for media objects.
// Implementations can be disk-backed or remote. Objects are immutable once
// written: a reader either sees the complete blob or no object at all.
type ObjectStore interface {
	// Exists reports whether id resolves to a stored object.
	Exists(id ObjectID) bool

	// Size returns the byte length of the object, or ErrObjectNotFound.
	Size(id ObjectID) (int64, error)

	// Open returns a reader positioned at offset bytes into the object.
	// The caller must close it; closing releases the underlying handle.
	Open(id ObjectID, offset int64) (io.ReadCloser, error)

	// Put stores the full contents of r as a new object and returns its id.
	// The id is derived from the upload time and a sanitized originalName.
	Put(r io.Reader, originalName string) (ObjectID, error)
}

// DiskStore stores each object as a single file under a root directory.
type DiskStore struct {
	root string
}

// NewDiskStore creates the root directory if needed and verifies it is
// writable, failing fast at startup rather than on the first upload.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("upload dir not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return &DiskStore{root: root}, nil
}

// path maps an id to its file path. IDs must be a single clean path element;
// anything else (traversal, separators, temp-file prefixes) is treated as
// not found rather than resolved.
func (s *DiskStore) path(id ObjectID) (string, error) {
	name := string(id)
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", ErrObjectNotFound
	}
	return filepath.Join(s.root, name), nil
}

// Exists implements ObjectStore.Exists.
func (s *DiskStore) Exists(id ObjectID) bool {
	p, err := s.path(id)
	if err != nil {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// Size implements ObjectStore.Size.
func (s *DiskStore) Size(id ObjectID) (int64, error) {
	p, err := s.path(id)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(p)
	if err != nil || !fi.Mode().IsRegular() {
		return 0, ErrObjectNotFound
	}
	return fi.Size(), nil
}

// Open implements ObjectStore.Open.
func (s *DiskStore) Open(id ObjectID, offset int64) (io.ReadCloser, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, ErrObjectNotFound
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek to %d: %w", offset, err)
		}
	}
	return f, nil
}

// Put implements ObjectStore.Put. The object is written to a hidden temp
// file and renamed into place, so a concurrent reader never sees a partial
// object.
func (s *DiskStore) Put(r io.Reader, originalName string) (ObjectID, error) {
	id := ObjectID(fmt.Sprintf("%d-%s", time.Now().UnixMilli(), SanitizeName(originalName)))
	dst := filepath.Join(s.root, string(id))

	// Same name uploaded twice within one millisecond.
	if _, err := os.Stat(dst); err == nil {
		id = ObjectID(fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), uuid.NewString()[:8], SanitizeName(originalName)))
		dst = filepath.Join(s.root, string(id))
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit object: %w", err)
	}
	return id, nil
}

// SanitizeName maps every byte outside [a-zA-Z0-9] to '_' so the original
// filename can be embedded in an object id without escaping the store root.
func SanitizeName(name string) string {
	if name == "" {
		return "video"
	}
	b := []byte(name)
	for i, c := range b {
		switch {
		case 'a' <= c && c <= 'z':
		case 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
