package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/bitrise-io/go-resumable-upload/internal"
)

const fileExtension = ".checkpoint.json"

// FileStore keeps one checkpoint document per key in a directory.
// Writes go to a temporary file in the same directory which is synced and renamed over the
// previous document, so a crash leaves either the old or the new checkpoint.
type FileStore struct {
	dir string
	os  internal.OsProxy
}

// NewFileStore creates the directory if needed and returns a store writing into it.
func NewFileStore(dir string) (*FileStore, error) {
	return newFileStore(dir, internal.RealOS{})
}

func newFileStore(dir string, osProxy internal.OsProxy) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory must not be empty")
	}
	if err := osProxy.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir, os: osProxy}, nil
}

// Get ...
func (s *FileStore) Get(key string) (Checkpoint, bool, error) {
	data, err := s.os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Put ...
func (s *FileStore) Put(key string, cp Checkpoint) error {
	data, err := Marshal(cp)
	if err != nil {
		return err
	}

	tmp, err := s.os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = s.os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := s.os.Rename(tmpPath, s.path(key)); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	committed = true

	return s.syncDir()
}

// Delete ...
func (s *FileStore) Delete(key string) error {
	err := s.os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// syncDir flushes the directory entry of a rename. Not every platform supports syncing a directory,
// those errors are ignored.
func (s *FileStore) syncDir() error {
	dir, err := s.os.Open(s.dir)
	if err != nil {
		return nil
	}
	_ = dir.Sync()
	return dir.Close()
}

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+fileExtension)
}
