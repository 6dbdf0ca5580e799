package files

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrChecksum is returned by ReadFile when the stored bytes no longer match their digest.
var ErrChecksum = errors.New("file checksum mismatch")

// FSStore keeps files under a root directory. Each file has a ".sha256" sidecar holding
// the hex digest of its content, written after the data and checked on every read.
type FSStore struct {
	root string
}

// NewFSStore returns a filesystem store rooted at root, creating it if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("files root not set")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) pathFor(key string) (dataPath, sumPath string, err error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(k))
	return dataPath, dataPath + ".sha256", nil
}

func (s *FSStore) WriteFile(ctx context.Context, key string, data []byte, overwrite bool) error {
	dataPath, sumPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(dataPath); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return err
	}
	if err := writeAtomic(dataPath, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	sum := sha256.Sum256(data)
	if err := writeAtomic(sumPath, []byte(hex.EncodeToString(sum[:]))); err != nil {
		return fmt.Errorf("write checksum for %s: %w", key, err)
	}
	slog.Debug("FSStore.WriteFile", "key", key, "size", len(data))
	return nil
}

// writeAtomic streams data to a temp file in the target directory, fsyncs it and renames
// it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FSStore) ReadFile(ctx context.Context, key string) ([]byte, error) {
	dataPath, sumPath, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	want, err := os.ReadFile(sumPath)
	if err != nil {
		return nil, fmt.Errorf("read checksum for %s: %w", key, err)
	}
	got := sha256.Sum256(data)
	if !bytes.Equal(want, []byte(hex.EncodeToString(got[:]))) {
		slog.Error("FSStore.ReadFile: checksum mismatch", "key", key)
		return nil, fmt.Errorf("%w: %s", ErrChecksum, key)
	}
	return data, nil
}

func (s *FSStore) DeleteFile(ctx context.Context, key string) error {
	dataPath, sumPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(sumPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	slog.Debug("FSStore.DeleteFile", "key", key)
	return nil
}
