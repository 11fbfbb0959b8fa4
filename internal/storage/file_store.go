package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/logging"
)

// FileStateStore keeps every record inside one JSON object on disk.
// Writes go to a temp file that is renamed over the original.
type FileStateStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStateStore creates a store backed by path; the file is created on first write
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Path returns the backing file
func (f *FileStateStore) Path() string {
	return f.path
}

// Put stores a record
func (f *FileStateStore) Put(ctx context.Context, key string, record []byte) error {
	if !json.Valid(record) {
		return apperrors.NewInvalidParameterError("record", "file store only accepts JSON records")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load(ctx)
	if err != nil {
		return err
	}
	records[key] = json.RawMessage(record)
	return f.save(records)
}

// Get retrieves a record or ErrNotFound
func (f *FileStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	raw, ok := records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(raw), nil
}

// Delete removes a record
func (f *FileStateStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := records[key]; !ok {
		return nil
	}
	delete(records, key)
	return f.save(records)
}

// load reads the mapping. A missing file is empty. A file that cannot be read
// is an error so no write replaces records it could not see; a corrupt one is
// moved aside and treated as empty.
func (f *FileStateStore) load(ctx context.Context) (map[string]json.RawMessage, error) {
	records := make(map[string]json.RawMessage)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		logging.FromContext(ctx).WithField("path", f.path).WithError(err).Error("State file unreadable")
		return nil, apperrors.NewStorageError("file", "read", err)
	}
	if len(data) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		aside := f.path + ".corrupt"
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"path":  f.path,
			"aside": aside,
		}).WithError(err).Error("State file corrupt, starting empty")
		_ = os.Rename(f.path, aside)
		return make(map[string]json.RawMessage), nil
	}
	return records, nil
}

func (f *FileStateStore) save(records map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return apperrors.NewStorageError("file", "encode", err)
	}

	if err := writeFileAtomic(f.path, data); err != nil {
		return apperrors.NewStorageError("file", "write", err)
	}
	return nil
}

// writeFileAtomic writes data next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
