package storage

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/logging"
	"github.com/campaign-runner/internal/models"
)

// FileHistory keeps the newest maxEntries history entries in a JSON array
type FileHistory struct {
	path       string
	maxEntries int
	mu         sync.Mutex
}

// NewFileHistory creates a file-backed history; maxEntries <= 0 keeps everything
func NewFileHistory(path string, maxEntries int) *FileHistory {
	return &FileHistory{path: path, maxEntries: maxEntries}
}

// Append inserts entry at the front and truncates to the cap
func (h *FileHistory) Append(ctx context.Context, entry *models.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load()
	if err != nil {
		logging.FromContext(ctx).WithField("path", h.path).WithError(err).Warn("History file unreadable, starting fresh")
		entries = nil
	}

	for _, e := range entries {
		if e.JobID == entry.JobID {
			return nil
		}
	}

	entries = append([]*models.HistoryEntry{entry}, entries...)
	if h.maxEntries > 0 && len(entries) > h.maxEntries {
		entries = entries[:h.maxEntries]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return apperrors.NewStorageError("history file", "encode", err)
	}
	if err := writeFileAtomic(h.path, data); err != nil {
		return apperrors.NewStorageError("history file", "write", err)
	}
	return nil
}

// List returns entries newest first
func (h *FileHistory) List(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load()
	if err != nil {
		return nil, apperrors.NewStorageError("history file", "read", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get finds one entry by job id
func (h *FileHistory) Get(ctx context.Context, jobID string) (*models.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load()
	if err != nil {
		return nil, apperrors.NewStorageError("history file", "read", err)
	}
	for _, e := range entries {
		if e.JobID == jobID {
			return e, nil
		}
	}
	return nil, apperrors.NewNotFoundError("history entry", jobID)
}

func (h *FileHistory) load() ([]*models.HistoryEntry, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []*models.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
