// Package profile stores campaign definitions by name so interrupted campaigns
// can be resolved again after a restart.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/models"
)

// Store is a JSON file mapping campaign name to definition.
// The file is re-read on every lookup so external edits apply immediately.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by path
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (map[string]models.CampaignDefinition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.CampaignDefinition{}, nil
		}
		return nil, apperrors.NewStorageError("profiles", "read", err)
	}

	profiles := map[string]models.CampaignDefinition{}
	if len(data) == 0 {
		return profiles, nil
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, apperrors.NewStorageError("profiles", "decode", err)
	}
	return profiles, nil
}

// Get returns the normalised definition stored under name. A stored
// definition that no longer validates is rejected.
func (s *Store) Get(ctx context.Context, name string) (*models.CampaignDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	def, ok := profiles[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("campaign definition", name)
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Save validates and stores def under name, replacing any previous definition
func (s *Store) Save(ctx context.Context, name string, def *models.CampaignDefinition) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewInvalidParameterError("name", "must not be empty")
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load()
	if err != nil {
		return err
	}
	profiles[name] = *def

	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return apperrors.NewInternalError("failed to encode profiles", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperrors.NewStorageError("profiles", "mkdir", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperrors.NewStorageError("profiles", "write", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperrors.NewStorageError("profiles", "rename", fmt.Errorf("replace %s: %w", s.path, err))
	}
	return nil
}

// Names lists stored campaign names, sorted
func (s *Store) Names(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
