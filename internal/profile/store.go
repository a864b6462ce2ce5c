package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store loads and saves the profile document.
type Store struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	profile *Profile
}

// NewStore creates a store for the document at path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger.Named("profile")}
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Load returns the profile, reading it on first use. A missing document is
// created empty so the operator has a template to fill in.
func (s *Store) Load() (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile != nil {
		return s.profile, nil
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		p := &Profile{}
		if err := s.writeLocked(p); err != nil {
			return nil, err
		}
		s.logger.Info("Created empty profile", zap.String("path", s.path))
		s.profile = p
		return p, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read profile %s: %w", s.path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", s.path, err)
	}
	s.profile = &p
	return s.profile, nil
}

// Save replaces the document with p.
func (s *Store) Save(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(p); err != nil {
		return err
	}
	s.profile = p
	return nil
}

func (s *Store) writeLocked(p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profile-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp profile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace profile: %w", err)
	}
	return nil
}
