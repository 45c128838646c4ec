// Package credentials manages the provider catalog: which providers and
// models are configured for each modality, in what fallback order, and
// with which API keys. The catalog lives in a single credentials.json
// file discovered from a small list of conventional locations.
package credentials

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pseudoapp/pseudo/internal/fsutil"
)

const fileName = "credentials.json"

// DefaultSearchPaths returns the credentials file search order:
// ./credentials.json, ~/.config/pseudo/credentials.json,
// /etc/pseudo/credentials.json. An explicit override (flag or
// PSEUDO_CREDENTIALS env var) is checked before any of these.
func DefaultSearchPaths() []string {
	paths := []string{fileName}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pseudo", fileName))
	}

	paths = append(paths, filepath.Join("/etc", "pseudo", fileName))
	return paths
}

// Store owns the on-disk catalog. It is the single source of truth for
// provider configuration; the classifier and dispatcher read through it
// rather than holding their own copies.
type Store struct {
	path    string
	catalog *Catalog
	logger  *slog.Logger
}

// Open locates and loads the credentials file. The search order is:
// explicit path (if non-empty), then DefaultSearchPaths, first existing
// file wins. When no file exists anywhere, a default skeleton is written
// to the explicit path if one was given, otherwise to ./credentials.json.
func Open(explicit string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	search := DefaultSearchPaths()
	if explicit != "" {
		search = append([]string{explicit}, search...)
	}

	for _, p := range search {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cat, err := loadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load credentials %s: %w", p, err)
		}
		logger.Debug("credentials loaded", "path", p)
		return &Store{path: p, catalog: cat, logger: logger}, nil
	}

	// No file anywhere: write the skeleton so the user has something
	// concrete to edit.
	path := fileName
	if explicit != "" {
		path = explicit
	}
	s := &Store{path: path, catalog: Default(), logger: logger}
	if err := s.Save(); err != nil {
		return nil, fmt.Errorf("write default credentials: %w", err)
	}
	logger.Warn("no credentials file found, wrote default skeleton", "path", path)
	return s, nil
}

// Path returns the location of the backing file.
func (s *Store) Path() string { return s.path }

// Catalog returns the loaded catalog. Callers that mutate it must call
// Save to persist the change.
func (s *Store) Catalog() *Catalog { return s.catalog }

// Reload re-reads the catalog from disk, discarding unsaved changes.
func (s *Store) Reload() error {
	cat, err := loadFile(s.path)
	if err != nil {
		return fmt.Errorf("reload credentials %s: %w", s.path, err)
	}
	s.catalog = cat
	return nil
}

// Save writes the catalog back to its file atomically. Unlike the other
// stores, save failures propagate to the caller: silently losing
// provider configuration is worse than failing the settings request.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create credentials dir: %w", err)
		}
	}
	// Keys live in this file; keep it owner-readable only.
	if err := fsutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("save credentials %s: %w", s.path, err)
	}
	return nil
}

func loadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cat := &Catalog{}
	if err := json.Unmarshal(data, cat); err != nil {
		return nil, err
	}
	if cat.Modes == nil {
		cat.Modes = Default().Modes
	}
	return cat, nil
}
