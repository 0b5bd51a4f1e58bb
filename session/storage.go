package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Store persists session state as JSON at a fixed path. Writes go to a temp
// file in the same directory followed by a rename, so readers never observe
// a partial file.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store for the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the session file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the session file, returning a fresh empty state when the file
// does not exist yet.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("No session file, starting fresh", "path", s.path)
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", s.path, err)
	}
	if state.Contexts == nil {
		state.Contexts = make(map[string]*Context)
	}
	return state, nil
}

// Save atomically rewrites the session file with the full state.
func (s *Store) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp session file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
