// Package store persists the session manager's state as a single JSON
// snapshot file. The file is replaced atomically on every save, so a crash
// mid-write leaves the previous snapshot intact.
package store

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
)

// PersistedSession is one session's durable state. Info deliberately excludes
// the session token; it rides alongside so it never appears in client
// payloads by accident.
type PersistedSession struct {
	Info            v1.SessionInfo      `json:"info"`
	Messages        []v1.SessionMessage `json:"messages"`
	SessionToken    string              `json:"sessionToken"`
	ContainerID     *string             `json:"containerId"`
	ManagerAPIToken string              `json:"managerApiToken,omitempty"`
	ManagerState    *v1.ManagerState    `json:"managerState,omitempty"`
}

// State is the full snapshot document.
type State struct {
	Sessions       []PersistedSession `json:"sessions"`
	InternalSecret string             `json:"internalSecret"`
}

// Store reads and writes the snapshot file.
type Store struct {
	path   string
	logger *logger.Logger
}

// New creates a store for the given snapshot path.
func New(path string, log *logger.Logger) *Store {
	return &Store{
		path:   path,
		logger: log.WithFields(zap.String("component", "session_store")),
	}
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file, unreadable JSON, or a document
// that fails the shape check all return (nil, nil): the caller starts fresh
// rather than refusing to boot over a bad snapshot.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	// Shape check before committing to the typed decode: top-level object
	// with a sessions array and an internalSecret string.
	var shape struct {
		Sessions       []json.RawMessage `json:"sessions"`
		InternalSecret *string           `json:"internalSecret"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		s.logger.Warn("session snapshot is corrupt, starting empty", zap.Error(err))
		return nil, nil
	}
	if shape.Sessions == nil || shape.InternalSecret == nil {
		s.logger.Warn("session snapshot has unexpected shape, starting empty")
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("session snapshot failed to decode, starting empty", zap.Error(err))
		return nil, nil
	}
	return &state, nil
}

// Save writes the snapshot via a tempfile and an atomic rename.
func (s *Store) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return err
	}
	s.logger.Debug("session snapshot saved",
		zap.Int("sessions", len(state.Sessions)),
		zap.Int("bytes", len(data)))
	return nil
}

// Delete removes the snapshot file. A missing file is not an error.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
