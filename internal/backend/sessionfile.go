package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/saravenpi/supachat/internal/models"
)

// SessionStore persists the signed-in session between runs.
type SessionStore interface {
	Load() (*models.Session, error)
	Save(session *models.Session) error
	Clear() error
}

// FileSessionStore keeps the session in a YAML file readable only by the
// owner. Load returns ErrNoSession when the file does not exist.
type FileSessionStore struct {
	path string
	mu   sync.RWMutex
}

func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (s *FileSessionStore) Path() string { return s.path }

func (s *FileSessionStore) Load() (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session models.Session
	if err := yaml.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if session.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &session, nil
}

func (s *FileSessionStore) Save(session *models.Session) error {
	if session == nil {
		return s.Clear()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := yaml.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (s *FileSessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// MemorySessionStore keeps the session in memory only.
type MemorySessionStore struct {
	mu      sync.Mutex
	session *models.Session
}

func (s *MemorySessionStore) Load() (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoSession
	}
	copied := *s.session
	return &copied, nil
}

func (s *MemorySessionStore) Save(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session == nil {
		s.session = nil
		return nil
	}
	copied := *session
	s.session = &copied
	return nil
}

func (s *MemorySessionStore) Clear() error {
	return s.Save(nil)
}
