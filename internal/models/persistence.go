package models

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultSaveDir = ".saves"

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists a whole Session as one named blob.
type SessionStore interface {
	Save(name string, s *Session) error
	Load(name string) (*Session, error)
	// ListSessions returns the stored names, sorted.
	ListSessions() ([]string, error)
	Close() error
}

// FileStore keeps each session as a yaml file in Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultSaveDir
	}
	return &FileStore{Dir: dir}
}

func (fs *FileStore) path(name string) string {
	return filepath.Join(fs.Dir, name+".yaml")
}

func (fs *FileStore) Save(name string, s *Session) error {
	if err := os.MkdirAll(fs.Dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	// Write then rename so a crash never leaves half a session behind.
	tmp := fs.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path(name))
}

func (fs *FileStore) Load(name string) (*Session, error) {
	data, err := os.ReadFile(fs.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (fs *FileStore) Close() error { return nil }

// ListSessions returns the names of all sessions saved in Dir.
func (fs *FileStore) ListSessions() ([]string, error) {
	if _, err := os.Stat(fs.Dir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(fs.Dir)
	if err != nil {
		return nil, err
	}

	sessions := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(sessions)
	return sessions, nil
}
