// Package session holds the authenticated operator. The session is passed
// explicitly to every component that needs the token or the role.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole accepts the backend's spelling of user types.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

var ErrNoSession = errors.New("not logged in")

type Session struct {
	AccessToken string `json:"accessToken"`
	UserName    string `json:"userName"`
	Role        Role   `json:"role"`
}

func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.Role != ""
}

func (s *Session) IsAdmin() bool { return s.Valid() && s.Role == RoleAdmin }
func (s *Session) IsUser() bool  { return s.Valid() && s.Role == RoleUser }

// Allows reports whether the session holds one of roles. With no roles any
// valid session is allowed.
func (s *Session) Allows(roles ...Role) bool {
	if !s.Valid() {
		return false
	}
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

// Storage is where the login survives between runs.
type Storage interface {
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error
}

// Store persists a single session on disk.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (st *Store) Path() string { return st.path }

// Load returns ErrNoSession when nothing valid is stored.
func (st *Store) Load() (*Session, error) {
	data, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("error reading session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error unmarshalling session file: %w", err)
	}
	if !s.Valid() {
		return nil, ErrNoSession
	}
	return &s, nil
}

func (st *Store) Save(s *Session) error {
	if !s.Valid() {
		return fmt.Errorf("refusing to save incomplete session")
	}
	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		return fmt.Errorf("error creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshalling session: %w", err)
	}
	if err := os.WriteFile(st.path, data, 0600); err != nil {
		return fmt.Errorf("error writing session file: %w", err)
	}
	return nil
}

// Clear removes the stored session. Clearing twice is fine.
func (st *Store) Clear() error {
	if err := os.Remove(st.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing session file: %w", err)
	}
	return nil
}
