package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "finecam"
	keyringUser    = "session"
)

var (
	_ Storage = (*Store)(nil)
	_ Storage = (*KeyringStore)(nil)
)

// KeyringStore keeps the session in the OS secret store (Secret Service,
// macOS Keychain, Windows Credential Manager) instead of a file.
type KeyringStore struct {
	service string
}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: keyringService}
}

func (k *KeyringStore) Load() (*Session, error) {
	secret, err := keyring.Get(k.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("error reading session from keyring: %w", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(secret), &s); err != nil {
		return nil, fmt.Errorf("error unmarshalling keyring session: %w", err)
	}
	if !s.Valid() {
		return nil, ErrNoSession
	}
	return &s, nil
}

func (k *KeyringStore) Save(s *Session) error {
	if !s.Valid() {
		return fmt.Errorf("refusing to save incomplete session")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshalling session: %w", err)
	}
	if err := keyring.Set(k.service, keyringUser, string(data)); err != nil {
		return fmt.Errorf("error writing session to keyring: %w", err)
	}
	return nil
}

func (k *KeyringStore) Clear() error {
	if err := keyring.Delete(k.service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("error removing session from keyring: %w", err)
	}
	return nil
}
