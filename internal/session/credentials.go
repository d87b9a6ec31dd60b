package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/crowdmap/crowdsync/internal/errs"
)

// DefaultService is the keyring service name logins are stored under.
const DefaultService = "crowdsync"

// Login is the persisted credential set of one deployment.
type Login struct {
	Key          string    `json:"key"`
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       int64     `json:"user_id,omitempty"`
	Role         string    `json:"role,omitempty"`
	Updated      time.Time `json:"updated"`
}

// HasPassword reports whether a password grant is possible.
func (l *Login) HasPassword() bool {
	return l != nil && l.Username != "" && l.Password != ""
}

// CredentialStore persists logins keyed by deployment.
type CredentialStore interface {
	// Load returns errs.ErrNotFound when nothing is stored under key.
	Load(key string) (*Login, error)
	Save(login *Login) error
	// Delete is idempotent.
	Delete(key string) error
}

// KeyringStore keeps each login as a JSON secret in the OS keyring.
type KeyringStore struct {
	Service string
}

// NewKeyringStore returns a store under service, DefaultService when empty.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{Service: service}
}

func (k *KeyringStore) Load(key string) (*Login, error) {
	secret, err := keyring.Get(k.Service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("login for %s: %w", key, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read login for %s from keyring: %w", key, err)
	}

	var login Login
	if err := json.Unmarshal([]byte(secret), &login); err != nil {
		return nil, fmt.Errorf("failed to decode login for %s: %w", key, err)
	}
	return &login, nil
}

func (k *KeyringStore) Save(login *Login) error {
	data, err := json.Marshal(login)
	if err != nil {
		return fmt.Errorf("failed to encode login for %s: %w", login.Key, err)
	}
	if err := keyring.Set(k.Service, login.Key, string(data)); err != nil {
		return fmt.Errorf("failed to store login for %s in keyring: %w", login.Key, err)
	}
	return nil
}

func (k *KeyringStore) Delete(key string) error {
	if err := keyring.Delete(k.Service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete login for %s from keyring: %w", key, err)
	}
	return nil
}

// MemoryStore keeps logins in process memory, for headless runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	logins map[string]Login
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logins: make(map[string]Login)}
}

func (m *MemoryStore) Load(key string) (*Login, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	login, ok := m.logins[key]
	if !ok {
		return nil, fmt.Errorf("login for %s: %w", key, errs.ErrNotFound)
	}
	return &login, nil
}

func (m *MemoryStore) Save(login *Login) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[login.Key] = *login
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logins, key)
	return nil
}
