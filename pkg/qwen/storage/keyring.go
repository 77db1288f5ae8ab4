package storage

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/Riceneeder/fapiao/pkg/qwen/types"
)

// KeyringStore implements OS keyring-based credential storage.
type KeyringStore struct {
	service string
	user    string
}

// NewKeyringStore creates a new keyring-based store.
func NewKeyringStore(config *types.StorageConfig, appName string) (*KeyringStore, error) {
	service := config.KeyringService
	if service == "" {
		service = appName
	}

	user := config.KeyringUser
	if user == "" {
		user = "oauth"
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// Save stores the envelope in the OS keyring.
func (k *KeyringStore) Save(token *types.Token, email string) error {
	if token == nil {
		return fmt.Errorf("token is nil")
	}

	data, err := json.Marshal(types.NewEnvelope(token, email))
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := keyring.Set(k.service, k.user, string(data)); err != nil {
		return fmt.Errorf("failed to store credentials in keyring: %w", err)
	}

	return nil
}

// Load retrieves the envelope from the OS keyring. A missing or
// unparseable entry is treated as "no token".
func (k *KeyringStore) Load() (*types.Token, string, error) {
	data, err := keyring.Get(k.service, k.user)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to retrieve credentials from keyring: %w", err)
	}

	var env types.Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, "", nil
	}

	return env.Token(), env.Email, nil
}

// UpdateEmail rewrites the envelope with a new email value.
func (k *KeyringStore) UpdateEmail(token *types.Token, email string) error {
	return k.Save(token, email)
}

// Delete removes the envelope from the OS keyring.
func (k *KeyringStore) Delete() error {
	if err := keyring.Delete(k.service, k.user); err != nil {
		if err == keyring.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete credentials from keyring: %w", err)
	}
	return nil
}
