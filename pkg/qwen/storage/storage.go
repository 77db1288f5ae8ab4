// Package storage provides credential persistence backends for the qwen
// client. Exactly one envelope is stored per backend; there is no
// multi-account support.
package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Riceneeder/fapiao/pkg/qwen/types"
)

// CredentialStore persists and loads a single token envelope.
type CredentialStore interface {
	// Save writes the full envelope for the given token and account
	// identifier, overwriting any previous envelope.
	Save(token *types.Token, email string) error
	// Load retrieves the stored token and the envelope's email. A missing
	// or unparseable envelope yields (nil, "", nil): corruption is
	// deliberately degraded to "no token" rather than surfaced as fatal.
	Load() (*types.Token, string, error)
	// UpdateEmail rewrites the envelope with a new email value without
	// altering token fields.
	UpdateEmail(token *types.Token, email string) error
	// Delete removes the stored envelope.
	Delete() error
}

// Factory creates credential stores based on configuration.
type Factory struct {
	logger zerolog.Logger
}

// NewFactory creates a new storage factory.
func NewFactory(logger zerolog.Logger) *Factory {
	return &Factory{logger: logger}
}

// Create creates a credential store instance based on the configuration.
func (f *Factory) Create(config *types.StorageConfig, appName string) (CredentialStore, error) {
	if config == nil {
		return nil, fmt.Errorf("storage config is required")
	}

	switch config.Type {
	case types.StorageTypeFile:
		return NewFileStore(config, appName, f.logger)
	case types.StorageTypeKeyring:
		return NewKeyringStore(config, appName)
	case types.StorageTypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}
