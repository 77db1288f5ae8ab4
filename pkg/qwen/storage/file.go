package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"

	"github.com/Riceneeder/fapiao/pkg/qwen/types"
)

// FileStore implements file-based credential storage. The envelope is
// written as the file's entire content on every save; there is no append
// or merge, and no cross-process locking.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore creates a new file-based store.
func NewFileStore(config *types.StorageConfig, appName string, logger zerolog.Logger) (*FileStore, error) {
	path := config.Path
	if path == "" {
		// XDG-compliant default path
		path = filepath.Join(xdg.ConfigHome, appName, "oauth_creds.json")
	}

	return &FileStore{
		path:   path,
		logger: logger,
	}, nil
}

// Save writes the full envelope, creating the storage directory if needed.
func (f *FileStore) Save(token *types.Token, email string) error {
	if token == nil {
		return fmt.Errorf("token is nil")
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(types.NewEnvelope(token, email), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	return nil
}

// Load reads the stored envelope. A missing file is "no token"; so is a
// file that fails to parse, after logging a warning.
func (f *FileStore) Load() (*types.Token, string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).
			Msg("credentials file is corrupt, treating as absent")
		return nil, "", nil
	}

	return env.Token(), env.Email, nil
}

// UpdateEmail rewrites the envelope with a new email value.
func (f *FileStore) UpdateEmail(token *types.Token, email string) error {
	return f.Save(token, email)
}

// Delete removes the credentials file.
func (f *FileStore) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credentials file: %w", err)
	}
	return nil
}

// Path returns the path to the credentials file.
func (f *FileStore) Path() string {
	return f.path
}
