// Package types defines common types shared by the qwen client and its
// credential storage backends.
package types

import (
	"time"
)

// Token is an issued access credential for the Qwen API.
type Token struct {
	// AccessToken is the bearer credential presented on API calls.
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain a new access token. Empty when the
	// grant does not support refresh.
	RefreshToken string `json:"refresh_token,omitempty"`
	// TokenType is the type of token (e.g., "Bearer").
	TokenType string `json:"token_type,omitempty"`
	// ResourceURL, when set, overrides the default API host.
	ResourceURL string `json:"resource_url,omitempty"`
	// Expiry is the absolute instant the access token expires, derived
	// from expires_in at the moment the token response was received.
	Expiry time.Time `json:"expiry"`
}

// Expired returns true if the access token's expiry instant has passed.
func (t *Token) Expired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().After(t.Expiry)
}

// EnvelopeType tags persisted credential envelopes.
const EnvelopeType = "qwen"

// Envelope is the on-disk persistence unit: the token fields plus
// bookkeeping metadata. One envelope per configured storage path.
type Envelope struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	LastRefresh  time.Time `json:"last_refresh"`
	ResourceURL  string    `json:"resource_url,omitempty"`
	Email        string    `json:"email"`
	Type         string    `json:"type"`
	Expired      time.Time `json:"expired"`
}

// NewEnvelope builds an envelope from a token and account identifier,
// stamping last_refresh with the current time.
func NewEnvelope(token *Token, email string) *Envelope {
	return &Envelope{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		LastRefresh:  time.Now(),
		ResourceURL:  token.ResourceURL,
		Email:        email,
		Type:         EnvelopeType,
		Expired:      token.Expiry,
	}
}

// Token converts the envelope back to its in-memory token form. The token
// type is not persisted; stored credentials are always bearer tokens.
func (e *Envelope) Token() *Token {
	return &Token{
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		TokenType:    "Bearer",
		ResourceURL:  e.ResourceURL,
		Expiry:       e.Expired,
	}
}

// StorageConfig selects and configures a credential storage backend.
type StorageConfig struct {
	// Type is the storage backend type.
	Type StorageType `yaml:"type" json:"type"`
	// Path is the file path for file-based storage.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// KeyringService is the service name for keyring storage.
	KeyringService string `yaml:"keyring_service,omitempty" json:"keyring_service,omitempty"`
	// KeyringUser is the user name for keyring storage.
	KeyringUser string `yaml:"keyring_user,omitempty" json:"keyring_user,omitempty"`
}

// StorageType represents the type of credential storage.
type StorageType string

const (
	// StorageTypeFile uses file-based storage.
	StorageTypeFile StorageType = "file"
	// StorageTypeKeyring uses OS keyring storage.
	StorageTypeKeyring StorageType = "keyring"
	// StorageTypeMemory uses in-memory storage.
	StorageTypeMemory StorageType = "memory"
)
