// Package qwen implements an OAuth2 Device Authorization Grant client for
// the Qwen chat/vision API with bearer-token lifecycle management.
//
// The flow runs in three phases: StartDeviceFlow requests a device code
// bound to a locally generated PKCE verifier, PollForToken polls the token
// endpoint until the user approves the request in a browser, and the
// resulting token is persisted through a storage.CredentialStore. Later,
// Chat and ChatStream load or refresh the stored token as needed and
// dispatch authenticated API calls under a uniform retry/timeout policy.
//
// One authorization session is active at a time. The current token and
// account identifier live in an explicit Session value threaded through
// each operation; there is no package-level mutable state.
package qwen

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Riceneeder/fapiao/pkg/qwen/storage"
	"github.com/Riceneeder/fapiao/pkg/qwen/types"
)

// Qwen OAuth endpoints and client identity.
const (
	DefaultDeviceAuthURL = "https://chat.qwen.ai/api/v1/oauth2/device/code"
	DefaultTokenURL      = "https://chat.qwen.ai/api/v1/oauth2/token"
	DefaultClientID      = "f0304373b74a44d2b584a3fb70ca9e56"
	DefaultScope         = "openid profile email model.completion"

	// DefaultBaseURL is the API host used when the token carries no
	// resource_url override.
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

	deviceGrantType  = "urn:ietf:params:oauth:grant-type:device_code"
	refreshGrantType = "refresh_token"
)

const (
	defaultAuthTimeout     = 30 * time.Second
	defaultDispatchTimeout = 2 * time.Minute
	defaultUserAgent       = "fapiao-cli/1.0 (qwen-oauth)"
)

// Token is an alias for types.Token.
type Token = types.Token

// Session holds the current token and account identifier for one
// authorization session. It is exclusively owned by the caller and passed
// explicitly to each operation; operations replace Token wholesale rather
// than mutating its fields.
type Session struct {
	Token *Token
	Email string
}

// Config configures a Client. Zero-value fields fall back to the Qwen
// production defaults.
type Config struct {
	ClientID      string
	Scope         string
	DeviceAuthURL string
	TokenURL      string
	BaseURL       string

	// Retry applies to the device-code request, token refresh, and API
	// dispatch. The poll loop has its own interval state machine and does
	// not route through it.
	Retry RetryConfig

	// AuthTimeout bounds each authorization endpoint call;
	// DispatchTimeout bounds each downstream API call, including reading
	// the response body.
	AuthTimeout     time.Duration
	DispatchTimeout time.Duration

	UserAgent string
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.DeviceAuthURL == "" {
		c.DeviceAuthURL = DefaultDeviceAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

// Client drives the device authorization flow and dispatches authenticated
// API calls.
type Client struct {
	cfg    Config
	http   *http.Client
	store  storage.CredentialStore
	logger zerolog.Logger
}

// NewClient creates a client persisting credentials through store.
func NewClient(cfg Config, store storage.CredentialStore, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		http:   &http.Client{},
		store:  store,
		logger: logger,
	}
}

// Store returns the client's credential store.
func (c *Client) Store() storage.CredentialStore {
	return c.store
}

// LoadSession builds a session from stored credentials. The returned
// session has a nil Token when no credentials are stored.
func (c *Client) LoadSession() (*Session, error) {
	token, email, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, Email: email}, nil
}
