package qwen

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DeviceFlowSession is the state of one device authorization attempt: the
// server-issued codes plus the locally generated PKCE verifier. It is
// consumed once by PollForToken and never persisted.
type DeviceFlowSession struct {
	oauth2.DeviceAuthResponse

	// CodeVerifier is the PKCE secret. The authorization endpoint only
	// ever sees its SHA-256 hash; the verifier itself is sent at token
	// exchange to prove possession.
	CodeVerifier string
}

// generateCodeVerifier returns 32 cryptographically random bytes,
// base64url-encoded without padding.
func generateCodeVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// codeChallenge derives the S256 challenge from a verifier.
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// StartDeviceFlow requests a device code bound to a fresh PKCE challenge.
// Transient failures are retried with linear backoff; a malformed response
// missing required fields is fatal and not retried.
func (c *Client) StartDeviceFlow(ctx context.Context) (*DeviceFlowSession, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("scope", c.cfg.Scope)
	form.Set("code_challenge", codeChallenge(verifier))
	form.Set("code_challenge_method", "S256")

	session, err := withRetry(ctx, c.cfg.Retry, c.logger, func(ctx context.Context) (*DeviceFlowSession, error) {
		return c.requestDeviceCode(ctx, form)
	})
	if err != nil {
		return nil, err
	}

	session.CodeVerifier = verifier
	return session, nil
}

func (c *Client) requestDeviceCode(ctx context.Context, form url.Values) (*DeviceFlowSession, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	body, status, err := c.postForm(reqCtx, c.cfg.DeviceAuthURL, form)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		code, desc := decodeOAuthError(body)
		if desc == "" {
			desc = strings.TrimSpace(string(body))
		}
		return nil, statusError(status, code, "device code request failed: "+desc)
	}

	var resp struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
		Interval                int    `json:"interval"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{
			Kind:       KindValidation,
			HTTPStatus: http.StatusBadRequest,
			Message:    fmt.Sprintf("failed to decode device code response: %v", err),
		}
	}

	// A response missing any of these is unusable; status 400 makes the
	// validation failure fatal to the retry wrapper.
	if resp.UserCode == "" || resp.DeviceCode == "" || resp.VerificationURIComplete == "" {
		return nil, &APIError{
			Kind:       KindValidation,
			HTTPStatus: http.StatusBadRequest,
			Message:    "device code response missing user_code, device_code, or verification_uri_complete",
		}
	}

	if resp.Interval == 0 {
		resp.Interval = 5
	}

	return &DeviceFlowSession{
		DeviceAuthResponse: oauth2.DeviceAuthResponse{
			DeviceCode:              resp.DeviceCode,
			UserCode:                resp.UserCode,
			VerificationURI:         resp.VerificationURI,
			VerificationURIComplete: resp.VerificationURIComplete,
			Expiry:                  time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
			Interval:                int64(resp.Interval),
		},
	}, nil
}

// postForm submits a form-encoded POST and returns the raw body and
// status. Network-level failures come back as transient APIErrors.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &APIError{Kind: KindTransient, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &APIError{Kind: KindTransient, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	return body, resp.StatusCode, nil
}

// decodeOAuthError extracts the error code and description from an OAuth
// error body, returning empty strings when the body is not structured.
func decodeOAuthError(body []byte) (code, description string) {
	var resp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", ""
	}
	return resp.Error, resp.ErrorDescription
}
