package qwen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuth error codes that keep the poll loop alive.
const (
	errAuthorizationPending = "authorization_pending"
	errSlowDown             = "slow_down"
)

// tokenResponse is the success shape of both the device-code and refresh
// grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ResourceURL  string `json:"resource_url"`
	ExpiresIn    int    `json:"expires_in"`
}

// token derives a Token, computing the expiry instant from expires_in at
// the moment the response was received.
func (r *tokenResponse) token() *Token {
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    tokenType,
		ResourceURL:  r.ResourceURL,
		Expiry:       time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
	}
}

// PollForToken polls the token endpoint until the user completes
// authorization or the flow terminates fatally. On success the token is
// persisted with the supplied email and returned.
//
// The loop has no attempt cap: it runs until a terminal state is reached
// or ctx is cancelled. Cancellation is checked before each sleep and each
// network call. The interval state machine (authorization_pending keeps
// the current cadence, slow_down grows it by 1.5x) is bespoke to this
// flow and deliberately does not route through the generic retry wrapper.
func (c *Client) PollForToken(ctx context.Context, session *DeviceFlowSession, email string) (*Token, error) {
	interval := time.Duration(session.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	form := url.Values{}
	form.Set("grant_type", deviceGrantType)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("device_code", session.DeviceCode)
	form.Set("code_verifier", session.CodeVerifier)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		token, retryIn, err := c.pollOnce(ctx, form, interval)
		if err != nil {
			return nil, err
		}
		if token != nil {
			if err := c.store.Save(token, email); err != nil {
				return nil, fmt.Errorf("failed to persist credentials: %w", err)
			}
			return token, nil
		}

		interval = retryIn
		c.logger.Debug().Dur("interval", interval).Msg("authorization pending")
		if err := sleepCtx(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// pollOnce performs a single token-endpoint request. It returns the token
// on success, or the interval to sleep before the next attempt while the
// authorization is still pending.
func (c *Client) pollOnce(ctx context.Context, form url.Values, interval time.Duration) (*Token, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	body, status, err := c.postForm(reqCtx, c.cfg.TokenURL, form)
	if err != nil {
		return nil, 0, err
	}

	if status == http.StatusOK {
		var resp tokenResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.AccessToken == "" {
			return nil, 0, &APIError{
				Kind:       KindValidation,
				HTTPStatus: http.StatusBadRequest,
				Message:    "token response missing access_token",
			}
		}
		return resp.token(), 0, nil
	}

	if status == http.StatusBadRequest {
		code, desc := decodeOAuthError(body)
		switch code {
		case errAuthorizationPending:
			return nil, interval, nil
		case errSlowDown:
			// Server requests a slower cadence.
			return nil, interval * 3 / 2, nil
		case "":
			return nil, 0, &APIError{
				Kind:       KindSessionExpired,
				HTTPStatus: status,
				Message:    "device session expired or invalid: " + strings.TrimSpace(string(body)),
			}
		default:
			return nil, 0, statusError(status, code, desc)
		}
	}

	code, desc := decodeOAuthError(body)
	if desc == "" {
		desc = strings.TrimSpace(string(body))
	}
	return nil, 0, statusError(status, code, "token poll failed: "+desc)
}
