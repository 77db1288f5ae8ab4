package qwen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// emailUnknown is persisted when a refresh happens before any account
// identifier was recorded.
const emailUnknown = "unknown"

// Refresh exchanges the session's refresh token for a new access token,
// replaces the session token wholesale, and persists the result. When the
// server does not rotate the refresh token, the previous one is retained.
func (c *Client) Refresh(ctx context.Context, sess *Session) (*Token, error) {
	if sess.Token == nil || sess.Token.RefreshToken == "" {
		return nil, fmt.Errorf("refresh token not available")
	}

	form := url.Values{}
	form.Set("grant_type", refreshGrantType)
	form.Set("refresh_token", sess.Token.RefreshToken)
	form.Set("client_id", c.cfg.ClientID)

	token, err := withRetry(ctx, c.cfg.Retry, c.logger, func(ctx context.Context) (*Token, error) {
		return c.requestRefresh(ctx, form)
	})
	if err != nil {
		return nil, err
	}

	if token.RefreshToken == "" {
		token.RefreshToken = sess.Token.RefreshToken
	}

	email := sess.Email
	if email == "" {
		email = emailUnknown
	}
	if err := c.store.Save(token, email); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credentials: %w", err)
	}

	sess.Token = token
	c.logger.Debug().Time("expiry", token.Expiry).Msg("access token refreshed")
	return token, nil
}

func (c *Client) requestRefresh(ctx context.Context, form url.Values) (*Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	body, status, err := c.postForm(reqCtx, c.cfg.TokenURL, form)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		code, desc := decodeOAuthError(body)
		if desc == "" {
			desc = strings.TrimSpace(string(body))
		}
		return nil, statusError(status, code, "token refresh failed: "+desc)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.AccessToken == "" {
		return nil, &APIError{
			Kind:       KindValidation,
			HTTPStatus: http.StatusBadRequest,
			Message:    "refresh response missing access_token",
		}
	}

	return resp.token(), nil
}
