package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ChatRequest is the payload for the chat/completions endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Message is a single chat turn. Content is a list of parts so vision
// inputs can mix text with images.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one element of a message: either text or an image
// reference (typically a base64 data URL).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference for vision content parts.
type ImageURL struct {
	URL string `json:"url"`
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentPart{{Type: "text", Text: text}},
	}
}

// ChatResponse is the buffered completion shape.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Content returns the first choice's message content.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Chat dispatches a buffered chat/completions call, loading or refreshing
// the session token as needed, and decodes the JSON response.
func (c *Client) Chat(ctx context.Context, sess *Session, req *ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	resp, cancel, err := c.dispatch(ctx, sess, req, false)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	return &out, nil
}

// ChatStream dispatches a streaming chat/completions call and returns the
// raw event body without buffering. The caller must close it.
func (c *Client) ChatStream(ctx context.Context, sess *Session, req *ChatRequest) (io.ReadCloser, error) {
	req.Stream = true
	resp, cancel, err := c.dispatch(ctx, sess, req, true)
	if err != nil {
		return nil, err
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

type dispatchResult struct {
	resp   *http.Response
	cancel context.CancelFunc
}

// dispatch ensures a usable token is in the session, then issues the API
// call under the retry wrapper. The token-expiry check happens exactly
// once per call; it is not re-validated mid-retry.
func (c *Client) dispatch(ctx context.Context, sess *Session, payload any, stream bool) (*http.Response, context.CancelFunc, error) {
	if err := c.ensureToken(ctx, sess); err != nil {
		return nil, nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := apiBase(sess.Token.ResourceURL, c.cfg.BaseURL) + "/chat/completions"

	result, err := withRetry(ctx, c.cfg.Retry, c.logger, func(ctx context.Context) (dispatchResult, error) {
		return c.doAPICall(ctx, sess, endpoint, body, stream)
	})
	if err != nil {
		return nil, nil, err
	}
	return result.resp, result.cancel, nil
}

// ensureToken loads stored credentials when the session holds no token and
// refreshes an expired token when a refresh token is available. An
// expired token with no refresh token is sent as-is; the server's
// rejection surfaces as an authentication error.
func (c *Client) ensureToken(ctx context.Context, sess *Session) error {
	if sess.Token == nil {
		token, email, err := c.store.Load()
		if err != nil {
			return err
		}
		if token == nil {
			return ErrNoCredentials
		}
		sess.Token = token
		if sess.Email == "" {
			sess.Email = email
		}
	}

	if sess.Token.Expired() && sess.Token.RefreshToken != "" {
		if _, err := c.Refresh(ctx, sess); err != nil {
			return fmt.Errorf("failed to refresh expired token: %w", err)
		}
	}

	return nil
}

func (c *Client) doAPICall(ctx context.Context, sess *Session, endpoint string, body []byte, stream bool) (dispatchResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return dispatchResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+sess.Token.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return dispatchResult{}, &APIError{Kind: KindTransient, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		return dispatchResult{}, apiCallError(resp.StatusCode, respBody)
	}

	return dispatchResult{resp: resp, cancel: cancel}, nil
}

// apiCallError builds a tagged error from a non-2xx API response,
// preferring the decoded JSON error body over raw text.
func apiCallError(status int, body []byte) *APIError {
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error.Message != "" {
		return statusError(status, resp.Error.Code, resp.Error.Message)
	}
	return statusError(status, "", strings.TrimSpace(string(body)))
}

// apiBase resolves the API base URL. A token-supplied resource_url
// overrides the configured default; the scheme is forced to https and a
// trailing slash is stripped.
func apiBase(resourceURL, fallback string) string {
	if resourceURL == "" {
		return strings.TrimSuffix(fallback, "/")
	}
	host := strings.TrimPrefix(resourceURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	return "https://" + host + "/v1"
}
