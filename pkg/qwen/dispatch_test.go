package qwen

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func chatPayload(text string) *ChatRequest {
	return &ChatRequest{
		Model:    "qwen-vl-max",
		Messages: []Message{TextMessage("user", text)},
	}
}

func TestChat(t *testing.T) {
	var gotAuth, gotAccept, gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotRequestID = r.Header.Get("X-Request-Id")

		var req ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("buffered call must set stream=false")
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "hello"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	sess := &Session{Token: &Token{
		AccessToken: "tok-live",
		Expiry:      time.Now().Add(time.Hour),
	}}

	resp, err := client.Chat(context.Background(), sess, chatPayload("hi"))
	if err != nil {
		t.Fatalf("Chat() failed: %v", err)
	}

	if resp.Content() != "hello" {
		t.Errorf("Content() = %q, want hello", resp.Content())
	}
	if gotAuth != "Bearer tok-live" {
		t.Errorf("Authorization = %q, want Bearer tok-live", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
	if gotRequestID == "" {
		t.Error("X-Request-Id header missing")
	}
}

func TestChat_ExpiredTokenRefreshedOnce(t *testing.T) {
	refreshCalls := 0
	var chatAuth []string

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "tok-fresh",
			"refresh_token": "rt-2",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		chatAuth = append(chatAuth, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "ok"},
			}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	sess := &Session{Token: &Token{
		AccessToken:  "tok-stale",
		RefreshToken: "rt-1",
		Expiry:       time.Now().Add(-time.Minute),
	}}

	if _, err := client.Chat(context.Background(), sess, chatPayload("hi")); err != nil {
		t.Fatalf("Chat() failed: %v", err)
	}

	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", refreshCalls)
	}
	if len(chatAuth) != 1 || chatAuth[0] != "Bearer tok-fresh" {
		t.Errorf("downstream Authorization = %v, want the refreshed token", chatAuth)
	}
}

func TestChat_ExpiredWithoutRefreshProceeds(t *testing.T) {
	// An expired token with no refresh token is sent as-is; the server's
	// 401 surfaces as a fatal auth error without retries.
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "token expired", "code": "invalid_token"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	sess := &Session{Token: &Token{
		AccessToken: "tok-stale",
		Expiry:      time.Now().Add(-time.Minute),
	}}

	_, err := client.Chat(context.Background(), sess, chatPayload("hi"))
	if err == nil {
		t.Fatal("Chat() should fail on 401")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (401 is not retried)", calls)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.HTTPStatus != http.StatusUnauthorized || apiErr.Message != "token expired" {
		t.Errorf("APIError = %+v, want decoded 401 body", apiErr)
	}
}

func TestChat_NoCredentials(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")

	_, err := client.Chat(context.Background(), &Session{}, chatPayload("hi"))
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}

func TestChat_LoadsStoredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-stored" {
			t.Errorf("Authorization = %q, want stored token", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "ok"},
			}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.store.Save(&Token{
		AccessToken: "tok-stored",
		Expiry:      time.Now().Add(time.Hour),
	}, "stored@example.com"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	sess := &Session{}
	if _, err := client.Chat(context.Background(), sess, chatPayload("hi")); err != nil {
		t.Fatalf("Chat() failed: %v", err)
	}

	// The envelope's email is adopted for later refreshes.
	if sess.Email != "stored@example.com" {
		t.Errorf("session email = %q, want stored@example.com", sess.Email)
	}
}

func TestChat_TransientRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "ok"},
			}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	sess := &Session{Token: &Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}}

	resp, err := client.Chat(context.Background(), sess, chatPayload("hi"))
	if err != nil {
		t.Fatalf("Chat() failed: %v", err)
	}
	if resp.Content() != "ok" {
		t.Errorf("Content() = %q, want ok", resp.Content())
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", got)
		}

		var req ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming call must set stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"chunk\":%d}\n\n", i)
			flusher.Flush()
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	sess := &Session{Token: &Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}}

	body, err := client.ChatStream(context.Background(), sess, chatPayload("hi"))
	if err != nil {
		t.Fatalf("ChatStream() failed: %v", err)
	}
	defer func() { _ = body.Close() }()

	var events []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}

	if len(events) != 4 {
		t.Errorf("events = %d, want 4", len(events))
	}
	if events[len(events)-1] != "[DONE]" {
		t.Errorf("last event = %q, want [DONE]", events[len(events)-1])
	}
}

func TestAPIBase(t *testing.T) {
	tests := []struct {
		name        string
		resourceURL string
		fallback    string
		want        string
	}{
		{"no override", "", "https://dashscope.aliyuncs.com/compatible-mode/v1", "https://dashscope.aliyuncs.com/compatible-mode/v1"},
		{"override host", "portal.qwen.ai", "https://fallback/v1", "https://portal.qwen.ai/v1"},
		{"override trailing slash", "portal.qwen.ai/", "https://fallback/v1", "https://portal.qwen.ai/v1"},
		{"override with scheme", "https://portal.qwen.ai", "https://fallback/v1", "https://portal.qwen.ai/v1"},
		{"fallback trailing slash", "", "https://fallback/v1/", "https://fallback/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apiBase(tt.resourceURL, tt.fallback); got != tt.want {
				t.Errorf("apiBase(%q, %q) = %q, want %q", tt.resourceURL, tt.fallback, got, tt.want)
			}
		})
	}
}
