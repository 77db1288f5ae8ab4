package qwen

import (
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func deviceSession(deviceCode, verifier string, interval int64) *DeviceFlowSession {
	return &DeviceFlowSession{
		DeviceAuthResponse: oauth2.DeviceAuthResponse{
			DeviceCode: deviceCode,
			UserCode:   "WXYZ-1234",
			Interval:   interval,
		},
		CodeVerifier: verifier,
	}
}

func writeOAuthError(w http.ResponseWriter, code string) {
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": code,
	})
}

func TestPollForToken_PendingThenSuccess(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != deviceGrantType {
			t.Errorf("grant_type = %q, want %q", got, deviceGrantType)
		}
		if got := r.PostForm.Get("code_verifier"); got != "v1" {
			t.Errorf("code_verifier = %q, want v1", got)
		}

		if calls <= 2 {
			writeOAuthError(w, errAuthorizationPending)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-A",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	start := time.Now()
	token, err := client.PollForToken(context.Background(), deviceSession("DC123", "v1", 1), "user@example.com")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("PollForToken() failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("token endpoint calls = %d, want 3", calls)
	}

	// Two sleeps of the 1s initial interval before success.
	if elapsed < 2*time.Second || elapsed > 4*time.Second {
		t.Errorf("elapsed = %v, want ~2s", elapsed)
	}

	if token.AccessToken != "tok-A" {
		t.Errorf("AccessToken = %q, want tok-A", token.AccessToken)
	}

	wantExpiry := start.Add(3600 * time.Second)
	if diff := token.Expiry.Sub(wantExpiry); diff < -time.Second || diff > 4*time.Second {
		t.Errorf("Expiry = %v, want within a second of poll completion + 3600s", token.Expiry)
	}

	// Success persists the envelope with the supplied email.
	stored, email, err := client.store.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if stored == nil || stored.AccessToken != "tok-A" {
		t.Error("token was not persisted on success")
	}
	if email != "user@example.com" {
		t.Errorf("persisted email = %q, want user@example.com", email)
	}
}

func TestPollOnce_SlowDownGrowsInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, errSlowDown)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	form := url.Values{}
	token, retryIn, err := client.pollOnce(context.Background(), form, 5000*time.Millisecond)
	if err != nil {
		t.Fatalf("pollOnce() failed: %v", err)
	}
	if token != nil {
		t.Fatal("pollOnce() returned a token on slow_down")
	}
	if want := 7500 * time.Millisecond; retryIn != want {
		t.Errorf("next interval = %v, want %v (5000ms x 1.5)", retryIn, want)
	}
}

func TestPollForToken_UnstructuredBadRequestIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("user code invalid or expired"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.PollForToken(context.Background(), deviceSession("DC123", "v1", 1), "")
	if err == nil {
		t.Fatal("PollForToken() should fail on a malformed 400")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindSessionExpired {
		t.Errorf("error kind = %v, want %v", err, KindSessionExpired)
	}
}

func TestPollForToken_AccessDeniedIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, "access_denied")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.PollForToken(context.Background(), deviceSession("DC123", "v1", 1), "")
	if err == nil {
		t.Fatal("PollForToken() should fail on access_denied")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "access_denied" {
		t.Errorf("err = %v, want access_denied APIError", err)
	}
}

func TestPollForToken_CancelledDuringSleep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, errAuthorizationPending)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.PollForToken(ctx, deviceSession("DC123", "v1", 60), "")
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("PollForToken() should propagate cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("PollForToken did not return after cancellation")
	}
}
