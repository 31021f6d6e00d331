package atlassian

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/tokenstore"
)

// tokenServer serves the token endpoint, recording decoded JSON request bodies.
type tokenServer struct {
	*httptest.Server
	requests []map[string]string
	respond  func(w http.ResponseWriter, body map[string]string)
}

func newTokenServer(t *testing.T, respond func(w http.ResponseWriter, body map[string]string)) *tokenServer {
	t.Helper()
	ts := &tokenServer{respond: respond}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("token request is not JSON: %v", err)
		}
		ts.requests = append(ts.requests, body)
		ts.respond(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeTokenJSON(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func newTestManager(t *testing.T, authBase string) *Manager {
	t.Helper()
	m, err := NewManager("client-id", "client-secret", "https://bridge.example.com/oauth/callback", Endpoint(authBase))
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	return m
}

func TestAuthorizationURL(t *testing.T) {
	m := newTestManager(t, DefaultAuthBaseURL)

	raw, state, err := m.AuthorizationURL("")
	if err != nil {
		t.Fatalf("AuthorizationURL() failed: %v", err)
	}

	if len(state) != 64 {
		t.Errorf("generated state length = %d, want 64", len(state))
	}
	if _, err := hex.DecodeString(state); err != nil {
		t.Errorf("generated state is not hex: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	if got := u.Scheme + "://" + u.Host + u.Path; got != "https://auth.atlassian.com/authorize" {
		t.Errorf("endpoint = %q", got)
	}

	q := u.Query()
	want := map[string]string{
		"audience":      "api.atlassian.com",
		"client_id":     "client-id",
		"scope":         "read:jira-work write:jira-work read:jira-user offline_access",
		"redirect_uri":  "https://bridge.example.com/oauth/callback",
		"state":         state,
		"response_type": "code",
		"prompt":        "consent",
	}
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Errorf("query %s = %q, want %q", key, got, value)
		}
	}
}

func TestAuthorizationURLKeepsCallerState(t *testing.T) {
	m := newTestManager(t, DefaultAuthBaseURL)

	raw, state, err := m.AuthorizationURL("caller-state")
	if err != nil {
		t.Fatalf("AuthorizationURL() failed: %v", err)
	}
	if state != "caller-state" {
		t.Errorf("state = %q, want caller-state", state)
	}
	if !strings.Contains(raw, "state=caller-state") {
		t.Errorf("URL %q does not carry the caller state", raw)
	}
}

func TestExchange(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, _ map[string]string) {
		writeTokenJSON(w, http.StatusOK, `{"access_token":"access-1","refresh_token":"refresh-1","expires_in":3600,"token_type":"Bearer"}`)
	})
	m := newTestManager(t, srv.URL)

	before := time.Now()
	cred, err := m.Exchange(context.Background(), "code-123")
	if err != nil {
		t.Fatalf("Exchange() failed: %v", err)
	}

	if cred.AccessToken != "access-1" || cred.RefreshToken != "refresh-1" {
		t.Errorf("credential = %+v", cred)
	}
	if !cred.ExpiresAt.After(before.Add(59 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about an hour from now", cred.ExpiresAt)
	}

	if len(srv.requests) != 1 {
		t.Fatalf("token requests = %d, want 1", len(srv.requests))
	}
	body := srv.requests[0]
	wantBody := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "code-123",
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"redirect_uri":  "https://bridge.example.com/oauth/callback",
	}
	for key, value := range wantBody {
		if body[key] != value {
			t.Errorf("body %s = %q, want %q", key, body[key], value)
		}
	}
}

func TestExchangeProviderError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		payload   string
		wantClass failure.Class
	}{
		{"invalid grant", http.StatusForbidden, `{"error":"invalid_grant","error_description":"Invalid authorization code"}`, failure.ClassAuth},
		{"server error", http.StatusInternalServerError, `{"error":"server_error"}`, failure.ClassTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, func(w http.ResponseWriter, _ map[string]string) {
				writeTokenJSON(w, tt.status, tt.payload)
			})
			m := newTestManager(t, srv.URL)

			_, err := m.Exchange(context.Background(), "code-123")

			var te *TokenError
			if !errors.As(err, &te) {
				t.Fatalf("Exchange() error = %v, want *TokenError", err)
			}
			if te.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.status)
			}
			if te.Payload != tt.payload {
				t.Errorf("Payload = %q, want %q", te.Payload, tt.payload)
			}
			if got := failure.Classify(err); got != tt.wantClass {
				t.Errorf("class = %v, want %v", got, tt.wantClass)
			}
			if len(srv.requests) != 1 {
				t.Errorf("token requests = %d, want exactly 1 (no retry)", len(srv.requests))
			}
		})
	}
}

func TestExchangeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	m := newTestManager(t, srv.URL)

	_, err := m.Exchange(context.Background(), "code-123")

	var te *TokenError
	if !errors.As(err, &te) {
		t.Fatalf("Exchange() error = %v, want *TokenError", err)
	}
	if te.Payload != "" {
		t.Errorf("Payload = %q, want empty", te.Payload)
	}
	if got := failure.Classify(err); got != failure.ClassTransport {
		t.Errorf("class = %v, want transport", got)
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantRefresh string
	}{
		{"keeps refresh token when not rotated", `{"access_token":"access-2","expires_in":3600}`, "refresh-1"},
		{"rotates refresh token", `{"access_token":"access-2","refresh_token":"refresh-2","expires_in":3600}`, "refresh-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, func(w http.ResponseWriter, _ map[string]string) {
				writeTokenJSON(w, http.StatusOK, tt.response)
			})
			m := newTestManager(t, srv.URL)

			old := tokenstore.Credential{
				PrincipalID:  "system",
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				ExpiresAt:    time.Now().Add(-time.Minute),
			}
			cred, err := m.Refresh(context.Background(), old)
			if err != nil {
				t.Fatalf("Refresh() failed: %v", err)
			}

			if cred.PrincipalID != "system" {
				t.Errorf("PrincipalID = %q, want system", cred.PrincipalID)
			}
			if cred.AccessToken != "access-2" {
				t.Errorf("AccessToken = %q, want access-2", cred.AccessToken)
			}
			if cred.RefreshToken != tt.wantRefresh {
				t.Errorf("RefreshToken = %q, want %q", cred.RefreshToken, tt.wantRefresh)
			}
			if !cred.ExpiresAt.After(old.ExpiresAt) {
				t.Errorf("ExpiresAt = %v, want later than %v", cred.ExpiresAt, old.ExpiresAt)
			}

			body := srv.requests[0]
			if body["grant_type"] != "refresh_token" || body["refresh_token"] != "refresh-1" {
				t.Errorf("refresh body = %v", body)
			}
		})
	}
}

func TestRefreshFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
	}{
		{"invalid grant", http.StatusForbidden, `{"error":"invalid_grant","error_description":"Unknown or invalid refresh token."}`},
		{"missing expiry", http.StatusOK, `{"access_token":"access-2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, func(w http.ResponseWriter, _ map[string]string) {
				writeTokenJSON(w, tt.status, tt.response)
			})
			m := newTestManager(t, srv.URL)

			_, err := m.Refresh(context.Background(), tokenstore.Credential{PrincipalID: "system", RefreshToken: "refresh-1"})
			if err == nil {
				t.Fatal("Refresh() should fail")
			}
			if got := failure.Classify(err); got != failure.ClassAuth {
				t.Errorf("class = %v, want auth", got)
			}
		})
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, _ map[string]string) {
		t.Error("no token request expected")
	})
	m := newTestManager(t, srv.URL)

	_, err := m.Refresh(context.Background(), tokenstore.Credential{PrincipalID: "system", AccessToken: "a"})
	if got := failure.Classify(err); got != failure.ClassAuth {
		t.Errorf("class = %v, want auth", got)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager("", "secret", "https://x/cb", Endpoint(DefaultAuthBaseURL)); err == nil {
		t.Error("NewManager() should reject empty client id")
	}
	if _, err := NewManager("id", "secret", "", Endpoint(DefaultAuthBaseURL)); err == nil {
		t.Error("NewManager() should reject empty redirect url")
	}
}
