package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/sleepdiary/internal/model"
)

// mockAuthenticator はSessionAuthenticatorのモック実装。
type mockAuthenticator struct {
	authenticateFn func(raw string) (*model.AuthContext, error)
	received       string
}

func (m *mockAuthenticator) Authenticate(raw string) (*model.AuthContext, error) {
	m.received = raw
	return m.authenticateFn(raw)
}

func tokenAuthenticator(valid string, ac *model.AuthContext) *mockAuthenticator {
	return &mockAuthenticator{
		authenticateFn: func(raw string) (*model.AuthContext, error) {
			if raw == "" {
				return nil, model.NewMissingCredentialError()
			}
			if raw != valid {
				return nil, model.NewInvalidCredentialError(errors.New("signature mismatch"))
			}
			return ac, nil
		},
	}
}

func TestSessionMiddleware_ValidToken_InjectsAuthContext(t *testing.T) {
	auth := tokenAuthenticator("good-token", &model.AuthContext{UserID: 42, KubiosIDToken: "kubios-id"})

	var got *model.AuthContext
	handler := NewSessionMiddleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := AuthFromContext(r.Context())
		if err != nil {
			t.Fatalf("AuthFromContext returned error: %v", err)
		}
		got = ac
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/entries", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got == nil || got.UserID != 42 || got.KubiosIDToken != "kubios-id" {
		t.Errorf("auth context = %+v, want user 42 with kubios-id", got)
	}
	if auth.received != "good-token" {
		t.Errorf("authenticator received %q, want %q", auth.received, "good-token")
	}
}

func TestSessionMiddleware_MissingHeader_Returns401(t *testing.T) {
	auth := tokenAuthenticator("good-token", &model.AuthContext{UserID: 1})

	called := false
	handler := NewSessionMiddleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/entries", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if called {
		t.Error("handler should not be called without a token")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != http.StatusUnauthorized {
		t.Errorf("body.status = %d, want %d", body.Status, http.StatusUnauthorized)
	}
}

func TestSessionMiddleware_InvalidToken_Returns403(t *testing.T) {
	auth := tokenAuthenticator("good-token", &model.AuthContext{UserID: 1})

	handler := NewSessionMiddleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/entries", nil)
	req.Header.Set("Authorization", "Bearer forged-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Message != "Invalid token" {
		t.Errorf("message = %q, want %q", body.Message, "Invalid token")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"lowercase scheme", "bearer abc", "abc"},
		{"extra spaces", "Bearer   abc  ", "abc"},
		{"basic scheme", "Basic dXNlcjpwYXNz", ""},
		{"other scheme", "Token abc", ""},
		{"no scheme", "abc.def.ghi", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(req); got != tt.want {
				t.Errorf("bearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthFromContext_NoValue_ReturnsError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := AuthFromContext(req.Context()); err == nil {
		t.Error("expected error when auth context is absent")
	}
}

func TestContextWithAuth_RoundTrip(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := ContextWithAuth(req.Context(), &model.AuthContext{UserID: 7, KubiosIDToken: "tok"})

	ac, err := AuthFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.UserID != 7 || ac.KubiosIDToken != "tok" {
		t.Errorf("auth context = %+v", ac)
	}
}
