package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/sleepdiary/internal/model"
	"github.com/hitoshi/sleepdiary/internal/security"
)

const testUserAgent = "sleepdiary-test/1.0"

// fakeKubios はKubiosのログインとAPIを模したテストサーバーを起動する。
// usernameとpasswordが一致した場合のみトークン付きのLocationを返す。
func fakeKubios(t *testing.T, username, password string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		cookie, err := r.Cookie("XSRF-TOKEN")
		if err != nil || cookie.Value == "" || cookie.Value != r.PostForm.Get("_csrf") {
			t.Errorf("csrf cookie and form field must match: cookie=%v form=%q", cookie, r.PostForm.Get("_csrf"))
		}
		if got := r.Header.Get("User-Agent"); got != testUserAgent {
			t.Errorf("User-Agent = %q", got)
		}
		if r.PostForm.Get("response_type") != "token" || r.PostForm.Get("scope") != "openid" {
			t.Errorf("unexpected oauth params: %v", r.PostForm)
		}
		if r.PostForm.Get("client_id") != "client-1" || r.PostForm.Get("redirect_uri") != "https://app.example/cb" {
			t.Errorf("unexpected client params: %v", r.PostForm)
		}

		if r.PostForm.Get("username") != username || r.PostForm.Get("password") != password {
			w.Header().Set("Location", "/login?null")
			w.WriteHeader(http.StatusFound)
			return
		}
		w.Header().Set("Location", "https://app.example/cb#id_token=idtok-"+username+"&access_token=acc&expires_in=3600&token_type=Bearer")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("GET /user/self", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "idtok-"+username {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","user":{"given_name":"Alice","family_name":"Doe","email":"alice@example.com"}}`))
	})
	mux.HandleFunc("GET /result/self", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "idtok-"+username {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","results":[],"from":"` + r.URL.Query().Get("from") + `"}`))
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestKubiosClient(baseURL string) *KubiosClient {
	return NewKubiosClient(KubiosConfig{
		APIBaseURL:  baseURL,
		LoginURL:    baseURL + "/login",
		ClientID:    "client-1",
		RedirectURI: "https://app.example/cb",
		UserAgent:   testUserAgent,
	}, security.NewPlainClient(2*time.Second), nil)
}

func TestKubiosClient_Login_Success(t *testing.T) {
	ts := fakeKubios(t, "alice", "secret")
	client := newTestKubiosClient(ts.URL)

	tok, err := client.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.IDToken != "idtok-alice" {
		t.Errorf("IDToken = %q, want %q", tok.IDToken, "idtok-alice")
	}
	if tok.ExpiresIn != time.Hour {
		t.Errorf("ExpiresIn = %v, want 1h", tok.ExpiresIn)
	}
}

func TestKubiosClient_Login_BadCredentials(t *testing.T) {
	ts := fakeKubios(t, "alice", "secret")
	client := newTestKubiosClient(ts.URL)

	_, err := client.Login(context.Background(), "alice", "wrongpass")
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Kind != model.KindAuthFailed {
		t.Errorf("Kind = %s, want %s", apiErr.Kind, model.KindAuthFailed)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}
	if apiErr.Message != "Login with Kubios failed due bad username/password" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

// TestKubiosClient_Login_FreshNonce はログイン試行ごとに新しいCSRFノンスが使われることを検証する。
func TestKubiosClient_Login_FreshNonce(t *testing.T) {
	seen := map[string]bool{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		seen[r.PostForm.Get("_csrf")] = true
		w.Header().Set("Location", "/login?null")
		w.WriteHeader(http.StatusFound)
	}))
	defer ts.Close()

	client := newTestKubiosClient(ts.URL)
	for i := 0; i < 3; i++ {
		_, _ = client.Login(context.Background(), "a", "b")
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct nonces, got %d", len(seen))
	}
}

func TestKubiosClient_Login_UnexpectedRedirect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/maintenance")
		w.WriteHeader(http.StatusFound)
	}))
	defer ts.Close()

	_, err := newTestKubiosClient(ts.URL).Login(context.Background(), "a", "b")
	if !model.IsKind(err, model.KindProviderProtocol) {
		t.Errorf("err = %v, want PROVIDER_PROTOCOL", err)
	}
	if apiErr, _ := model.AsAPIError(err); apiErr == nil || apiErr.Status != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %v", apiErr)
	}
}

func TestKubiosClient_Login_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestKubiosClient(url).Login(context.Background(), "a", "b")
	if !model.IsKind(err, model.KindProviderUnreachable) {
		t.Errorf("err = %v, want PROVIDER_UNREACHABLE", err)
	}
}

func TestKubiosClient_Login_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	client := newTestKubiosClient(ts.URL)
	client.httpClient = security.NewPlainClient(50 * time.Millisecond)

	_, err := client.Login(context.Background(), "a", "b")
	if !model.IsKind(err, model.KindProviderUnreachable) {
		t.Errorf("err = %v, want PROVIDER_UNREACHABLE", err)
	}
}

func TestKubiosClient_FetchProfile(t *testing.T) {
	ts := fakeKubios(t, "alice", "secret")
	client := newTestKubiosClient(ts.URL)

	profile, err := client.FetchProfile(context.Background(), "idtok-alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := model.Profile{GivenName: "Alice", FamilyName: "Doe", Email: "alice@example.com"}
	if *profile != want {
		t.Errorf("profile = %+v, want %+v", *profile, want)
	}
}

func TestKubiosClient_FetchProfile_TokenRejected(t *testing.T) {
	ts := fakeKubios(t, "alice", "secret")

	_, err := newTestKubiosClient(ts.URL).FetchProfile(context.Background(), "stale")
	if !model.IsKind(err, model.KindProviderTokenRejected) {
		t.Errorf("err = %v, want PROVIDER_TOKEN_REJECTED", err)
	}
}

func TestKubiosClient_FetchProfile_BadStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"statusがokでない", `{"status":"error","user":{}}`},
		{"JSONでない", `<html>oops</html>`},
		{"emailがない", `{"status":"ok","user":{"given_name":"A"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := newTestKubiosClient(ts.URL).FetchProfile(context.Background(), "tok")
			if !model.IsKind(err, model.KindProviderProtocol) {
				t.Errorf("err = %v, want PROVIDER_PROTOCOL", err)
			}
		})
	}
}

func TestKubiosClient_FetchResults_DefaultFrom(t *testing.T) {
	ts := fakeKubios(t, "alice", "secret")

	raw, err := newTestKubiosClient(ts.URL).FetchResults(context.Background(), "idtok-alice", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"status":"ok","results":[],"from":"2024-01-01T00:00:00+00:00"}`
	if string(raw) != want {
		t.Errorf("raw = %s, want %s", raw, want)
	}
}

func TestKubiosClient_FetchUserInfo_Passthrough(t *testing.T) {
	ts := fakeKubios(t, "alice", "secret")

	raw, err := newTestKubiosClient(ts.URL).FetchUserInfo(context.Background(), "idtok-alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected body")
	}
}
