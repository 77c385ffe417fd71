package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/sleepdiary/internal/auth"
	"github.com/hitoshi/sleepdiary/internal/diary"
	"github.com/hitoshi/sleepdiary/internal/middleware"
	"github.com/hitoshi/sleepdiary/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn       func(ctx context.Context, username, password string) (*auth.LoginResult, error)
	currentUserFn func(ctx context.Context, userID int64) (*model.User, error)
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

type mockDiaryService struct {
	saveDraftFn   func(ctx context.Context, userID int64, date string, payload json.RawMessage) (*diary.DraftResult, error)
	updateDraftFn func(ctx context.Context, userID int64, date string, payload json.RawMessage) (*diary.DraftResult, error)
	finalizeFn    func(ctx context.Context, entry *model.Entry) error
	getDraftFn    func(ctx context.Context, userID int64, date string) (*model.Draft, error)
	listEntriesFn func(ctx context.Context, userID int64) ([]*model.Entry, error)
}

func (m *mockDiaryService) SaveDraft(ctx context.Context, userID int64, date string, payload json.RawMessage) (*diary.DraftResult, error) {
	if m.saveDraftFn != nil {
		return m.saveDraftFn(ctx, userID, date, payload)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDiaryService) UpdateDraft(ctx context.Context, userID int64, date string, payload json.RawMessage) (*diary.DraftResult, error) {
	if m.updateDraftFn != nil {
		return m.updateDraftFn(ctx, userID, date, payload)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDiaryService) Finalize(ctx context.Context, entry *model.Entry) error {
	if m.finalizeFn != nil {
		return m.finalizeFn(ctx, entry)
	}
	return errors.New("not implemented")
}

func (m *mockDiaryService) GetDraft(ctx context.Context, userID int64, date string) (*model.Draft, error) {
	if m.getDraftFn != nil {
		return m.getDraftFn(ctx, userID, date)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDiaryService) ListEntries(ctx context.Context, userID int64) ([]*model.Entry, error) {
	if m.listEntriesFn != nil {
		return m.listEntriesFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

type mockKubiosData struct {
	fetchResultsFn  func(ctx context.Context, idToken, from string) (json.RawMessage, error)
	fetchUserInfoFn func(ctx context.Context, idToken string) (json.RawMessage, error)
}

func (m *mockKubiosData) FetchResults(ctx context.Context, idToken, from string) (json.RawMessage, error) {
	if m.fetchResultsFn != nil {
		return m.fetchResultsFn(ctx, idToken, from)
	}
	return nil, errors.New("not implemented")
}

func (m *mockKubiosData) FetchUserInfo(ctx context.Context, idToken string) (json.RawMessage, error) {
	if m.fetchUserInfoFn != nil {
		return m.fetchUserInfoFn(ctx, idToken)
	}
	return nil, errors.New("not implemented")
}

// stubAuthenticator は固定トークンを1人のユーザーとして認証する。
type stubAuthenticator struct{}

const (
	testToken       = "valid-session-token"
	testUserID      = int64(42)
	testKubiosToken = "kubios-id-token"
)

func (stubAuthenticator) Authenticate(raw string) (*model.AuthContext, error) {
	switch raw {
	case "":
		return nil, model.NewMissingCredentialError()
	case testToken:
		return &model.AuthContext{UserID: testUserID, KubiosIDToken: testKubiosToken}, nil
	default:
		return nil, model.NewInvalidCredentialError(errors.New("bad signature"))
	}
}

// --- ヘルパー ---

func newTestRouter(t *testing.T, authSvc *mockAuthService, diarySvc *mockDiaryService, kubios *mockKubiosData) http.Handler {
	t.Helper()
	if authSvc == nil {
		authSvc = &mockAuthService{}
	}
	if diarySvc == nil {
		diarySvc = &mockDiaryService{}
	}
	if kubios == nil {
		kubios = &mockKubiosData{}
	}

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 1000))
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Authenticator:     stubAuthenticator{},
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       rl,
		RequestTimeout:    5 * time.Second,
		AuthService:       authSvc,
		DiaryService:      diarySvc,
		KubiosData:        kubios,
	})
}

func doRequest(h http.Handler, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error response: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

func newAuthorizedRequest(method, path, token string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
