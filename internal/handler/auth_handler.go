// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/sleepdiary/internal/auth"
	"github.com/hitoshi/sleepdiary/internal/middleware"
	"github.com/hitoshi/sleepdiary/internal/model"
)

// loginSucceededMessage はログイン成功時の応答メッセージ。
const loginSucceededMessage = "Logged in successfully with Kubios"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	CurrentUser(ctx context.Context, userID int64) (*model.User, error)
}

// AuthHandler はKubiosログインとログインユーザー取得のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	validator *RequestValidator
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, v *RequestValidator) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: v,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// loginResponse はログイン成功時の応答。userにはKubiosのプロフィールを返す。
type loginResponse struct {
	Message string         `json:"message"`
	User    *model.Profile `json:"user"`
	UserID  int64          `json:"user_id"`
	Token   string         `json:"token"`
}

// meResponse はログインユーザー情報の応答。
type meResponse struct {
	User        *model.User `json:"user"`
	KubiosToken string      `json:"kubios_token"`
}

// Login はKubiosの資格情報でログインし、セッショントークンを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if _, err := decodeJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message: loginSucceededMessage,
		User:    result.Profile,
		UserID:  result.UserID,
		Token:   result.Token,
	})
}

// Me はセッションのユーザー情報と埋め込まれたKubiosトークンを返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.AuthFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewMissingCredentialError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), ac.UserID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:        user,
		KubiosToken: ac.KubiosIDToken,
	})
}
