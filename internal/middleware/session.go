// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/sleepdiary/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// authContextKey はリクエストコンテキストに認証情報を格納するためのキー。
var authContextKey = contextKey("auth")

// SessionAuthenticator はセッショントークンの検証に必要なインターフェース。
type SessionAuthenticator interface {
	Authenticate(raw string) (*model.AuthContext, error)
}

// NewSessionMiddleware はAuthorizationヘッダのBearerトークンを検証するミドルウェアを返す。
// トークンが無い場合は401、検証に失敗した場合は403を返す。
// 認証情報はリクエストコンテキストに注入し、ハンドラーはAuthFromContextで取得する。
func NewSessionMiddleware(auth SessionAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := auth.Authenticate(bearerToken(r))
			if err != nil {
				WriteError(w, r, err)
				return
			}

			setLoggedUserID(r.Context(), ac.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), ac)))
		})
	}
}

// bearerToken は "Bearer <token>" 形式のAuthorizationヘッダからトークンを取り出す。
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthFromContext はリクエストコンテキストから認証情報を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func AuthFromContext(ctx context.Context) (*model.AuthContext, error) {
	ac, ok := ctx.Value(authContextKey).(*model.AuthContext)
	if !ok || ac == nil {
		return nil, fmt.Errorf("auth context not found")
	}
	return ac, nil
}

// ContextWithAuth はコンテキストに認証情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAuth(ctx context.Context, ac *model.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}
