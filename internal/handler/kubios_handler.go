package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/sleepdiary/internal/middleware"
	"github.com/hitoshi/sleepdiary/internal/model"
)

// KubiosDataSource はKubiosのAPIをセッションのトークンで呼び出すインターフェース。
type KubiosDataSource interface {
	FetchResults(ctx context.Context, idToken, from string) (json.RawMessage, error)
	FetchUserInfo(ctx context.Context, idToken string) (json.RawMessage, error)
}

// KubiosHandler はKubiosのデータを中継するHTTPハンドラー。
type KubiosHandler struct {
	source KubiosDataSource
}

// NewKubiosHandler はKubiosHandlerを生成する。
func NewKubiosHandler(source KubiosDataSource) *KubiosHandler {
	return &KubiosHandler{source: source}
}

// UserData はKubiosの測定結果を返す。fromクエリはRFC3339で省略可能。
// GET /api/kubios-data/user-data
func (h *KubiosHandler) UserData(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.AuthFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewMissingCredentialError())
		return
	}

	// 未エンコードの "+00:00" はクエリ解析で空白になる
	from := strings.ReplaceAll(r.URL.Query().Get("from"), " ", "+")
	if from != "" {
		if _, err := time.Parse(time.RFC3339, from); err != nil {
			middleware.WriteErrorResponse(w, model.NewValidationError([]model.FieldError{
				{Field: "from", Message: "from must be an RFC3339 timestamp"},
			}))
			return
		}
	}

	data, err := h.source.FetchResults(r.Context(), ac.KubiosIDToken, from)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// UserInfo はKubiosのユーザー情報を返す。
// GET /api/kubios-data/user-info
func (h *KubiosHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.AuthFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewMissingCredentialError())
		return
	}

	data, err := h.source.FetchUserInfo(r.Context(), ac.KubiosIDToken)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}
