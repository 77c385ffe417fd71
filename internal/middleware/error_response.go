package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sleepdiary/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Message string             `json:"message"`
	Status  int                `json:"status"`
	Errors  []model.FieldError `json:"errors,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Message: apiErr.Message,
		Status:  apiErr.Status,
		Errors:  apiErr.Errors,
	})
}

// WriteError はエラーを分類してレスポンスを書き込む。
// *model.APIError以外のエラーは内部エラーとして扱い、詳細はログにのみ出力する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		slog.Error("unclassified error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteInternalServerError(w)
		return
	}

	if apiErr.Status >= http.StatusInternalServerError {
		attrs := []any{
			slog.String("kind", string(apiErr.Kind)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		}
		if apiErr.Cause != nil {
			attrs = append(attrs, slog.String("error", apiErr.Cause.Error()))
		}
		slog.Error("request failed", attrs...)
	}
	WriteErrorResponse(w, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, &model.APIError{
		Status:  http.StatusInternalServerError,
		Message: "Internal Server Error",
	})
}
