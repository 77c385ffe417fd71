// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind はAPIエラーの種別を表す。境界で判定可能な機械可読な値。
type ErrorKind string

// 定義済みエラー種別
const (
	KindAuthFailed            ErrorKind = "AUTH_FAILED"
	KindMissingCredential     ErrorKind = "MISSING_CREDENTIAL"
	KindInvalidCredential     ErrorKind = "INVALID_CREDENTIAL"
	KindProviderUnreachable   ErrorKind = "PROVIDER_UNREACHABLE"
	KindProviderProtocol      ErrorKind = "PROVIDER_PROTOCOL"
	KindProviderTokenRejected ErrorKind = "PROVIDER_TOKEN_REJECTED"
	KindConflict              ErrorKind = "CONFLICT"
	KindValidation            ErrorKind = "VALIDATION"
	KindNotFound              ErrorKind = "NOT_FOUND"
	KindStorage               ErrorKind = "STORAGE"
	KindRateLimited           ErrorKind = "RATE_LIMITED"
)

// FieldError は入力検証エラーの1項目を表す。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError は統一エラーフォーマットを表す。
// Messageはクライアントに返す短い文言で、内部情報を含めない。
// Causeはログ出力専用で、レスポンスには含まれない。
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Errors  []FieldError
	Cause   error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// AsAPIError はエラーチェーンから*APIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind はエラーチェーンに指定種別のAPIErrorが含まれるかを返す。
func IsKind(err error, kind ErrorKind) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == kind
}

// NewAuthFailedError はKubiosでのユーザー名/パスワード誤りエラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Kind:    KindAuthFailed,
		Status:  http.StatusUnauthorized,
		Message: "Login with Kubios failed due bad username/password",
	}
}

// NewProviderUnreachableError はKubiosへの通信失敗エラーを生成する。
func NewProviderUnreachableError(cause error) *APIError {
	return &APIError{
		Kind:    KindProviderUnreachable,
		Status:  http.StatusInternalServerError,
		Message: "Login with Kubios failed",
		Cause:   cause,
	}
}

// NewProviderProtocolError はKubiosの応答形式が想定と異なる場合のエラーを生成する。
func NewProviderProtocolError(cause error) *APIError {
	return &APIError{
		Kind:    KindProviderProtocol,
		Status:  http.StatusInternalServerError,
		Message: "Login with Kubios failed",
		Cause:   cause,
	}
}

// NewProviderTokenRejectedError はセッションに埋め込まれたKubiosトークンが
// Kubios側で拒否された場合のエラーを生成する。
func NewProviderTokenRejectedError() *APIError {
	return &APIError{
		Kind:    KindProviderTokenRejected,
		Status:  http.StatusUnauthorized,
		Message: "Kubios session expired, please log in again",
	}
}

// NewMissingCredentialError は認証情報が提示されていない場合のエラーを生成する。
func NewMissingCredentialError() *APIError {
	return &APIError{
		Kind:    KindMissingCredential,
		Status:  http.StatusUnauthorized,
		Message: "Unauthorized",
	}
}

// NewInvalidCredentialError は署名不正・期限切れトークンのエラーを生成する。
func NewInvalidCredentialError(cause error) *APIError {
	return &APIError{
		Kind:    KindInvalidCredential,
		Status:  http.StatusForbidden,
		Message: "Invalid token",
		Cause:   cause,
	}
}

// NewEntryConflictError は同じ日付に確定済みエントリが存在する場合のエラーを生成する。
func NewEntryConflictError(date string) *APIError {
	return &APIError{
		Kind:    KindConflict,
		Status:  http.StatusConflict,
		Message: fmt.Sprintf("Päivämäärällä %s on jo merkintä!", date),
	}
}

// NewDraftConflictError は同じ日付に下書きが存在する場合のエラーを生成する。
func NewDraftConflictError(date string) *APIError {
	return &APIError{
		Kind:    KindConflict,
		Status:  http.StatusConflict,
		Message: fmt.Sprintf("Päivämäärällä %s on jo luonnos!", date),
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(fields []FieldError) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: "Bad Request",
		Errors:  fields,
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Message: message,
	}
}

// NewStorageError は永続化層の失敗を生成する。詳細はCauseにのみ保持する。
func NewStorageError(cause error) *APIError {
	return &APIError{
		Kind:    KindStorage,
		Status:  http.StatusInternalServerError,
		Message: "database error",
		Cause:   cause,
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Kind:    KindRateLimited,
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests, please try again later.",
	}
}
