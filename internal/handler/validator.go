package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/sleepdiary/internal/model"
)

// maxRequestBodySize はリクエストボディの読み取り上限。
const maxRequestBodySize = 1 << 20

// RequestValidator はgo-playground/validatorでリクエストボディを検証する。
// エラーのフィールド名にはJSONタグ名を使う。
type RequestValidator struct {
	validator *validator.Validate
}

// NewRequestValidator はRequestValidatorを生成する。
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validator: v}
}

// Validate は構造体を検証し、失敗時はフィールドごとに最初の1件をまとめた検証エラーを返す。
func (v *RequestValidator) Validate(i any) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("failed to validate request: %w", err)
	}

	seen := make(map[string]bool, len(validationErrors))
	fields := make([]model.FieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		if seen[fe.Field()] {
			continue
		}
		seen[fe.Field()] = true
		fields = append(fields, model.FieldError{
			Field:   fe.Field(),
			Message: fieldErrorMessage(fe),
		})
	}
	return model.NewValidationError(fields)
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "datetime":
		return fmt.Sprintf("%s must match the format %s", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// decodeJSONBody はボディを上限付きで読み取り、dstにデコードする。
// 読み取った生のボディも返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		return nil, model.NewValidationError([]model.FieldError{
			{Field: "body", Message: "request body is too large or unreadable"},
		})
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return nil, model.NewValidationError([]model.FieldError{
			{Field: "body", Message: "request body must be a valid JSON object"},
		})
	}
	return body, nil
}
