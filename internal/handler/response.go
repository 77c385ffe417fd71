package handler

import (
	"encoding/json"
	"net/http"
)

// writeJSON はステータスコードとともに値をJSONで書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// messageResponse はメッセージのみの応答。
type messageResponse struct {
	Message string `json:"message"`
}
