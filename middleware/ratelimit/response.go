package ratelimit

import (
	"encoding/json"
	"net/http"
)

// apiResponse é o envelope JSON das respostas de erro da camada de admissão.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{
		Success: false,
		Message: http.StatusText(status),
		Data:    map[string]string{"error": msg},
	})
}
