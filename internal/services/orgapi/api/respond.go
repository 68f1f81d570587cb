package api

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
)

type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// writeJSON renders a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("orgapi: encode response: %v", err)
	}
}

// writeError maps a domain error to its HTTP status and renders it.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := err.Error()
	if code == apperrors.CodeUnknown {
		// Do not leak internals on unexpected failures.
		log.Printf("orgapi: internal error: %v", err)
		message = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorBody{
		Code:  string(code),
		Error: message,
	})
}
