// Package httputil provides shared HTTP response helpers for the pipeline
// and relay handlers. Handlers use these instead of raw ResponseWriter calls
// so every endpoint speaks the same envelope.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
)

// FailureResponse is the error envelope of the relay wire contract:
// {"success": false, "error": "..."} with optional vendor result code.
type FailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Result  *int   `json:"result,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("response encode failed", "error", err.Error())
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Fail writes the contract failure envelope with the given status.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, FailureResponse{Success: false, Error: message})
}

// FailWithResult writes a failure envelope carrying the vendor result code.
func FailWithResult(w http.ResponseWriter, status int, message string, result int) {
	JSON(w, status, FailureResponse{Success: false, Error: message, Result: &result})
}

// Decode reads JSON from the request body into dst.
// Returns false and writes a 400 failure envelope if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		Fail(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
