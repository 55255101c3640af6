// Package response writes the JSON envelope shared by the HTTP routes:
// {"status":"success","data":...} or {"status":"error","message":...,"code":...}.
package response

import (
	"encoding/json"
	"net/http"

	"onboardr/pkg/errors"
)

type envelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// JSON writes v with the given status code
func JSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Success wraps data in a success envelope
func Success(w http.ResponseWriter, code int, data interface{}) {
	JSON(w, code, envelope{Status: "success", Data: data})
}

// Error writes an error envelope
func Error(w http.ResponseWriter, code int, errCode, message string) {
	JSON(w, code, envelope{Status: "error", Message: message, Code: errCode})
}

// FromError maps err onto a status and code. Internal details are not exposed.
func FromError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := StatusFor(code)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
		if code == errors.CodeConfig {
			message = "Server configuration error"
		}
	}
	Error(w, status, code, message)
}

// StatusFor returns the HTTP status used for an error code
func StatusFor(code string) int {
	switch code {
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeTimeout:
		return http.StatusRequestTimeout
	case errors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON request body into dest
func Decode(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "malformed body: %v", err)
	}
	return nil
}
