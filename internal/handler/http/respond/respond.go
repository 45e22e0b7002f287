// Package respond provides utilities for sending HTTP responses in JSON format.
// It includes error handling with sanitization to prevent leaking sensitive information.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"link-embed/internal/domain/entity"
)

// ErrorBody is the JSON shape of every error response.
//
//	{"code": "fetch_error", "message": "...", "data": {"status": 400, "debug": {...}}}
type ErrorBody struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`
}

// ErrorData carries the HTTP status and, in debug mode, diagnostic fields.
type ErrorData struct {
	Status int            `json:"status"`
	Debug  map[string]any `json:"debug,omitempty"`
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Log the error but cannot send error response as headers already sent
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// Error writes err as an ErrorBody.
//
// A *entity.PreviewError is written with its own kind, message and status.
// Anything else is an internal error: the details are logged (sanitized)
// and the client sees a generic 500.
func Error(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var pe *entity.PreviewError
	if errors.As(err, &pe) {
		status := pe.HTTPStatus()
		if pe.Kind == entity.KindRateLimitExceeded {
			w.Header().Set("Retry-After", "60")
		}
		JSON(w, status, ErrorBody{
			Code:    string(pe.Kind),
			Message: pe.Message,
			Data:    ErrorData{Status: status, Debug: pe.Debug},
		})
		return
	}

	SafeError(w, http.StatusInternalServerError, err)
}

// SafeError writes a client error with err's message when code is below 500.
// For 5xx codes the message is replaced by "internal server error" and the
// sanitized error is logged instead.
func SafeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}

	if code < 500 {
		JSON(w, code, ErrorBody{
			Code:    "bad_request",
			Message: err.Error(),
			Data:    ErrorData{Status: code},
		})
		return
	}

	// 内部エラーはログに出力し、汎用メッセージを返す
	slog.Default().Error("internal server error",
		slog.String("status", http.StatusText(code)),
		slog.Int("code", code),
		slog.String("error", SanitizeError(err)))
	JSON(w, code, ErrorBody{
		Code:    "internal_error",
		Message: "internal server error",
		Data:    ErrorData{Status: code},
	})
}
