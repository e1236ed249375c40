package utils

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ErrorResponse is the body of every non-2xx reply. Code carries the
// machine-readable outcome (a moderation result code or VALIDATION_ERROR).
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type SuccessResponse struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// RespondJSON writes data as the JSON body with status.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Int("status", status).Msg("Failed to write response body")
	}
}

func RespondError(w http.ResponseWriter, status int, message string) {
	RespondCoded(w, status, "", message, nil)
}

func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	RespondCoded(w, status, code, message, nil)
}

// RespondCoded writes an ErrorResponse; empty code and nil details are omitted.
func RespondCoded(w http.ResponseWriter, status int, code, message string, details any) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

func RespondValidationError(w http.ResponseWriter, details any) {
	RespondCoded(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation error", details)
}

func RespondSuccess(w http.ResponseWriter, data any) {
	RespondJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

func RespondCreated(w http.ResponseWriter, data any) {
	RespondJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

// DecodeJSON decodes a JSON request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// QueryValue parses query parameter key, falling back to defaultValue when it
// is missing or malformed.
func QueryValue[T any](r *http.Request, key string, defaultValue T, parse func(string) (T, error)) T {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	v, err := parse(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func GetQueryInt(r *http.Request, key string, defaultValue int) int {
	return QueryValue(r, key, defaultValue, strconv.Atoi)
}

func GetQueryBool(r *http.Request, key string, defaultValue bool) bool {
	return QueryValue(r, key, defaultValue, strconv.ParseBool)
}
