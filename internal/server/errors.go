package server

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in JSON error envelopes.
const (
	codeInvalidJSON    = "invalid_json"
	codeValidation     = "validation_error"
	codeQueryShape     = "query_shape"
	codeNotFound       = "not_found"
	codeShuttingDown   = "shutting_down"
	codeInternal       = "internal_error"
	codeUnsupportedCT  = "unsupported_media_type"
	codeMethodNotAllow = "method_not_allowed"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var eb errorBody
	eb.Error.Code = code
	eb.Error.Message = message
	writeJSON(w, status, eb)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
