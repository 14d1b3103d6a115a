package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/updown/round-engine/internal/engine"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	engine.Classification
}

var kindStatus = map[engine.Kind]int{
	engine.KindConfiguration: http.StatusBadRequest,
	engine.KindAuthorization: http.StatusForbidden,
	engine.KindState:         http.StatusConflict,
	engine.KindTiming:        http.StatusConflict,
	engine.KindValidation:    http.StatusBadRequest,
	engine.KindArithmetic:    http.StatusUnprocessableEntity,
	engine.KindLookup:        http.StatusNotFound,
	engine.KindReplay:        http.StatusConflict,
	engine.KindOracle:        http.StatusServiceUnavailable,
	engine.KindIntegrity:     http.StatusInternalServerError,
	engine.KindConflict:      http.StatusConflict,
	engine.KindMigration:     http.StatusConflict,
	engine.KindInternal:      http.StatusInternalServerError,
}

// statusFor maps a classification to an HTTP status.
func statusFor(c engine.Classification) int {
	if c.Code == "not_initialized" {
		return http.StatusConflict
	}
	if status, ok := kindStatus[c.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError writes a classified JSON error response. Internal errors are
// not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	c := engine.Classify(err)
	msg := err.Error()
	if c.Kind == engine.KindInternal {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeJSON(w, statusFor(c), ErrorResponse{Error: msg, Classification: c})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:          msg,
		Classification: engine.Classification{Code: "invalid_request", Kind: engine.KindValidation},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
