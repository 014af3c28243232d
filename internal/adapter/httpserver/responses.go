// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the public chat dispatch endpoint and the guarded admin API for
// accounts, proxies, and settings, keeping HTTP concerns out of the
// dispatch and account services.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/chat-relay/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrNoAccounts):
		code = http.StatusServiceUnavailable
		codeStr = "NO_ACCOUNTS"
	case errors.Is(err, domain.ErrAuthFailed):
		code = http.StatusBadGateway
		codeStr = "UPSTREAM_AUTH"
	case errors.Is(err, domain.ErrUpstreamNetwork):
		code = http.StatusBadGateway
		codeStr = "UPSTREAM_NETWORK"
	case errors.Is(err, domain.ErrUpstreamProtocol):
		code = http.StatusBadGateway
		codeStr = "UPSTREAM_PROTOCOL"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
