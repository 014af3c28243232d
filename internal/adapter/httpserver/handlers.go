package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/chat-relay/internal/config"
	"github.com/fairyhunter13/chat-relay/internal/domain"
	"github.com/fairyhunter13/chat-relay/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Dispatch   usecase.DispatchService
	Accounts   *usecase.AccountService
	StoreCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, dispatch usecase.DispatchService, accounts *usecase.AccountService, storeCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Dispatch: dispatch, Accounts: accounts, StoreCheck: storeCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// ChatHandler forwards a completion payload through the dispatcher. The
// response body is always the dispatch envelope; failures map to 502 so
// callers can distinguish relay errors from their own.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotAcceptable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "INVALID_ARGUMENT", "message": "not acceptable", "details": map[string]any{"accept": a}}})
			return
		}
		// Cap body size to prevent abuse
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if len(payload) == 0 {
			writeError(w, r, fmt.Errorf("%w: empty payload", domain.ErrInvalidArgument), nil)
			return
		}
		res := s.Dispatch.SendChatRequest(r.Context(), payload)
		if !res.Status {
			writeJSON(w, http.StatusBadGateway, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ReadyzHandler returns a readiness handler that probes the state store.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 1)
		if s.StoreCheck != nil {
			if err := s.StoreCheck(ctx); err != nil {
				checks = append(checks, check{Name: "store", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "store", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// OpenAPIServe serves api/openapi.yaml if present.
func (s *Server) OpenAPIServe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile("api/openapi.yaml")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}
