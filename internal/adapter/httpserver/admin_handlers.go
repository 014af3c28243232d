package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/chat-relay/internal/domain"
)

// ListAccountsHandler returns the account roster without credentials.
func (s *Server) ListAccountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := s.Accounts.ListAccounts(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("list accounts: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
	}
}

// CreateAccountHandler registers an upstream account for rotation.
func (s *Server) CreateAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Cap body size to prevent abuse
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			Email    string `json:"email" validate:"required,email,max=254"`
			Password string `json:"password" validate:"required,max=1024"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		if err := s.Accounts.AddAccount(r.Context(), req.Email, req.Password); err != nil {
			writeError(w, r, fmt.Errorf("add account: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"email": req.Email})
	}
}

// DeleteAccountHandler drops an account and its proxy binding.
func (s *Server) DeleteAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		if vr := ValidateEmail(email); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid email", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		if err := s.Accounts.RemoveAccount(r.Context(), email); err != nil {
			writeError(w, r, fmt.Errorf("remove account: %w", err), nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ProxiesHandler reports pool health and current account bindings.
func (s *Server) ProxiesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proxies, err := s.Accounts.ProxyOverview(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("proxy overview: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proxies": proxies})
	}
}

// SettingsHandler returns the full settings map.
func (s *Server) SettingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := s.Accounts.Settings(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("settings: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
	}
}

// GetSettingHandler returns a single setting by key.
func (s *Server) GetSettingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if vr := ValidateSettingKey(key); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid setting key", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		value, err := s.Accounts.Setting(r.Context(), key)
		if err != nil {
			writeError(w, r, fmt.Errorf("get setting: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
	}
}

// PutSettingHandler creates or replaces a single setting.
func (s *Server) PutSettingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if vr := ValidateSettingKey(key); !vr.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid setting key", domain.ErrInvalidArgument), vr.Errors)
			return
		}
		// Cap body size to prevent abuse
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			Value string `json:"value" validate:"max=4096"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), nil)
			return
		}
		value := SanitizeString(req.Value)
		if err := s.Accounts.SetSetting(r.Context(), key, value); err != nil {
			writeError(w, r, fmt.Errorf("set setting: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
	}
}
