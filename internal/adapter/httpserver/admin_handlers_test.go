package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/chat-relay/internal/adapter/httpserver"
	"github.com/fairyhunter13/chat-relay/internal/config"
	"github.com/fairyhunter13/chat-relay/internal/domain"
	"github.com/fairyhunter13/chat-relay/internal/usecase"
)

// memStore behaves like the write-through cache: loads never fail and return
// an independent copy.
type memStore struct {
	mu  sync.Mutex
	doc domain.StateDocument
	set bool
}

func (s *memStore) Load(_ domain.Context) (domain.StateDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return domain.DefaultDocument(), nil
	}
	return s.doc.Clone(), nil
}

func (s *memStore) Save(_ domain.Context, doc domain.StateDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone()
	s.set = true
	return nil
}

func (s *memStore) Name() string { return "mem" }

type stubTokens struct{}

func (stubTokens) Login(_ domain.Context, email, _ string) (string, time.Time, error) {
	return "tok-" + email, time.Now().Add(time.Hour), nil
}

func (stubTokens) TokenExpiry(string) (time.Time, error) { return time.Time{}, nil }

func newAdminRouter(t *testing.T, pool []string) (*chi.Mux, *usecase.AccountService) {
	t.Helper()
	accounts := usecase.NewAccountService(&memStore{}, stubTokens{}, pool)
	require.NoError(t, accounts.Hydrate(context.Background()))
	srv := httpserver.NewServer(config.Config{AppEnv: "test"}, usecase.DispatchService{}, accounts, nil)

	r := chi.NewRouter()
	r.Get("/v1/accounts", srv.ListAccountsHandler())
	r.Post("/v1/accounts", srv.CreateAccountHandler())
	r.Delete("/v1/accounts/{email}", srv.DeleteAccountHandler())
	r.Get("/v1/proxies", srv.ProxiesHandler())
	r.Get("/v1/settings", srv.SettingsHandler())
	r.Get("/v1/settings/{key}", srv.GetSettingHandler())
	r.Put("/v1/settings/{key}", srv.PutSettingHandler())
	return r, accounts
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAccounts_CreateListDelete(t *testing.T) {
	r, _ := newAdminRouter(t, nil)

	w := doJSON(t, r, http.MethodPost, "/v1/accounts", `{"email":"a@example.com","password":"pw"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// Duplicate registration conflicts.
	w = doJSON(t, r, http.MethodPost, "/v1/accounts", `{"email":"a@example.com","password":"pw"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Accounts []domain.AccountSummary `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Accounts, 1)
	require.Equal(t, "a@example.com", list.Accounts[0].Email)
	require.False(t, list.Accounts[0].TokenValid)

	w = doJSON(t, r, http.MethodDelete, "/v1/accounts/a@example.com", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/v1/accounts/a@example.com", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Empty(t, list.Accounts)
}

func TestAdminAccounts_CreateValidation(t *testing.T) {
	r, _ := newAdminRouter(t, nil)

	w := doJSON(t, r, http.MethodPost, "/v1/accounts", `{"email":"not-an-email","password":"pw"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	errObj, ok := obj["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "INVALID_ARGUMENT", errObj["code"])

	w = doJSON(t, r, http.MethodPost, "/v1/accounts", `{"email":"a@example.com"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/accounts", `{bad`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminProxies_Overview(t *testing.T) {
	r, accounts := newAdminRouter(t, []string{"socks5://p1:1080", "socks5://p2:1080"})
	require.NoError(t, accounts.AddAccount(context.Background(), "a@example.com", "pw"))
	_, err := accounts.ProxyFor(context.Background(), "a@example.com")
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/v1/proxies", "")
	require.Equal(t, http.StatusOK, w.Code)
	var obj struct {
		Proxies []usecase.ProxySummary `json:"proxies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	require.Len(t, obj.Proxies, 2)
	require.Equal(t, "socks5://p1:1080", obj.Proxies[0].URL)
	require.True(t, obj.Proxies[0].Healthy)
	require.Equal(t, []string{"a@example.com"}, obj.Proxies[0].Accounts)
}

func TestAdminSettings_GetPut(t *testing.T) {
	r, _ := newAdminRouter(t, nil)

	w := doJSON(t, r, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"settings":{}}`, w.Body.String())

	w = doJSON(t, r, http.MethodPut, "/v1/settings/relay.mode", `{"value":"failover"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"key":"relay.mode","value":"failover"}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/v1/settings/relay.mode", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"key":"relay.mode","value":"failover"}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/v1/settings/missing", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminSettings_InvalidKey(t *testing.T) {
	r, _ := newAdminRouter(t, nil)

	w := doJSON(t, r, http.MethodPut, "/v1/settings/bad%20key", `{"value":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
