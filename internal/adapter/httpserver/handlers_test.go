package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/chat-relay/internal/adapter/httpserver"
	"github.com/fairyhunter13/chat-relay/internal/config"
	"github.com/fairyhunter13/chat-relay/internal/domain"
	"github.com/fairyhunter13/chat-relay/internal/usecase"
)

type stubDirectory struct {
	account   domain.Account
	proxy     string
	nextErr   error
	successes []string
}

func (d *stubDirectory) NextAccount(_ domain.Context) (domain.Account, error) {
	if d.nextErr != nil {
		return domain.Account{}, d.nextErr
	}
	return d.account, nil
}

func (d *stubDirectory) ProxyFor(_ domain.Context, _ string) (string, error) {
	return d.proxy, nil
}

func (d *stubDirectory) ReportNetworkFailure(_ domain.Context, _, _ string) error { return nil }

func (d *stubDirectory) ReportSuccess(_ domain.Context, email, proxyURL string) error {
	d.successes = append(d.successes, email+"|"+proxyURL)
	return nil
}

type stubUpstream struct {
	payload     json.RawMessage
	createErr   error
	completeErr error
	sendCalls   int
}

func (u *stubUpstream) CreateSession(_ domain.Context, _, _ string) (string, error) {
	u.sendCalls++
	if u.createErr != nil {
		return "", u.createErr
	}
	return "chat-1", nil
}

func (u *stubUpstream) Complete(_ domain.Context, _, _, _ string, _ map[string]any) (json.RawMessage, error) {
	if u.completeErr != nil {
		return nil, u.completeErr
	}
	return u.payload, nil
}

func newChatServer(dir domain.AccountDirectory, up domain.ChatUpstream) *httpserver.Server {
	cfg := config.Config{Port: 8080, AppEnv: "test"}
	disp := usecase.NewDispatchService(dir, up, 3)
	return httpserver.NewServer(cfg, disp, nil, nil)
}

func validStubAccount() domain.Account {
	return domain.Account{
		Email:          "a@example.com",
		Password:       "pw",
		Token:          "tok-a",
		TokenExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestChatHandler_Success(t *testing.T) {
	dir := &stubDirectory{account: validStubAccount(), proxy: "socks5://p1:1080"}
	up := &stubUpstream{payload: json.RawMessage(`{"message":"hi"}`)}
	srv := newChatServer(dir, up)

	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"prompt":"hello"}`))
	r.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	srv.ChatHandler()(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	require.Equal(t, true, obj["status"])
	require.Equal(t, "tok-a", obj["current_token"])
	resp, ok := obj["response"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "hi", resp["message"])
	require.Equal(t, []string{"a@example.com|socks5://p1:1080"}, dir.successes)
}

func TestChatHandler_FailureEnvelope(t *testing.T) {
	dir := &stubDirectory{nextErr: domain.ErrNoAccounts}
	srv := newChatServer(dir, &stubUpstream{})

	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"prompt":"hello"}`))
	r.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	srv.ChatHandler()(w, r)

	require.Equal(t, http.StatusBadGateway, w.Code)
	// The envelope keeps both keys even on failure.
	require.JSONEq(t, `{"status":false,"response":null}`, w.Body.String())
}

func TestChatHandler_InvalidJSON(t *testing.T) {
	srv := newChatServer(&stubDirectory{account: validStubAccount()}, &stubUpstream{})

	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{not json`))
	r.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	srv.ChatHandler()(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	errObj, ok := obj["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "INVALID_ARGUMENT", errObj["code"])
}

func TestChatHandler_ArrayBodyRejected(t *testing.T) {
	srv := newChatServer(&stubDirectory{account: validStubAccount()}, &stubUpstream{})

	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`[1,2,3]`))
	r.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	srv.ChatHandler()(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_NotAcceptable(t *testing.T) {
	srv := newChatServer(&stubDirectory{account: validStubAccount()}, &stubUpstream{})

	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{}`))
	r.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	srv.ChatHandler()(w, r)

	require.Equal(t, http.StatusNotAcceptable, w.Code)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	errObj, ok := obj["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "INVALID_ARGUMENT", errObj["code"])
}

func TestChatHandler_EmptyObjectBodyRejected(t *testing.T) {
	up := &stubUpstream{payload: json.RawMessage(`{"ok":true}`)}
	srv := newChatServer(&stubDirectory{account: validStubAccount()}, up)

	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	srv.ChatHandler()(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &obj))
	errObj, ok := obj["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "INVALID_ARGUMENT", errObj["code"])
	require.Zero(t, up.sendCalls, "empty payload must not reach the upstream")
}
