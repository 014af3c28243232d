package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/chat-relay/internal/domain"
)

func TestCreateSession_OK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "sess-42"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	id, err := c.CreateSession(context.Background(), "tok-1", "")
	require.NoError(t, err)
	require.Equal(t, "sess-42", id)
}

func TestCreateSession_MissingID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "created"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.CreateSession(context.Background(), "tok-1", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrUpstreamProtocol))
}

func TestCreateSession_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.CreateSession(context.Background(), "tok-1", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrUpstreamProtocol))
	require.False(t, errors.Is(err, domain.ErrUpstreamNetwork))
}

func TestCreateSession_ConnectionRefused(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := New(addr, time.Second)
	_, err := c.CreateSession(context.Background(), "tok-1", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrUpstreamNetwork), "refused connection must be the transient class, got %v", err)
}

func TestCreateSession_Timeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, 30*time.Millisecond)
	_, err := c.CreateSession(context.Background(), "tok-1", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrUpstreamNetwork))
}

func TestComplete_OK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/completions", r.URL.Path)
		require.Equal(t, "sess-42", r.URL.Query().Get("chat_id"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "sess-42", body["chat_id"])
		require.Equal(t, "hello", body["prompt"])
		_, _ = w.Write([]byte(`{"answer":"world"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	payload, err := c.Complete(context.Background(), "tok-1", "", "sess-42", map[string]any{"prompt": "hello"})
	require.NoError(t, err)
	require.JSONEq(t, `{"answer":"world"}`, string(payload))
}

func TestComplete_CallerBodyNotMutated(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	body := map[string]any{"prompt": "hello"}
	_, err := c.Complete(context.Background(), "tok-1", "", "sess-42", body)
	require.NoError(t, err)
	_, ok := body["chat_id"]
	require.False(t, ok, "caller body must not be mutated")
}

func TestComplete_Non200(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"answer":"later"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	_, err := c.Complete(context.Background(), "tok-1", "", "sess-42", map[string]any{})
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrUpstreamProtocol), "only HTTP 200 is success for completions")
}

func TestClientFor_InvalidProxy(t *testing.T) {
	t.Parallel()
	c := New("http://localhost:0", time.Second)
	_, err := c.CreateSession(context.Background(), "tok-1", "://bad-proxy")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestClientFor_CachesPerProxy(t *testing.T) {
	t.Parallel()
	c := New("http://localhost:0", time.Second)

	direct1, err := c.clientFor("")
	require.NoError(t, err)
	direct2, err := c.clientFor("")
	require.NoError(t, err)
	require.Same(t, direct1, direct2)

	proxied, err := c.clientFor("socks5://127.0.0.1:1080")
	require.NoError(t, err)
	require.NotSame(t, direct1, proxied)
}
