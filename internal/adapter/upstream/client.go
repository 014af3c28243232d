// Package upstream implements the chat service client: session creation and
// completion calls, each routed through the caller's bound egress proxy.
// Transport failures are tagged with a structured error kind here, at the
// boundary, so no layer above ever inspects error text.
package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/chat-relay/internal/adapter/observability"
	"github.com/fairyhunter13/chat-relay/internal/domain"
)

const (
	opCreateSession = "create_session"
	opComplete      = "complete"
)

// Client implements domain.ChatUpstream. HTTP clients are built per proxy
// URL and cached; the empty proxy URL selects the shared direct client.
type Client struct {
	baseURL string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

// New constructs a Client. The timeout applies to every upstream call.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		clients: map[string]*http.Client{},
	}
}

// clientFor returns the cached client for proxyURL, building it on first use.
// SOCKS-style proxy URLs are handled by the stdlib transport.
func (c *Client) clientFor(proxyURL string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[proxyURL]; ok {
		return hc, nil
	}
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("op=upstream.client_for proxy=%s: %v: %w", proxyURL, err, domain.ErrInvalidArgument)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	hc := &http.Client{
		Timeout:   c.timeout,
		Transport: otelhttp.NewTransport(transport),
	}
	c.clients[proxyURL] = hc
	return hc, nil
}

type sessionResponse struct {
	ID string `json:"id"`
}

// CreateSession opens a chat session and returns its identifier.
func (c *Client) CreateSession(ctx domain.Context, token, proxyURL string) (string, error) {
	hc, err := c.clientFor(proxyURL)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", strings.NewReader("{}"))
	if err != nil {
		return "", fmt.Errorf("op=upstream.create_session: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		terr := c.tagTransport(opCreateSession, proxyURL, err)
		observability.ObserveUpstream(opCreateSession, outcomeOf(terr), time.Since(start).Seconds())
		return "", terr
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		terr := c.tagTransport(opCreateSession, proxyURL, err)
		observability.ObserveUpstream(opCreateSession, outcomeOf(terr), time.Since(start).Seconds())
		return "", terr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.ObserveUpstream(opCreateSession, observability.OutcomeProtocolError, time.Since(start).Seconds())
		c.logStatus(opCreateSession, proxyURL, resp.StatusCode, bodyBytes)
		return "", fmt.Errorf("op=upstream.create_session status=%d: %w", resp.StatusCode, domain.ErrUpstreamProtocol)
	}

	var out sessionResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		observability.ObserveUpstream(opCreateSession, observability.OutcomeProtocolError, time.Since(start).Seconds())
		return "", fmt.Errorf("op=upstream.create_session: %v: %w", err, domain.ErrUpstreamProtocol)
	}
	if out.ID == "" {
		observability.ObserveUpstream(opCreateSession, observability.OutcomeProtocolError, time.Since(start).Seconds())
		return "", fmt.Errorf("op=upstream.create_session: missing id field: %w", domain.ErrUpstreamProtocol)
	}
	observability.ObserveUpstream(opCreateSession, observability.OutcomeOK, time.Since(start).Seconds())
	return out.ID, nil
}

// Complete posts the completion call for an open session. Only HTTP 200
// counts as success; the raw payload is returned untouched.
func (c *Client) Complete(ctx domain.Context, token, proxyURL, chatID string, body map[string]any) (json.RawMessage, error) {
	hc, err := c.clientFor(proxyURL)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	payload["chat_id"] = chatID
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("op=upstream.complete: %w", err)
	}

	endpoint := c.baseURL + "/completions?chat_id=" + url.QueryEscape(chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=upstream.complete: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		terr := c.tagTransport(opComplete, proxyURL, err)
		observability.ObserveUpstream(opComplete, outcomeOf(terr), time.Since(start).Seconds())
		return nil, terr
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		terr := c.tagTransport(opComplete, proxyURL, err)
		observability.ObserveUpstream(opComplete, outcomeOf(terr), time.Since(start).Seconds())
		return nil, terr
	}
	if resp.StatusCode != http.StatusOK {
		observability.ObserveUpstream(opComplete, observability.OutcomeProtocolError, time.Since(start).Seconds())
		c.logStatus(opComplete, proxyURL, resp.StatusCode, bodyBytes)
		return nil, fmt.Errorf("op=upstream.complete status=%d: %w", resp.StatusCode, domain.ErrUpstreamProtocol)
	}
	observability.ObserveUpstream(opComplete, observability.OutcomeOK, time.Since(start).Seconds())
	return json.RawMessage(bodyBytes), nil
}

// outcomeOf maps a tagged error to its metrics label.
func outcomeOf(err error) string {
	if errors.Is(err, domain.ErrUpstreamNetwork) {
		return observability.OutcomeNetworkError
	}
	return observability.OutcomeProtocolError
}

// tagTransport wraps a request-level failure with its structured kind.
func (c *Client) tagTransport(op, proxyURL string, err error) error {
	kind := domain.ErrUpstreamProtocol
	if isTransientNetwork(err) {
		kind = domain.ErrUpstreamNetwork
	}
	slog.Warn("upstream transport failure",
		slog.String("op", op),
		slog.String("proxy", proxyURL),
		slog.Bool("transient", kind == domain.ErrUpstreamNetwork),
		slog.Any("error", err))
	return fmt.Errorf("op=upstream.%s proxy=%s: %v: %w", op, proxyURL, err, kind)
}

func (c *Client) logStatus(op, proxyURL string, status int, body []byte) {
	bodySnippet := string(body)
	if len(bodySnippet) > 512 {
		bodySnippet = bodySnippet[:512]
	}
	slog.Warn("upstream non-2xx",
		slog.String("op", op),
		slog.String("proxy", proxyURL),
		slog.Int("status", status),
		slog.String("body", bodySnippet))
}
