// Package auth implements the upstream credential exchange and local token
// expiry decoding.
package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/chat-relay/internal/domain"
)

// Client implements domain.TokenClient against the upstream auth endpoint.
type Client struct {
	baseURL string
	hc      *http.Client
	parser  *jwt.Parser
}

// New constructs a Client. The timeout bounds the single login call.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		parser:  jwt.NewParser(),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token in a single upstream call
// and decodes the token's expiry locally. Credential rejection maps to
// ErrAuthFailed; any other non-2xx to ErrUpstreamProtocol.
func (c *Client) Login(ctx domain.Context, email, password string) (string, time.Time, error) {
	if email == "" || password == "" {
		return "", time.Time{}, fmt.Errorf("op=auth.login: empty credentials: %w", domain.ErrInvalidArgument)
	}
	payload, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("op=auth.login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("op=auth.login: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("op=auth.login email=%s: %w", email, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("op=auth.login email=%s: %w", email, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		slog.Warn("auth rejected credentials",
			slog.String("email", email),
			slog.Int("status", resp.StatusCode))
		return "", time.Time{}, fmt.Errorf("op=auth.login email=%s status=%d: %w", email, resp.StatusCode, domain.ErrAuthFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodySnippet := string(bodyBytes)
		if len(bodySnippet) > 512 {
			bodySnippet = bodySnippet[:512]
		}
		slog.Error("auth non-2xx",
			slog.String("email", email),
			slog.Int("status", resp.StatusCode),
			slog.String("body", bodySnippet))
		return "", time.Time{}, fmt.Errorf("op=auth.login email=%s status=%d: %w", email, resp.StatusCode, domain.ErrUpstreamProtocol)
	}

	var out loginResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("op=auth.login email=%s: %v: %w", email, err, domain.ErrUpstreamProtocol)
	}
	if out.Token == "" {
		return "", time.Time{}, fmt.Errorf("op=auth.login email=%s: missing token field: %w", email, domain.ErrUpstreamProtocol)
	}

	expiresAt, err := c.TokenExpiry(out.Token)
	if err != nil {
		return "", time.Time{}, err
	}
	return out.Token, expiresAt, nil
}

// TokenExpiry decodes the token's exp claim without network access or
// signature verification; validity is the upstream's concern, scheduling is
// ours.
func (c *Client) TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := c.parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("op=auth.token_expiry: %v: %w", err, domain.ErrUpstreamProtocol)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("op=auth.token_expiry: %v: %w", err, domain.ErrUpstreamProtocol)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("op=auth.token_expiry: missing exp claim: %w", domain.ErrUpstreamProtocol)
	}
	return exp.Time, nil
}
