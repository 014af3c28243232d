package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/chat-relay/internal/adapter/observability"
	"github.com/fairyhunter13/chat-relay/internal/domain"
	obsctx "github.com/fairyhunter13/chat-relay/internal/observability"
)

// Attempt phases recorded on the dispatch attempt counter.
const (
	phaseCreateSession = "create_session"
	phaseCompletion    = "completion"
)

// DispatchService drives a chat request through session creation and the
// completion call, rotating accounts and proxy bindings on transient network
// failures. Every failure mode collapses into a Status=false result; no
// error crosses the dispatcher boundary.
type DispatchService struct {
	Accounts    domain.AccountDirectory
	Upstream    domain.ChatUpstream
	MaxAttempts int
}

// NewDispatchService constructs a DispatchService. maxAttempts bounds both
// the session-create retry loop and the outer completion loop.
func NewDispatchService(accounts domain.AccountDirectory, upstream domain.ChatUpstream, maxAttempts int) DispatchService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return DispatchService{Accounts: accounts, Upstream: upstream, MaxAttempts: maxAttempts}
}

// CreateChatSession opens an upstream chat session for acct. The proxy
// binding is resolved fresh on every attempt; a transient network failure
// through a proxy reports it and retries on the rebound egress, anything
// else aborts. It returns the session id and the binding that produced it.
func (s DispatchService) CreateChatSession(ctx domain.Context, acct domain.Account) (string, string, error) {
	lg := obsctx.LoggerFromContext(ctx)
	var lastErr error
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		observability.RecordDispatchAttempt(phaseCreateSession)
		proxyURL, err := s.Accounts.ProxyFor(ctx, acct.Email)
		if err != nil {
			return "", "", fmt.Errorf("op=dispatch.create_session: %w", err)
		}
		chatID, err := s.Upstream.CreateSession(ctx, acct.Token, proxyURL)
		if err == nil {
			return chatID, proxyURL, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrUpstreamNetwork) || proxyURL == "" {
			break
		}
		lg.Warn("session create failed on proxy; rotating",
			slog.String("email", acct.Email),
			slog.String("proxy", proxyURL),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if rerr := s.Accounts.ReportNetworkFailure(ctx, acct.Email, proxyURL); rerr != nil {
			lg.Error("network failure report failed", slog.Any("error", rerr))
		}
	}
	return "", "", fmt.Errorf("op=dispatch.create_session email=%s: %w", acct.Email, lastErr)
}

// SendChatRequest runs one full dispatch: select an account, open a session,
// POST the completion. A transient network failure on a proxied completion
// reports the proxy and re-enters the loop with a fresh account selection; a
// session-create failure or an unusable account pool ends the dispatch
// immediately. body is forwarded as received.
func (s DispatchService) SendChatRequest(ctx domain.Context, body map[string]any) domain.DispatchResult {
	start := time.Now()
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("dispatch_id", uuid.NewString()))
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		observability.RecordDispatchAttempt(phaseCompletion)
		acct, err := s.Accounts.NextAccount(ctx)
		if err != nil {
			lg.Warn("dispatch failed: no usable account",
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			break
		}
		chatID, proxyURL, err := s.CreateChatSession(ctx, acct)
		if err != nil {
			lg.Warn("dispatch failed: session create exhausted",
				slog.String("email", acct.Email),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			break
		}
		raw, err := s.Upstream.Complete(ctx, acct.Token, proxyURL, chatID, body)
		if err == nil {
			if rerr := s.Accounts.ReportSuccess(ctx, acct.Email, proxyURL); rerr != nil {
				lg.Error("success report failed", slog.Any("error", rerr))
			}
			observability.ObserveDispatch(true, time.Since(start).Seconds())
			lg.Info("dispatch completed",
				slog.String("email", acct.Email),
				slog.String("chat_id", chatID),
				slog.String("proxy", labelProxy(proxyURL)),
				slog.Int("attempt", attempt))
			return domain.DispatchResult{Status: true, Response: raw, Token: acct.Token}
		}
		if errors.Is(err, domain.ErrUpstreamNetwork) && proxyURL != "" {
			lg.Warn("completion failed on proxy; rotating",
				slog.String("email", acct.Email),
				slog.String("proxy", proxyURL),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			if rerr := s.Accounts.ReportNetworkFailure(ctx, acct.Email, proxyURL); rerr != nil {
				lg.Error("network failure report failed", slog.Any("error", rerr))
			}
			continue
		}
		lg.Warn("dispatch failed: completion rejected",
			slog.String("email", acct.Email),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		break
	}
	observability.ObserveDispatch(false, time.Since(start).Seconds())
	return domain.DispatchResult{Status: false}
}
