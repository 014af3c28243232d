package usecase

import (
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/chat-relay/internal/adapter/observability"
	"github.com/fairyhunter13/chat-relay/internal/config"
	"github.com/fairyhunter13/chat-relay/internal/domain"
	obsctx "github.com/fairyhunter13/chat-relay/internal/observability"
)

// TokenRefresher renews expiring account tokens in the background so
// dispatches rarely pay the login round trip on the hot path.
type TokenRefresher struct {
	accounts *AccountService
	tokens   domain.TokenClient
	cfg      config.Config
}

// NewTokenRefresher constructs a TokenRefresher over the account service and
// the token client it logs in with.
func NewTokenRefresher(accounts *AccountService, tokens domain.TokenClient, cfg config.Config) *TokenRefresher {
	return &TokenRefresher{accounts: accounts, tokens: tokens, cfg: cfg}
}

// Run blocks until ctx is done, running one refresh pass immediately and
// then one per configured interval. Freshly seeded accounts get tokens
// before the first dispatch arrives.
func (r *TokenRefresher) Run(ctx domain.Context) {
	r.RefreshExpiring(ctx)
	ticker := time.NewTicker(r.cfg.TokenRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			obsctx.LoggerFromContext(ctx).Info("token refresher stopped")
			return
		case <-ticker.C:
			r.RefreshExpiring(ctx)
		}
	}
}

// RefreshExpiring renews every token that is missing, expired, or due to
// expire within the configured leeway, and reports how many were renewed.
// Rejected credentials are skipped without retry; transient login failures
// back off and leave the old token for the next pass.
func (r *TokenRefresher) RefreshExpiring(ctx domain.Context) int {
	lg := obsctx.LoggerFromContext(ctx)
	expiring, err := r.accounts.ExpiringAccounts(ctx, r.cfg.TokenRefreshLeeway)
	if err != nil {
		lg.Error("token refresh pass aborted", slog.Any("error", err))
		return 0
	}
	renewed := 0
	for _, acct := range expiring {
		if ctx.Err() != nil {
			return renewed
		}
		token, expiresAt, lerr := r.refreshOne(ctx, acct)
		observability.RecordTokenRefresh(lerr)
		if lerr != nil {
			lg.Warn("token refresh failed",
				slog.String("email", acct.Email),
				slog.Bool("rejected", errors.Is(lerr, domain.ErrAuthFailed)),
				slog.Any("error", lerr))
			continue
		}
		if uerr := r.accounts.UpdateToken(ctx, acct.Email, token, expiresAt); uerr != nil {
			lg.Error("refreshed token not stored",
				slog.String("email", acct.Email),
				slog.Any("error", uerr))
			continue
		}
		renewed++
	}
	if len(expiring) > 0 {
		lg.Info("token refresh pass complete",
			slog.Int("expiring", len(expiring)),
			slog.Int("renewed", renewed))
	}
	return renewed
}

func (r *TokenRefresher) refreshOne(ctx domain.Context, acct domain.Account) (string, time.Time, error) {
	var (
		token     string
		expiresAt time.Time
	)
	op := func() error {
		t, exp, err := r.tokens.Login(ctx, acct.Email, acct.Password)
		if err != nil {
			if errors.Is(err, domain.ErrAuthFailed) {
				// Rejected credentials never become valid by retrying.
				return backoff.Permanent(err)
			}
			return err
		}
		token, expiresAt = t, exp
		return nil
	}
	bo := backoff.WithContext(r.getBackoffConfig(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// getBackoffConfig returns a configured ExponentialBackOff based on the current environment.
func (r *TokenRefresher) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()

	maxElapsedTime, initialInterval, maxInterval, multiplier := r.cfg.GetAuthBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier

	return expo
}
