// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/chat-relay/internal/adapter/observability"
	"github.com/fairyhunter13/chat-relay/internal/domain"
	obsctx "github.com/fairyhunter13/chat-relay/internal/observability"
)

// AccountService owns the rotation cursor and every mutation of the state
// document. All operations run under one mutex so rotation, proxy binding,
// and settings writes never interleave mid read-modify-write; the store
// behind it only ever sees whole-document saves. The one excursion is the
// login round trip in NextAccount, which runs unlocked and re-validates.
type AccountService struct {
	store  domain.StateStore
	tokens domain.TokenClient
	pool   []string

	mu     sync.Mutex
	cursor int
}

// NewAccountService constructs an AccountService over the given store and
// token client. pool is the configured proxy pool in configuration order.
func NewAccountService(store domain.StateStore, tokens domain.TokenClient, pool []string) *AccountService {
	return &AccountService{store: store, tokens: tokens, pool: pool}
}

// Hydrate forces the first store read and seeds a healthy status entry for
// every configured proxy that has none yet. Statuses recorded in a previous
// run are kept as loaded.
func (s *AccountService) Hydrate(ctx domain.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("op=accounts.hydrate: %w", err)
	}
	seeded := 0
	for _, u := range s.pool {
		if _, ok := doc.ProxyStatuses[u]; !ok {
			doc.ProxyStatuses[u] = domain.ProxyStatus{Healthy: true}
			seeded++
		}
	}
	if seeded > 0 {
		s.saveLocked(ctx, doc)
	}
	obsctx.LoggerFromContext(ctx).Info("account state hydrated",
		slog.String("backend", s.store.Name()),
		slog.Int("accounts", len(doc.Accounts)),
		slog.Int("proxies", len(s.pool)),
		slog.Int("proxies_seeded", seeded))
	return nil
}

// NextAccount yields the next account in rotation order whose token is
// usable, refreshing expired tokens in place before skipping the account.
// It returns ErrNoAccounts when the pool is empty or a full rotation yields
// nothing usable. The credential exchange is a network round trip, so the
// rotation lock is released for its duration and the selection re-validated
// against a fresh document afterward.
func (s *AccountService) NextAccount(ctx domain.Context) (domain.Account, error) {
	lg := obsctx.LoggerFromContext(ctx)
	tried := make(map[string]bool)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		doc, err := s.store.Load(ctx)
		if err != nil {
			return domain.Account{}, fmt.Errorf("op=accounts.next: %w", err)
		}
		n := len(doc.Accounts)
		if n == 0 {
			return domain.Account{}, fmt.Errorf("op=accounts.next: account pool empty: %w", domain.ErrNoAccounts)
		}
		idx := -1
		for i := 0; i < n; i++ {
			j := (s.cursor + i) % n
			if !tried[doc.Accounts[j].Email] {
				idx = j
				break
			}
		}
		if idx < 0 {
			return domain.Account{}, fmt.Errorf("op=accounts.next: no usable token after full rotation: %w", domain.ErrNoAccounts)
		}
		acct := doc.Accounts[idx]
		tried[acct.Email] = true
		if acct.TokenValid(time.Now().UTC()) {
			s.cursor = (idx + 1) % n
			observability.AccountRotationsTotal.Inc()
			return acct, nil
		}
		s.mu.Unlock()
		token, expiresAt, lerr := s.tokens.Login(ctx, acct.Email, acct.Password)
		observability.RecordTokenRefresh(lerr)
		s.mu.Lock()
		if lerr != nil {
			lg.Warn("token refresh failed; skipping account",
				slog.String("email", acct.Email),
				slog.Any("error", lerr))
			continue
		}
		doc, err = s.store.Load(ctx)
		if err != nil {
			return domain.Account{}, fmt.Errorf("op=accounts.next: %w", err)
		}
		for j := range doc.Accounts {
			if doc.Accounts[j].Email != acct.Email {
				continue
			}
			doc.Accounts[j].Token, doc.Accounts[j].TokenExpiresAt = token, expiresAt
			s.saveLocked(ctx, doc)
			s.cursor = (j + 1) % len(doc.Accounts)
			observability.AccountRotationsTotal.Inc()
			acct.Token, acct.TokenExpiresAt = token, expiresAt
			return acct, nil
		}
		lg.Debug("account removed during token refresh; continuing rotation",
			slog.String("email", acct.Email))
	}
}

// ProxyFor returns the sticky proxy binding for email, assigning one from
// the healthy pool on first access. The empty string means direct egress;
// once persisted it is as sticky as any proxy binding.
func (s *AccountService) ProxyFor(ctx domain.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("op=accounts.proxy_for: %w", err)
	}
	if !hasAccount(doc, email) {
		return "", fmt.Errorf("op=accounts.proxy_for email=%s: %w", email, domain.ErrNotFound)
	}
	if url, ok := doc.ProxyBindings[email]; ok {
		return url, nil
	}
	url := pickProxy(doc.ProxyStatuses, s.pool, "")
	doc.ProxyBindings[email] = url
	s.saveLocked(ctx, doc)
	obsctx.LoggerFromContext(ctx).Info("proxy assigned",
		slog.String("email", email),
		slog.String("proxy", labelProxy(url)))
	return url, nil
}

// ReportNetworkFailure marks proxyURL unhealthy and, when the account is
// still bound to it, rebinds to the healthy proxy that failed least
// recently, falling back to direct egress when none remains. A report for a
// binding the account already left still updates the proxy status. Both
// changes are persisted before returning.
func (s *AccountService) ReportNetworkFailure(ctx domain.Context, email, proxyURL string) error {
	if proxyURL == "" {
		// Direct egress has nothing to mark or rotate away from.
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("op=accounts.report_failure: %w", err)
	}
	st := doc.ProxyStatuses[proxyURL]
	st.Healthy = false
	st.FailureCount++
	st.LastFailureAt = time.Now().UTC()
	doc.ProxyStatuses[proxyURL] = st

	lg := obsctx.LoggerFromContext(ctx)
	if current, ok := doc.ProxyBindings[email]; ok && current == proxyURL {
		next := pickProxy(doc.ProxyStatuses, s.pool, proxyURL)
		doc.ProxyBindings[email] = next
		observability.ProxyRotationsTotal.Inc()
		lg.Warn("proxy failed; account rebound",
			slog.String("email", email),
			slog.String("failed_proxy", proxyURL),
			slog.String("proxy", labelProxy(next)),
			slog.Int("failure_count", st.FailureCount))
	} else {
		lg.Warn("proxy failure reported for stale binding",
			slog.String("email", email),
			slog.String("failed_proxy", proxyURL))
	}
	s.saveLocked(ctx, doc)
	return nil
}

// ReportSuccess restores proxyURL to the healthy pool after a completed
// dispatch through it. Direct egress reports are no-ops.
func (s *AccountService) ReportSuccess(ctx domain.Context, email, proxyURL string) error {
	if proxyURL == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("op=accounts.report_success: %w", err)
	}
	st, ok := doc.ProxyStatuses[proxyURL]
	if ok && st.Healthy && st.FailureCount == 0 {
		return nil
	}
	st.Healthy = true
	st.FailureCount = 0
	doc.ProxyStatuses[proxyURL] = st
	s.saveLocked(ctx, doc)
	obsctx.LoggerFromContext(ctx).Info("proxy restored to healthy",
		slog.String("email", email),
		slog.String("proxy", proxyURL))
	return nil
}

// AddAccount appends a credential pair to the rotation. The token starts
// empty; the refresher or the next rotation pass logs it in.
func (s *AccountService) AddAccount(ctx domain.Context, email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("op=accounts.add: email and password required: %w", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("op=accounts.add: %w", err)
	}
	if hasAccount(doc, email) {
		return fmt.Errorf("op=accounts.add email=%s: already registered: %w", email, domain.ErrConflict)
	}
	doc.Accounts = append(doc.Accounts, domain.Account{Email: email, Password: password})
	s.saveLocked(ctx, doc)
	obsctx.LoggerFromContext(ctx).Info("account added",
		slog.String("email", email),
		slog.Int("accounts", len(doc.Accounts)))
	return nil
}

// RemoveAccount drops an account and its proxy binding. Proxy statuses are
// pool-level state and stay untouched.
func (s *AccountService) RemoveAccount(ctx domain.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("op=accounts.remove: %w", err)
	}
	idx := -1
	for i := range doc.Accounts {
		if doc.Accounts[i].Email == email {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("op=accounts.remove email=%s: %w", email, domain.ErrNotFound)
	}
	doc.Accounts = append(doc.Accounts[:idx], doc.Accounts[idx+1:]...)
	delete(doc.ProxyBindings, email)
	if idx < s.cursor {
		s.cursor--
	}
	if len(doc.Accounts) == 0 {
		s.cursor = 0
	} else {
		s.cursor %= len(doc.Accounts)
	}
	s.saveLocked(ctx, doc)
	obsctx.LoggerFromContext(ctx).Info("account removed",
		slog.String("email", email),
		slog.Int("accounts", len(doc.Accounts)))
	return nil
}

// ListAccounts returns redacted summaries in rotation order.
func (s *AccountService) ListAccounts(ctx domain.Context) ([]domain.AccountSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=accounts.list: %w", err)
	}
	now := time.Now().UTC()
	out := make([]domain.AccountSummary, 0, len(doc.Accounts))
	for _, a := range doc.Accounts {
		proxy, assigned := doc.ProxyBindings[a.Email]
		out = append(out, domain.AccountSummary{
			Email:          a.Email,
			TokenValid:     a.TokenValid(now),
			TokenExpiresAt: a.TokenExpiresAt,
			Proxy:          proxy,
			ProxyAssigned:  assigned,
		})
	}
	return out, nil
}

// ProxySummary is the admin view of one pool entry and the accounts bound
// to it.
type ProxySummary struct {
	URL           string    `json:"url"`
	Healthy       bool      `json:"healthy"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
	Accounts      []string  `json:"accounts"`
}

// ProxyOverview returns the configured pool with recorded statuses and the
// accounts currently bound to each entry.
func (s *AccountService) ProxyOverview(ctx domain.Context) ([]ProxySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=accounts.proxies: %w", err)
	}
	bound := make(map[string][]string, len(s.pool))
	for email, url := range doc.ProxyBindings {
		bound[url] = append(bound[url], email)
	}
	out := make([]ProxySummary, 0, len(s.pool))
	for _, u := range s.pool {
		st, ok := doc.ProxyStatuses[u]
		if !ok {
			st = domain.ProxyStatus{Healthy: true}
		}
		emails := bound[u]
		sort.Strings(emails)
		out = append(out, ProxySummary{
			URL:           u,
			Healthy:       st.Healthy,
			FailureCount:  st.FailureCount,
			LastFailureAt: st.LastFailureAt,
			Accounts:      emails,
		})
	}
	return out, nil
}

// Settings returns the settings section of the document.
func (s *AccountService) Settings(ctx domain.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=accounts.settings: %w", err)
	}
	return doc.Settings, nil
}

// Setting returns one settings value.
func (s *AccountService) Setting(ctx domain.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("op=accounts.setting: %w", err)
	}
	val, ok := doc.Settings[key]
	if !ok {
		return "", fmt.Errorf("op=accounts.setting key=%s: %w", key, domain.ErrNotFound)
	}
	return val, nil
}

// SetSetting stores one settings value and persists the document.
func (s *AccountService) SetSetting(ctx domain.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("op=accounts.set_setting: empty key: %w", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("op=accounts.set_setting: %w", err)
	}
	doc.Settings[key] = value
	s.saveLocked(ctx, doc)
	return nil
}

// ExpiringAccounts returns accounts whose token is missing, expired, or due
// to expire within leeway. The returned copies include passwords for the
// refresh login.
func (s *AccountService) ExpiringAccounts(ctx domain.Context, leeway time.Duration) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=accounts.expiring: %w", err)
	}
	cutoff := time.Now().UTC().Add(leeway)
	var out []domain.Account
	for _, a := range doc.Accounts {
		if a.Token == "" || !a.TokenExpiresAt.After(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpdateToken stores a refreshed token for email. An unknown email is not an
// error: the account may have been removed while the login was in flight.
func (s *AccountService) UpdateToken(ctx domain.Context, email, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("op=accounts.update_token: %w", err)
	}
	for i := range doc.Accounts {
		if doc.Accounts[i].Email == email {
			doc.Accounts[i].Token = token
			doc.Accounts[i].TokenExpiresAt = expiresAt
			s.saveLocked(ctx, doc)
			return nil
		}
	}
	obsctx.LoggerFromContext(ctx).Debug("token refresh for removed account dropped",
		slog.String("email", email))
	return nil
}

// saveLocked writes doc through the store. A failed write is logged and
// absorbed; the mutation stays applied from the caller's perspective and the
// next save retries the backend.
func (s *AccountService) saveLocked(ctx domain.Context, doc domain.StateDocument) {
	if err := s.store.Save(ctx, doc); err != nil {
		obsctx.LoggerFromContext(ctx).Error("state save failed",
			slog.String("backend", s.store.Name()),
			slog.Any("error", err))
	}
}

func hasAccount(doc domain.StateDocument, email string) bool {
	for i := range doc.Accounts {
		if doc.Accounts[i].Email == email {
			return true
		}
	}
	return false
}

// pickProxy returns the healthy pool entry that failed least recently,
// skipping exclude. Pool order breaks ties. Empty means direct egress.
func pickProxy(statuses map[string]domain.ProxyStatus, pool []string, exclude string) string {
	healthy := make([]string, 0, len(pool))
	for _, u := range pool {
		if u == exclude {
			continue
		}
		if st, ok := statuses[u]; ok && !st.Healthy {
			continue
		}
		healthy = append(healthy, u)
	}
	if len(healthy) == 0 {
		return ""
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		return statuses[healthy[i]].LastFailureAt.Before(statuses[healthy[j]].LastFailureAt)
	})
	return healthy[0]
}

func labelProxy(url string) string {
	if url == "" {
		return "direct"
	}
	return url
}
