package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrNoAccounts       = errors.New("no account with usable token")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrUpstreamNetwork  = errors.New("upstream network failure")
	ErrUpstreamProtocol = errors.New("upstream protocol failure")
	ErrStoreCorrupt     = errors.New("state document corrupt")
	ErrInternal         = errors.New("internal error")
)

// Store backend names
const (
	StoreBackendMemory = "none"
	StoreBackendFile   = "file"
	StoreBackendRedis  = "redis"
)

// Account is a credential/token pair for the upstream chat service.
// Token may be empty; TokenExpiresAt is decoded locally from the token.
type Account struct {
	Email          string    `json:"email"`
	Password       string    `json:"password"`
	Token          string    `json:"token,omitempty"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
}

// TokenValid reports whether the account holds a token usable at now.
func (a Account) TokenValid(now time.Time) bool {
	return a.Token != "" && a.TokenExpiresAt.After(now)
}

// ProxyStatus tracks the health of one egress proxy.
type ProxyStatus struct {
	Healthy       bool      `json:"healthy"`
	FailureCount  int       `json:"failureCount"`
	LastFailureAt time.Time `json:"lastFailureAt"`
}

// StateDocument is the single root document persisted by the state store.
// Invariant: all four containers are non-nil after DefaultDocument,
// Normalize, or any successful load. Writes replace the whole document.
type StateDocument struct {
	Accounts      []Account              `json:"accounts"`
	ProxyBindings map[string]string      `json:"proxyBindings"`
	ProxyStatuses map[string]ProxyStatus `json:"proxyStatuses"`
	Settings      map[string]string      `json:"settings"`
}

// DefaultDocument returns the zero-value document with every container
// initialized and empty.
func DefaultDocument() StateDocument {
	return StateDocument{
		Accounts:      []Account{},
		ProxyBindings: map[string]string{},
		ProxyStatuses: map[string]ProxyStatus{},
		Settings:      map[string]string{},
	}
}

// Normalize replaces nil containers left behind by a partial decode.
func (d *StateDocument) Normalize() {
	if d.Accounts == nil {
		d.Accounts = []Account{}
	}
	if d.ProxyBindings == nil {
		d.ProxyBindings = map[string]string{}
	}
	if d.ProxyStatuses == nil {
		d.ProxyStatuses = map[string]ProxyStatus{}
	}
	if d.Settings == nil {
		d.Settings = map[string]string{}
	}
}

// Clone deep-copies the document so cached state never aliases caller state.
func (d StateDocument) Clone() StateDocument {
	out := StateDocument{
		Accounts:      make([]Account, len(d.Accounts)),
		ProxyBindings: make(map[string]string, len(d.ProxyBindings)),
		ProxyStatuses: make(map[string]ProxyStatus, len(d.ProxyStatuses)),
		Settings:      make(map[string]string, len(d.Settings)),
	}
	copy(out.Accounts, d.Accounts)
	for k, v := range d.ProxyBindings {
		out.ProxyBindings[k] = v
	}
	for k, v := range d.ProxyStatuses {
		out.ProxyStatuses[k] = v
	}
	for k, v := range d.Settings {
		out.Settings[k] = v
	}
	return out
}

// DispatchResult is the uniform tagged result of one chat dispatch.
// Failures below the dispatcher are absorbed into Status=false; no error
// value crosses the dispatcher boundary.
type DispatchResult struct {
	Status   bool            `json:"status"`
	Response json.RawMessage `json:"response"`
	Token    string          `json:"current_token,omitempty"`
}

// AccountSummary is the redacted account view exposed to admin tooling.
type AccountSummary struct {
	Email          string    `json:"email"`
	TokenValid     bool      `json:"token_valid"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	Proxy          string    `json:"proxy,omitempty"`
	ProxyAssigned  bool      `json:"proxy_assigned"`
}

// StateStore (port)
// Load returns ErrNotFound when the backing store holds no document yet and
// ErrStoreCorrupt when it holds one that cannot be decoded.

type StateStore interface {
	Load(ctx Context) (StateDocument, error)
	Save(ctx Context, doc StateDocument) error
	Name() string
}

// TokenClient (port)
// Login performs the single upstream credential exchange; TokenExpiry decodes
// the token's expiry claim without contacting the network.

type TokenClient interface {
	Login(ctx Context, email, password string) (token string, expiresAt time.Time, err error)
	TokenExpiry(token string) (time.Time, error)
}

// ChatUpstream (port)
// proxyURL selects the egress proxy for the call; empty means direct.

type ChatUpstream interface {
	CreateSession(ctx Context, token, proxyURL string) (string, error)
	Complete(ctx Context, token, proxyURL, chatID string, body map[string]any) (json.RawMessage, error)
}

// AccountDirectory (port)
// The slice of account orchestration the dispatcher consumes: rotation,
// proxy resolution, and failure/success reporting. Report methods persist
// their effects before returning.

type AccountDirectory interface {
	NextAccount(ctx Context) (Account, error)
	ProxyFor(ctx Context, email string) (string, error)
	ReportNetworkFailure(ctx Context, email, proxyURL string) error
	ReportSuccess(ctx Context, email, proxyURL string) error
}

// Context is an alias so domain signatures stay decoupled from the stdlib
// import; adapters and usecases pass context.Context straight through.

type Context = context.Context
