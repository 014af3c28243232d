package store

import (
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/chat-relay/internal/adapter/observability"
	"github.com/fairyhunter13/chat-relay/internal/domain"
	obsctx "github.com/fairyhunter13/chat-relay/internal/observability"
)

// Cache fronts a backend with the single in-memory document that is
// authoritative for the process lifetime. The backend is read exactly once;
// every mutation is written through, and a failed write keeps the cache
// authoritative until the next successful save.
type Cache struct {
	backend domain.StateStore

	initOnce sync.Once

	mu  sync.Mutex
	doc domain.StateDocument
}

// NewCache wraps a backend.
func NewCache(backend domain.StateStore) *Cache {
	return &Cache{backend: backend}
}

// Name identifies the wrapped backend.
func (c *Cache) Name() string { return c.backend.Name() }

// Default returns the zero-value document with all containers initialized.
func (c *Cache) Default() domain.StateDocument { return domain.DefaultDocument() }

// init performs the one-shot backend read. A missing document is expected on
// first boot and seeds the default; a corrupt or unreadable one is surfaced
// to the operator log before being replaced by the default. Both paths
// rewrite the backend synchronously.
func (c *Cache) init(ctx domain.Context) {
	c.initOnce.Do(func() {
		lg := obsctx.LoggerFromContext(ctx)
		doc, err := c.backend.Load(ctx)
		switch {
		case err == nil:
			doc.Normalize()
			c.mu.Lock()
			c.doc = doc
			c.mu.Unlock()
			lg.Info("state document loaded",
				slog.String("backend", c.backend.Name()),
				slog.Int("accounts", len(doc.Accounts)))
			return
		case errors.Is(err, domain.ErrNotFound):
			lg.Info("state document missing; initializing default",
				slog.String("backend", c.backend.Name()))
		case errors.Is(err, domain.ErrStoreCorrupt):
			lg.Error("state document corrupt; resetting to default",
				slog.String("backend", c.backend.Name()),
				slog.Any("error", err))
			observability.RecordStoreLoadFailure(c.backend.Name(), "corrupt")
		default:
			lg.Error("state document unreadable; serving default",
				slog.String("backend", c.backend.Name()),
				slog.Any("error", err))
			observability.RecordStoreLoadFailure(c.backend.Name(), "io")
		}
		c.mu.Lock()
		c.doc = domain.DefaultDocument()
		c.mu.Unlock()
		c.persist(ctx)
	})
}

// persist writes the cached document through to the backend. Failures are
// logged and counted, never propagated: the cache stays authoritative and the
// next mutation retries the write.
func (c *Cache) persist(ctx domain.Context) {
	c.mu.Lock()
	doc := c.doc.Clone()
	c.mu.Unlock()
	err := c.backend.Save(ctx, doc)
	observability.RecordStoreSave(c.backend.Name(), err)
	if err != nil {
		obsctx.LoggerFromContext(ctx).Error("state document save failed",
			slog.String("backend", c.backend.Name()),
			slog.Any("error", err))
	}
}

// Load returns a copy of the cached document, reading the backend on first
// call only.
func (c *Cache) Load(ctx domain.Context) (domain.StateDocument, error) {
	tracer := otel.Tracer("store")
	ctx, span := tracer.Start(ctx, "store.Load")
	defer span.End()
	c.init(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Clone(), nil
}

// Save replaces the cached document and writes it through. The in-memory
// replacement always succeeds; a backend failure is absorbed per the
// at-most-once durability contract.
func (c *Cache) Save(ctx domain.Context, doc domain.StateDocument) error {
	tracer := otel.Tracer("store")
	ctx, span := tracer.Start(ctx, "store.Save")
	defer span.End()
	c.init(ctx)
	doc.Normalize()
	c.mu.Lock()
	c.doc = doc.Clone()
	c.mu.Unlock()
	c.persist(ctx)
	return nil
}
