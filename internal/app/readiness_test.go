package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/chat-relay/internal/adapter/store"
	"github.com/fairyhunter13/chat-relay/internal/app"
	"github.com/fairyhunter13/chat-relay/internal/domain"
)

type deadStore struct{}

func (deadStore) Load(domain.Context) (domain.StateDocument, error) {
	return domain.DefaultDocument(), nil
}
func (deadStore) Save(domain.Context, domain.StateDocument) error { return nil }
func (deadStore) Name() string                                    { return "dead" }
func (deadStore) Ping(domain.Context) error                       { return errors.New("backend gone") }

func TestBuildStoreCheck_MemoryAlwaysReady(t *testing.T) {
	check := app.BuildStoreCheck(store.NewMemoryStore())
	require.NoError(t, check(context.Background()))
}

func TestBuildStoreCheck_FileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	check := app.BuildStoreCheck(store.NewFileStore(path))
	require.NoError(t, check(context.Background()))
}

func TestBuildStoreCheck_PingErrorPropagates(t *testing.T) {
	check := app.BuildStoreCheck(deadStore{})
	err := check(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend gone")
}

func TestBuildStoreCheck_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	check := app.BuildStoreCheck(store.NewRedisStore(rdb, "relay:test:state"))
	require.NoError(t, check(context.Background()))

	mr.Close()
	require.Error(t, check(context.Background()))
}
