package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agtrace/agtrace/internal/agtraceerr"
	"github.com/agtrace/agtrace/pkg/index"
	"github.com/agtrace/agtrace/pkg/provider"
	"github.com/agtrace/agtrace/pkg/provider/claude"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) index.Store {
	t.Helper()
	store, err := index.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store index.Store, id, path string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertSession(ctx, index.Session{ID: id, ProjectHash: "h1", Provider: "claude", IsValid: true}))
	require.NoError(t, store.UpsertLogFile(ctx, index.LogFile{Path: path, SessionID: id, Role: index.RoleMain}))
}

func TestLoadEventsResolvesAndParsesSingleFile(t *testing.T) {
	store := openStore(t)
	fixture, err := filepath.Abs("../provider/claude/testdata/session_basic.jsonl")
	require.NoError(t, err)
	seedSession(t, store, "claude-session-abc", fixture)

	repo := New(store, []provider.Provider{claude.New()})
	events, err := repo.LoadEvents(context.Background(), "claude-session-abc")
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestLoadEventsResolvesByPrefix(t *testing.T) {
	store := openStore(t)
	fixture, err := filepath.Abs("../provider/claude/testdata/session_basic.jsonl")
	require.NoError(t, err)
	seedSession(t, store, "claude-session-abc", fixture)

	repo := New(store, []provider.Provider{claude.New()})
	events, err := repo.LoadEvents(context.Background(), "claude-sess")
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestLoadEventsReturnsNotFoundForUnknownSession(t *testing.T) {
	store := openStore(t)
	repo := New(store, []provider.Provider{claude.New()})

	_, err := repo.LoadEvents(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, agtraceerr.IsKind(err, agtraceerr.KindNotFound))
}

func TestLoadEventsFailsWhenNoProviderRecognizesFile(t *testing.T) {
	store := openStore(t)
	fixture, err := filepath.Abs("../provider/codex/testdata/session_basic.jsonl")
	require.NoError(t, err)
	seedSession(t, store, "wrong-vendor-session", fixture)

	// only the claude provider is registered, but the file is codex's.
	repo := New(store, []provider.Provider{claude.New()})
	_, err = repo.LoadEvents(context.Background(), "wrong-vendor-session")
	require.Error(t, err)
}
