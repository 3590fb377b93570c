package codebridge

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/codebridge/internal/sessionstore"
	"github.com/localrivet/codebridge/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestServer(t *testing.T, root string) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Store.ProjectRoot = root

	srv, err := NewServer(ServerOptions{Config: cfg, Logger: testLogger()})
	require.NoError(t, err)
	return srv
}

func TestServerRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	srv := newTestServer(t, root)

	require.NoError(t, srv.AppendFrame(ctx, "Fix the bug in login", "test-session"))

	results, err := srv.Search(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, []string{"Fix the bug in login"}, results)

	frames, err := srv.GetSessionFrames(ctx, "test-session")
	require.NoError(t, err)
	assert.Len(t, frames, 1)

	assert.Equal(t, sessionstore.StorePath(root), srv.GetStore().Path())
	assert.EqualValues(t, 1, srv.Metrics().GetCounter(telemetry.MetricAppends))
	assert.Equal(t, root, srv.GetConfig().Store.ProjectRoot)

	require.NoError(t, srv.Stop())
	assert.ErrorIs(t, srv.AppendFrame(ctx, "late", "test-session"), sessionstore.ErrClosed)
}

func TestServerUsesSearchLimits(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Store.ProjectRoot = t.TempDir()
	cfg.Search.TopK = 2

	srv, err := NewServer(ServerOptions{Config: cfg, Logger: testLogger()})
	require.NoError(t, err)
	defer srv.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, srv.AppendFrame(ctx, "repeated keyword", "s"))
	}
	results, err := srv.Search(ctx, "keyword")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestNewServerFromConfigPath(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Store.ProjectRoot = filepath.Join(dir, "project")
	path := filepath.Join(dir, "codebridge.json")
	require.NoError(t, SaveConfig(cfg, path))

	srv, err := NewServer(ServerOptions{ConfigPath: path, Logger: testLogger()})
	require.NoError(t, err)
	defer srv.Stop()

	assert.FileExists(t, sessionstore.StorePath(cfg.Store.ProjectRoot))
}

func TestNewServerStoreFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, sessionstore.DirName), []byte("file"), 0o644))

	cfg := DefaultConfig()
	cfg.Store.ProjectRoot = root

	srv, err := NewServer(ServerOptions{Config: cfg, Logger: testLogger()})
	require.Error(t, err)
	assert.Nil(t, srv)
	assert.Equal(t, sessionstore.StageDirCreate, sessionstore.StageOf(err))
}

func TestNewServerInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.TopK = 0

	_, err := NewServer(ServerOptions{Config: cfg, Logger: testLogger()})
	assert.Error(t, err)
}

func TestCreateStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.ProjectRoot = t.TempDir()

	store, err := CreateStore(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, store.AppendFrame(context.Background(), "embedded use", "lib"))
	require.NoError(t, store.Close())
}
