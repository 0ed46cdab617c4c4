// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/api"
	"github.com/JakeFAU/paper-harvester/internal/app"
	"github.com/JakeFAU/paper-harvester/internal/config"
	"github.com/JakeFAU/paper-harvester/internal/crawler"
	"github.com/JakeFAU/paper-harvester/internal/progress"
)

func TestNewWithoutCatalog(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), app.Options{
		Config:     config.Config{},
		Logger:     zap.NewNop(),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	assert.Nil(t, a.Catalog())
	assert.NotEqual(t, uuid.Nil, a.RunID())
	assert.Equal(t, uuid.Version(7), a.RunID().Version())

	a.Events().Emit(progress.Event{
		RunID: progress.UUIDToBytes(a.RunID()),
		TS:    time.Now(),
		Stage: progress.StageYearListed,
		Year:  "2022",
		Bytes: 12,
	})
	require.NoError(t, a.Close(context.Background()))
	require.Equal(t, int64(12), a.Tally().Snapshot().Years["2022"].Expected, "close flushes buffered events")
	require.NoError(t, a.Close(context.Background()), "close is idempotent")
}

func TestNewOpensCatalog(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Storage: config.StorageConfig{CatalogPath: filepath.Join(t.TempDir(), "catalog.db")}}
	a, err := app.New(context.Background(), app.Options{Config: cfg, Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NotNil(t, a.Catalog())

	ctx := context.Background()
	require.NoError(t, a.Catalog().MarkPersisted(ctx, crawler.CatalogEntry{
		SourceURL:   "https://papers.example/a",
		Year:        "2022",
		PersistedAt: time.Now(),
	}))
	done, err := a.Catalog().Persisted(ctx, "https://papers.example/a")
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, a.Close(ctx))
}

func TestNewFailsOnBadCatalogPath(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg := config.Config{Storage: config.StorageConfig{CatalogPath: filepath.Join(blocker, "catalog.db")}}
	_, err := app.New(context.Background(), app.Options{Config: cfg, Registerer: prometheus.NewRegistry()})
	require.ErrorContains(t, err, "open catalog")
}

func TestStartServerDisabledWithoutAddr(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), app.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	a.StartServer(ctx, api.Sources{})
	cancel()
	require.NoError(t, a.Close(context.Background()))
}
