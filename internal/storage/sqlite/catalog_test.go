package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMarkAndQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := openCatalog(t)

	ok, err := c.Persisted(ctx, "https://papers.example/a")
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.MarkPersisted(ctx, crawler.CatalogEntry{
		SourceURL:   "https://papers.example/a",
		Year:        "2021",
		Title:       "Paper A",
		ArtifactURL: "https://papers.example/a.pdf",
		PersistedAt: at,
	}))

	ok, err = c.Persisted(ctx, "https://papers.example/a")
	require.NoError(t, err)
	require.True(t, ok)

	entry, found, err := c.Get(ctx, "https://papers.example/a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Paper A", entry.Title)
	require.True(t, at.Equal(entry.PersistedAt))

	// Upsert replaces the earlier record.
	require.NoError(t, c.MarkPersisted(ctx, crawler.CatalogEntry{SourceURL: "https://papers.example/a", Year: "2021", Title: "Paper A v2"}))
	entry, _, err = c.Get(ctx, "https://papers.example/a")
	require.NoError(t, err)
	require.Equal(t, "Paper A v2", entry.Title)
	require.False(t, entry.PersistedAt.IsZero())
}

func TestCountAndReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := openCatalog(t)

	for i, year := range []string{"2020", "2020", "2021"} {
		require.NoError(t, c.MarkPersisted(ctx, crawler.CatalogEntry{
			SourceURL: fmt.Sprintf("https://papers.example/%d", i),
			Year:      year,
			Title:     "t",
		}))
	}
	counts, err := c.CountByYear(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"2020": 2, "2021": 1}, counts)

	require.NoError(t, c.Reset(ctx))
	counts, err = c.CountByYear(ctx)
	require.NoError(t, err)
	require.Empty(t, counts)
}

func TestConcurrentMarks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := openCatalog(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.MarkPersisted(ctx, crawler.CatalogEntry{
				SourceURL: fmt.Sprintf("https://papers.example/%d", i),
				Year:      "2022",
				Title:     "t",
			}))
		}(i)
	}
	wg.Wait()

	counts, err := c.CountByYear(ctx)
	require.NoError(t, err)
	require.Equal(t, 40, counts["2022"])
}

func TestReopenKeepsEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.MarkPersisted(ctx, crawler.CatalogEntry{SourceURL: "u", Year: "2023", Title: "t"}))
	require.NoError(t, c.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	ok, err := reopened.Persisted(ctx, "u")
	require.NoError(t, err)
	require.True(t, ok)
}
