// Package sqlite keeps the resume catalog: which documents already have a row
// in the result log, so a restarted run can skip them.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/paper-harvester/internal/crawler"
)

const table = "documents"

// Catalog implements crawler.Catalog on a SQLite database.
type Catalog struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ crawler.Catalog = (*Catalog)(nil)

// Open opens or creates the catalog at path.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	// One writer connection avoids SQLITE_BUSY under the crawl's fan-out.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if err := c.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return c, nil
}

// Close releases the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) createSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		source_url TEXT PRIMARY KEY,
		year TEXT NOT NULL,
		title TEXT NOT NULL,
		artifact_url TEXT NOT NULL DEFAULT '',
		artifact_sha256 TEXT NOT NULL DEFAULT '',
		persisted_at TEXT NOT NULL
	)`)
	return err
}

// Persisted reports whether sourceURL already has a row.
func (c *Catalog) Persisted(ctx context.Context, sourceURL string) (bool, error) {
	query, args, err := c.sb.Select("1").From(table).Where(sq.Eq{"source_url": sourceURL}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	var one int
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query catalog: %w", err)
	}
	return true, nil
}

// MarkPersisted records entry, replacing any earlier record for the same URL.
func (c *Catalog) MarkPersisted(ctx context.Context, entry crawler.CatalogEntry) error {
	if entry.PersistedAt.IsZero() {
		entry.PersistedAt = time.Now().UTC()
	}
	query, args, err := c.sb.Insert(table).
		Columns("source_url", "year", "title", "artifact_url", "artifact_sha256", "persisted_at").
		Values(entry.SourceURL, entry.Year, entry.Title, entry.ArtifactURL, entry.ArtifactSHA256,
			entry.PersistedAt.UTC().Format(time.RFC3339Nano)).
		Suffix(`ON CONFLICT(source_url) DO UPDATE SET
			year = excluded.year,
			title = excluded.title,
			artifact_url = excluded.artifact_url,
			artifact_sha256 = excluded.artifact_sha256,
			persisted_at = excluded.persisted_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark persisted: %w", err)
	}
	return nil
}

// Get returns the entry for sourceURL.
func (c *Catalog) Get(ctx context.Context, sourceURL string) (crawler.CatalogEntry, bool, error) {
	query, args, err := c.sb.
		Select("source_url", "year", "title", "artifact_url", "artifact_sha256", "persisted_at").
		From(table).Where(sq.Eq{"source_url": sourceURL}).ToSql()
	if err != nil {
		return crawler.CatalogEntry{}, false, fmt.Errorf("build query: %w", err)
	}
	var (
		entry       crawler.CatalogEntry
		persistedAt string
	)
	err = c.db.QueryRowContext(ctx, query, args...).Scan(
		&entry.SourceURL, &entry.Year, &entry.Title, &entry.ArtifactURL, &entry.ArtifactSHA256, &persistedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CatalogEntry{}, false, nil
	}
	if err != nil {
		return crawler.CatalogEntry{}, false, fmt.Errorf("query catalog: %w", err)
	}
	entry.PersistedAt, err = time.Parse(time.RFC3339Nano, persistedAt)
	if err != nil {
		return crawler.CatalogEntry{}, false, fmt.Errorf("parse persisted_at: %w", err)
	}
	return entry, true, nil
}

// CountByYear returns the number of persisted documents per year.
func (c *Catalog) CountByYear(ctx context.Context) (map[string]int, error) {
	query, args, err := c.sb.Select("year", "COUNT(*)").From(table).GroupBy("year").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			year string
			n    int
		)
		if err := rows.Scan(&year, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[year] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// Reset forgets every entry. It is used when the result log starts fresh.
func (c *Catalog) Reset(ctx context.Context) error {
	query, args, err := c.sb.Delete(table).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("reset catalog: %w", err)
	}
	return nil
}
