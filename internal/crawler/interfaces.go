package crawler

import (
	"context"
	"time"
)

// PageFetcher fetches an HTML page, retrying transient failures.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// ArtifactDownloader stores the binary behind url under key, skipping work already done.
type ArtifactDownloader interface {
	Download(ctx context.Context, url string, key string) (DownloadResult, error)
}

// TextExtractor turns a downloaded artifact into a bounded excerpt. It never fails;
// unreadable artifacts yield ExcerptNotFound.
type TextExtractor interface {
	Extract(path string) string
}

// LinkDiscoverer locates links inside already-fetched pages.
type LinkDiscoverer interface {
	ListYears(root Page) []YearLink
	ListDocuments(listing Page) []string
	FindArtifactLink(document Page) (string, bool)
	ExtractTitle(document Page) string
}

// Classifier assigns a topical category to a title.
type Classifier interface {
	Classify(ctx context.Context, title string) (string, error)
}

// RecordSink appends complete rows to a shared log.
type RecordSink interface {
	Append(ctx context.Context, row []string) error
}

// Scheduler bounds concurrent work across every fan-out level.
type Scheduler interface {
	Submit(ctx context.Context, task func(ctx context.Context)) error
	Do(ctx context.Context, task func(ctx context.Context) error) error
	Wait()
}

// Catalog remembers which documents already have a row in the result log.
type Catalog interface {
	Persisted(ctx context.Context, sourceURL string) (bool, error)
	MarkPersisted(ctx context.Context, entry CatalogEntry) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy interface {
	MaxAttempts() int
	ShouldRetry(ctx context.Context, err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
