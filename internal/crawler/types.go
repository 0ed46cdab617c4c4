// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// Sentinel values substituted when discovery or extraction yields nothing usable.
const (
	// ExcerptNotFound replaces an excerpt when no text could be recovered from an artifact.
	ExcerptNotFound = "Abstract not found"
	// ArtifactNotFound replaces an excerpt when the artifact link is missing or the download failed.
	ArtifactNotFound = "PDF not found"
	// UnknownTitle is used when a document page has no usable title.
	UnknownTitle = "unknown_title"
	// MaxExcerptRunes bounds the length of every persisted excerpt.
	MaxExcerptRunes = 1000
)

// DocumentRef points at a single document detail page found during discovery.
type DocumentRef struct {
	Year      string
	SourceURL string
}

// YearLink is a per-year listing page found on the listing root.
type YearLink struct {
	Year string
	URL  string
}

// Page is the body of a fetched HTML page.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// PaperRecord is one row of the result log.
type PaperRecord struct {
	Year        string `yaml:"year"`
	Title       string `yaml:"title"`
	ArtifactURL string `yaml:"artifact_url"`
	Excerpt     string `yaml:"excerpt"`
}

// Row renders the record in result-log column order.
func (r PaperRecord) Row() []string {
	return []string{r.Year, r.Title, r.ArtifactURL, r.Excerpt}
}

// AnnotatedRecord is a PaperRecord enriched with a classification label.
type AnnotatedRecord struct {
	PaperRecord
	Category string
}

// Row renders the record in annotated-log column order.
func (r AnnotatedRecord) Row() []string {
	return append(r.PaperRecord.Row(), r.Category)
}

// ResultHeader returns the column header of the base result log.
func ResultHeader() []string {
	return []string{"Year", "Title", "PDF URL", "Abstract"}
}

// AnnotatedHeader returns the column header of the annotated log.
func AnnotatedHeader() []string {
	return append(ResultHeader(), "Category")
}

// RecordFromRow parses a result-log row.
func RecordFromRow(row []string) (PaperRecord, error) {
	if len(row) != len(ResultHeader()) {
		return PaperRecord{}, fmt.Errorf("expected %d columns, got %d", len(ResultHeader()), len(row))
	}
	return PaperRecord{
		Year:        row[0],
		Title:       row[1],
		ArtifactURL: row[2],
		Excerpt:     row[3],
	}, nil
}

// DownloadResult describes an artifact that is present on disk.
type DownloadResult struct {
	Path    string
	Bytes   int64
	SHA256  string
	Skipped bool
}

// CatalogEntry records a document whose row reached the result log.
type CatalogEntry struct {
	SourceURL      string
	Year           string
	Title          string
	ArtifactURL    string
	ArtifactSHA256 string
	PersistedAt    time.Time
}
