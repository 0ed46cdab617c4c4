package crawler

import "fmt"

// StatusError is a non-2xx response. It is transient and retried by the fetch layer.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// FetchError is returned once every attempt for a URL has failed. The work item
// that needed the URL is abandoned; the run continues.
type FetchError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// DownloadError reports an artifact that could not be stored.
type DownloadError struct {
	URL   string
	Path  string
	Cause error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s to %s: %v", e.URL, e.Path, e.Cause)
}

func (e *DownloadError) Unwrap() error { return e.Cause }

// ExtractionError reports an unreadable artifact. Extractors log it and fall back
// to ExcerptNotFound.
type ExtractionError struct {
	Path  string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract text from %s: %v", e.Path, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// ClassificationError reports a failed classification; the record is omitted
// from the annotated log.
type ClassificationError struct {
	Title string
	Cause error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %q: %v", e.Title, e.Cause)
}

func (e *ClassificationError) Unwrap() error { return e.Cause }

// PersistenceError reports a row that could not be appended to a log.
type PersistenceError struct {
	Title string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %q: %v", e.Title, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
