package crawler_test

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
	"github.com/JakeFAU/paper-harvester/internal/discovery"
	"github.com/JakeFAU/paper-harvester/internal/fetcher"
	"github.com/JakeFAU/paper-harvester/internal/resultlog"
	"github.com/JakeFAU/paper-harvester/internal/scheduler"
	"github.com/JakeFAU/paper-harvester/internal/storage/sqlite"
)

const root = "https://papers.example"

// site is an in-memory proceedings site.
type site struct {
	mu       sync.Mutex
	pages    map[string]string
	calls    map[string]int
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
}

func newSite() *site {
	return &site{pages: make(map[string]string), calls: make(map[string]int)}
}

func (s *site) add(path, body string) {
	s.pages[root+path] = body
}

// FetchOnce serves a page or a 404, tracking concurrency.
func (s *site) FetchOnce(_ context.Context, rawURL string) (crawler.Page, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.calls[rawURL]++
	body, ok := s.pages[rawURL]
	s.mu.Unlock()
	if !ok {
		return crawler.Page{}, &crawler.StatusError{URL: rawURL, Code: 404}
	}
	return crawler.Page{URL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

func (s *site) Calls(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[rawURL]
}

func (s *site) addYear(year string, docs map[string]bool) {
	var links []string
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		links = append(links, fmt.Sprintf(`<a href="/paper_files/paper/%s/hash/%s-Abstract.html">%s</a>`, year, name, name))
		pdf := ""
		if docs[name] {
			pdf = fmt.Sprintf(`<a href="/paper_files/paper/%s/file/%s-Paper.pdf">Paper</a>`, year, name)
		}
		s.add(fmt.Sprintf("/paper_files/paper/%s/hash/%s-Abstract.html", year, name),
			fmt.Sprintf(`<html><head><title>Paper %s</title></head><body>%s</body></html>`, name, pdf))
	}
	s.add("/paper_files/paper/"+year, "<html><body>"+strings.Join(links, "\n")+"</body></html>")
}

func (s *site) setRoot(years ...string) {
	var links []string
	for _, y := range years {
		links = append(links, fmt.Sprintf(`<a href="/paper_files/paper/%s">%s</a>`, y, y))
	}
	s.add("/", "<html><body>"+strings.Join(links, "")+"</body></html>")
}

type fakeDownloader struct {
	mu      sync.Mutex
	calls   int
	failFor map[string]bool
	onCall  func()
}

func (d *fakeDownloader) Download(_ context.Context, url, key string) (crawler.DownloadResult, error) {
	d.mu.Lock()
	d.calls++
	hook := d.onCall
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	if d.failFor[key] {
		return crawler.DownloadResult{}, &crawler.DownloadError{URL: url, Path: key, Cause: errors.New("connection reset")}
	}
	return crawler.DownloadResult{Path: "/artifacts/" + key + ".pdf", Bytes: 10, SHA256: "abc"}, nil
}

func (d *fakeDownloader) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(path string) string {
	return "excerpt of " + filepath.Base(path)
}

type extractorFunc func(path string) string

func (f extractorFunc) Extract(path string) string { return f(path) }

type harness struct {
	site       *site
	downloader *fakeDownloader
	logPath    string
	catalog    crawler.Catalog
	extractor  crawler.TextExtractor
	limit      int
	years      []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		site:       newSite(),
		downloader: &fakeDownloader{failFor: map[string]bool{}},
		logPath:    filepath.Join(t.TempDir(), "output.csv"),
		extractor:  fakeExtractor{},
		limit:      4,
	}
}

func (h *harness) run(t *testing.T, ctx context.Context) (crawler.Summary, error) {
	t.Helper()
	log, err := resultlog.Open("results", h.logPath, zap.NewNop())
	require.NoError(t, err)
	_, err = log.WriteHeader(context.Background(), crawler.ResultHeader())
	require.NoError(t, err)
	defer func() { require.NoError(t, log.Close()) }()

	retrier := fetcher.NewRetrier(fetcher.RetrierConfig{
		Timeout: time.Second,
		Policy:  crawler.NewFixedRetryPolicy(3, 0),
	})
	p, err := crawler.NewPipeline(crawler.PipelineConfig{
		RootURL:     root + "/",
		TargetYears: h.years,
		RunID:       uuid.New(),
	}, crawler.Deps{
		Pages:      fetcher.NewPages(h.site, retrier),
		Discoverer: discovery.New(discovery.Selectors{}, zap.NewNop()),
		Downloader: h.downloader,
		Extractor:  h.extractor,
		Sink:       log,
		Scheduler:  scheduler.New("test", h.limit, zap.NewNop()),
		Catalog:    h.catalog,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return p.Run(ctx)
}

func (h *harness) rows(t *testing.T) [][]string {
	t.Helper()
	f, err := os.Open(h.logPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, crawler.ResultHeader(), records[0])
	return records[1:]
}

func yearSummary(t *testing.T, s crawler.Summary, year string) crawler.YearSummary {
	t.Helper()
	for _, y := range s.Years {
		if y.Year == year {
			return y
		}
	}
	t.Fatalf("no summary for year %s", year)
	return crawler.YearSummary{}
}

func TestPipelinePersistsEveryDocument(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site.setRoot("2022")
	h.site.addYear("2022", map[string]bool{"a": true, "b": true, "c": false})

	summary, err := h.run(t, context.Background())
	require.NoError(t, err)

	rows := h.rows(t)
	require.Len(t, rows, 3)
	byTitle := make(map[string][]string)
	for _, r := range rows {
		byTitle[r[1]] = r
	}
	require.Equal(t, "excerpt of Paper a.pdf", byTitle["Paper a"][3])
	require.Equal(t, root+"/paper_files/paper/2022/file/a-Paper.pdf", byTitle["Paper a"][2])
	require.Equal(t, "excerpt of Paper b.pdf", byTitle["Paper b"][3])
	require.Equal(t, crawler.ArtifactNotFound, byTitle["Paper c"][3])
	require.Equal(t, "", byTitle["Paper c"][2])

	y := yearSummary(t, summary, "2022")
	require.Equal(t, int64(3), y.Expected)
	require.Equal(t, int64(3), y.Persisted)
	require.Equal(t, int64(1), y.MissingArtifact)
	require.False(t, summary.Cancelled)
}

func TestPipelineAbandonsUnreachableDocument(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site.setRoot("2021")
	h.site.addYear("2021", map[string]bool{"ok": true, "gone": true})
	gone := root + "/paper_files/paper/2021/hash/gone-Abstract.html"
	delete(h.site.pages, gone)

	summary, err := h.run(t, context.Background())
	require.NoError(t, err)

	rows := h.rows(t)
	require.Len(t, rows, 1)
	require.Equal(t, "Paper ok", rows[0][1])
	require.Equal(t, 3, h.site.Calls(gone), "the unreachable page is attempted exactly three times")

	y := yearSummary(t, summary, "2021")
	require.Equal(t, int64(1), y.Abandoned)
	require.Equal(t, int64(1), y.Persisted)
}

func TestPipelinePersistsSentinelWhenDownloadFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site.setRoot("2020")
	h.site.addYear("2020", map[string]bool{"x": true})
	h.downloader.failFor["Paper x"] = true

	summary, err := h.run(t, context.Background())
	require.NoError(t, err)

	rows := h.rows(t)
	require.Len(t, rows, 1)
	require.Equal(t, crawler.ArtifactNotFound, rows[0][3])
	require.Equal(t, root+"/paper_files/paper/2020/file/x-Paper.pdf", rows[0][2])
	require.Equal(t, int64(1), yearSummary(t, summary, "2020").DownloadFailed)
}

func TestPipelineFiltersTargetYears(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.years = []string{"2020", "2023"}
	h.site.setRoot("2019", "2020", "2023")
	h.site.addYear("2019", map[string]bool{"old": true})
	h.site.addYear("2020", map[string]bool{"p": true})
	h.site.addYear("2023", map[string]bool{"q": true})

	summary, err := h.run(t, context.Background())
	require.NoError(t, err)
	require.Len(t, h.rows(t), 2)
	require.Zero(t, h.site.Calls(root+"/paper_files/paper/2019"))

	var years []string
	for _, y := range summary.Years {
		years = append(years, y.Year)
	}
	require.Equal(t, []string{"2020", "2023"}, years)
}

func TestPipelineRootFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.run(t, context.Background())

	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Empty(t, h.rows(t))
}

func TestPipelineBoundsConcurrency(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.limit = 2
	h.site.delay = 2 * time.Millisecond
	h.site.setRoot("2020", "2021", "2022")
	for _, y := range []string{"2020", "2021", "2022"} {
		docs := make(map[string]bool)
		for i := 0; i < 10; i++ {
			docs[fmt.Sprintf("d%02d", i)] = true
		}
		h.site.addYear(y, docs)
	}

	summary, err := h.run(t, context.Background())
	require.NoError(t, err)
	require.Len(t, h.rows(t), 30)
	require.Equal(t, int64(30), summary.Totals().Persisted)
	require.LessOrEqual(t, h.site.peak.Load(), int64(2))
}

func TestPipelineResumesFromCatalog(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	catalog, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer catalog.Close()
	h.catalog = catalog

	h.site.setRoot("2022")
	h.site.addYear("2022", map[string]bool{"a": true, "b": true, "c": false})

	_, err = h.run(t, context.Background())
	require.NoError(t, err)
	require.Len(t, h.rows(t), 3)
	require.Equal(t, 2, h.downloader.Calls())

	summary, err := h.run(t, context.Background())
	require.NoError(t, err)
	require.Len(t, h.rows(t), 3, "a resumed run appends nothing for finished documents")
	require.Equal(t, 2, h.downloader.Calls())
	require.Equal(t, int64(3), yearSummary(t, summary, "2022").Resumed)
}

func TestPipelineRetriesFailedDownloadOnResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	catalog, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer catalog.Close()
	h.catalog = catalog

	h.site.setRoot("2022")
	h.site.addYear("2022", map[string]bool{"x": true})
	h.downloader.failFor["Paper x"] = true

	summary, err := h.run(t, context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), yearSummary(t, summary, "2022").DownloadFailed)
	done, err := catalog.Persisted(context.Background(), root+"/paper_files/paper/2022/hash/x-Abstract.html")
	require.NoError(t, err)
	require.False(t, done, "a failed download is not recorded as finished")

	delete(h.downloader.failFor, "Paper x")
	summary, err = h.run(t, context.Background())
	require.NoError(t, err)
	y := yearSummary(t, summary, "2022")
	require.Zero(t, y.Resumed)
	require.Equal(t, int64(1), y.Persisted)
	require.Equal(t, 2, h.downloader.Calls())

	rows := h.rows(t)
	require.Len(t, rows, 2)
	require.Equal(t, crawler.ArtifactNotFound, rows[0][3])
	require.Equal(t, "excerpt of Paper x.pdf", rows[1][3])

	summary, err = h.run(t, context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), yearSummary(t, summary, "2022").Resumed)
	require.Equal(t, 2, h.downloader.Calls())
	require.Len(t, h.rows(t), 2)
}

func TestPipelineBoundsExtractorOutput(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.site.setRoot("2022")
	h.site.addYear("2022", map[string]bool{"long": true, "empty": true})
	h.extractor = extractorFunc(func(path string) string {
		if strings.Contains(path, "long") {
			return strings.Repeat("é", 5000)
		}
		return "  "
	})

	_, err := h.run(t, context.Background())
	require.NoError(t, err)

	byTitle := make(map[string]string)
	for _, r := range h.rows(t) {
		byTitle[r[1]] = r[3]
	}
	require.Equal(t, strings.Repeat("é", crawler.MaxExcerptRunes), byTitle["Paper long"])
	require.Equal(t, crawler.ExcerptNotFound, byTitle["Paper empty"])
}

func TestPipelineCancellationDrainsInFlightWork(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.limit = 1
	h.site.setRoot("2022")
	docs := make(map[string]bool)
	for i := 0; i < 5; i++ {
		docs[fmt.Sprintf("d%d", i)] = true
	}
	h.site.addYear("2022", docs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	h.downloader.onCall = func() { once.Do(cancel) }

	summary, err := h.run(t, ctx)
	require.NoError(t, err)
	require.True(t, summary.Cancelled)

	rows := h.rows(t)
	require.Len(t, rows, 1, "the document whose download was in flight is still persisted")
	require.Equal(t, "excerpt of "+rows[0][1]+".pdf", rows[0][3])

	y := yearSummary(t, summary, "2022")
	require.Equal(t, int64(1), y.Persisted)
	require.Equal(t, int64(4), y.Interrupted)
	require.Equal(t, 1, h.downloader.Calls())
}

type failingSink struct{}

func (failingSink) Append(context.Context, []string) error { return errors.New("disk full") }

func TestPipelinePersistenceFailureIsContained(t *testing.T) {
	t.Parallel()

	s := newSite()
	s.setRoot("2022")
	s.addYear("2022", map[string]bool{"a": true, "b": true})

	p, err := crawler.NewPipeline(crawler.PipelineConfig{RootURL: root + "/"}, crawler.Deps{
		Pages:      fetcher.NewPages(s, fetcher.NewRetrier(fetcher.RetrierConfig{Policy: crawler.NewFixedRetryPolicy(3, 0)})),
		Discoverer: discovery.New(discovery.Selectors{}, nil),
		Downloader: &fakeDownloader{},
		Extractor:  fakeExtractor{},
		Sink:       failingSink{},
		Scheduler:  scheduler.New("test", 2, nil),
	})
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	y := yearSummary(t, summary, "2022")
	require.Equal(t, int64(2), y.PersistFailed)
	require.Zero(t, y.Persisted)
}

func TestNewPipelineValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := crawler.NewPipeline(crawler.PipelineConfig{}, crawler.Deps{})
	require.ErrorContains(t, err, "root url")

	_, err = crawler.NewPipeline(crawler.PipelineConfig{RootURL: root}, crawler.Deps{})
	require.ErrorContains(t, err, "page fetcher")
}
