package crawler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/progress"
)

// PipelineConfig scopes a harvest run.
type PipelineConfig struct {
	// RootURL is the listing root that links to per-year listings.
	RootURL string
	// TargetYears restricts the run; empty means every listed year.
	TargetYears []string
	// RunID tags progress events.
	RunID uuid.UUID
}

// Deps are the collaborators a Pipeline drives. Catalog, Events and Clock are optional.
type Deps struct {
	Pages      PageFetcher
	Discoverer LinkDiscoverer
	Downloader ArtifactDownloader
	Extractor  TextExtractor
	Sink       RecordSink
	Scheduler  Scheduler
	Catalog    Catalog
	Events     progress.Emitter
	Clock      Clock
	Logger     *zap.Logger
}

// YearSummary counts what happened to one year's documents.
type YearSummary struct {
	Year            string `json:"year" yaml:"year"`
	Expected        int64  `json:"expected" yaml:"expected"`
	Persisted       int64  `json:"persisted" yaml:"persisted"`
	Resumed         int64  `json:"resumed" yaml:"resumed"`
	MissingArtifact int64  `json:"missing_artifact" yaml:"missing_artifact"`
	DownloadFailed  int64  `json:"download_failed" yaml:"download_failed"`
	Abandoned       int64  `json:"abandoned" yaml:"abandoned"`
	PersistFailed   int64  `json:"persist_failed" yaml:"persist_failed"`
	Interrupted     int64  `json:"interrupted" yaml:"interrupted"`
}

// Summary reports a run's outcome.
type Summary struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Cancelled  bool          `json:"cancelled" yaml:"cancelled"`
	Years      []YearSummary `json:"years" yaml:"years"`
}

// Totals sums every year.
func (s Summary) Totals() YearSummary {
	total := YearSummary{Year: "total"}
	for _, y := range s.Years {
		total.Expected += y.Expected
		total.Persisted += y.Persisted
		total.Resumed += y.Resumed
		total.MissingArtifact += y.MissingArtifact
		total.DownloadFailed += y.DownloadFailed
		total.Abandoned += y.Abandoned
		total.PersistFailed += y.PersistFailed
		total.Interrupted += y.Interrupted
	}
	return total
}

// Pipeline walks root → year listings → document pages → artifacts and
// appends exactly one row per successfully processed document. Every fetch at
// every level runs inside the shared Scheduler, so total concurrency is bounded
// no matter how many listings exist.
type Pipeline struct {
	cfg     PipelineConfig
	deps    Deps
	logger  *zap.Logger
	targets map[string]struct{}
	now     func() time.Time

	mu        sync.Mutex
	years     map[string]*YearSummary
	startedAt time.Time
	cancelled bool
}

// NewPipeline validates deps and builds a Pipeline.
func NewPipeline(cfg PipelineConfig, deps Deps) (*Pipeline, error) {
	switch {
	case cfg.RootURL == "":
		return nil, errors.New("root url is required")
	case deps.Pages == nil:
		return nil, errors.New("page fetcher is required")
	case deps.Discoverer == nil:
		return nil, errors.New("link discoverer is required")
	case deps.Downloader == nil:
		return nil, errors.New("artifact downloader is required")
	case deps.Extractor == nil:
		return nil, errors.New("text extractor is required")
	case deps.Sink == nil:
		return nil, errors.New("record sink is required")
	case deps.Scheduler == nil:
		return nil, errors.New("scheduler is required")
	}
	if deps.Events == nil {
		deps.Events = progress.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	now := func() time.Time { return time.Now().UTC() }
	if deps.Clock != nil {
		now = deps.Clock.Now
	}
	var targets map[string]struct{}
	if len(cfg.TargetYears) > 0 {
		targets = make(map[string]struct{}, len(cfg.TargetYears))
		for _, y := range cfg.TargetYears {
			targets[y] = struct{}{}
		}
	}
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.With(zap.String("run_id", cfg.RunID.String())),
		targets: targets,
		now:     now,
		years:   make(map[string]*YearSummary),
	}, nil
}

// Run executes the harvest. Only a failure to fetch the listing root is
// returned as an error; per-document failures are logged and counted. When ctx
// is cancelled no new fetches start, in-flight documents finish, and the
// summary is marked Cancelled.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	p.mu.Lock()
	p.startedAt = p.now()
	p.mu.Unlock()
	p.emit(progress.Event{Stage: progress.StageRunStart, URL: p.cfg.RootURL})
	p.logger.Info("harvest started",
		zap.String("root", p.cfg.RootURL),
		zap.Strings("target_years", p.cfg.TargetYears),
	)

	var root Page
	err := p.deps.Scheduler.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		root, fetchErr = p.deps.Pages.Fetch(ctx, p.cfg.RootURL)
		return fetchErr
	})
	if err != nil {
		p.finish(ctx)
		return p.Snapshot(), fmt.Errorf("fetch listing root: %w", err)
	}

	years := p.selectYears(p.deps.Discoverer.ListYears(root))
	if len(years) == 0 {
		p.logger.Warn("no target years found on listing root", zap.String("root", p.cfg.RootURL))
	}

	var coordinators sync.WaitGroup
	for _, yl := range years {
		p.year(yl.Year)
		coordinators.Add(1)
		go func(yl YearLink) {
			defer coordinators.Done()
			p.processYear(ctx, yl)
		}(yl)
	}
	coordinators.Wait()
	p.deps.Scheduler.Wait()

	summary := p.finish(ctx)
	totals := summary.Totals()
	p.logger.Info("harvest finished",
		zap.Int64("expected", totals.Expected),
		zap.Int64("persisted", totals.Persisted),
		zap.Int64("resumed", totals.Resumed),
		zap.Int64("abandoned", totals.Abandoned),
		zap.Int64("persist_failed", totals.PersistFailed),
		zap.Bool("cancelled", summary.Cancelled),
	)
	return summary, nil
}

// Snapshot returns the counts so far.
func (p *Pipeline) Snapshot() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Summary{
		RunID:     p.cfg.RunID.String(),
		StartedAt: p.startedAt,
		Cancelled: p.cancelled,
		Years:     make([]YearSummary, 0, len(p.years)),
	}
	for _, y := range p.years {
		out.Years = append(out.Years, *y)
	}
	slices.SortFunc(out.Years, func(a, b YearSummary) int {
		switch {
		case a.Year < b.Year:
			return -1
		case a.Year > b.Year:
			return 1
		default:
			return 0
		}
	})
	return out
}

func (p *Pipeline) finish(ctx context.Context) Summary {
	p.mu.Lock()
	p.cancelled = ctx.Err() != nil
	started := p.startedAt
	p.mu.Unlock()

	finished := p.now()
	p.emit(progress.Event{Stage: progress.StageRunDone, Dur: finished.Sub(started)})
	summary := p.Snapshot()
	summary.FinishedAt = finished
	return summary
}

func (p *Pipeline) selectYears(links []YearLink) []YearLink {
	seen := make(map[string]struct{})
	var out []YearLink
	for _, yl := range links {
		if p.targets != nil {
			if _, ok := p.targets[yl.Year]; !ok {
				continue
			}
		}
		if _, dup := seen[yl.Year]; dup {
			continue
		}
		seen[yl.Year] = struct{}{}
		out = append(out, yl)
	}
	return out
}

// processYear fetches one listing inside a scheduler slot, then submits every
// document as its own task. It runs outside any slot so that waiting on
// Submit never starves the pool.
func (p *Pipeline) processYear(ctx context.Context, yl YearLink) {
	var listing Page
	err := p.deps.Scheduler.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		listing, fetchErr = p.deps.Pages.Fetch(ctx, yl.URL)
		return fetchErr
	})
	if err != nil {
		p.logger.Warn("year listing abandoned",
			zap.String("year", yl.Year),
			zap.String("url", yl.URL),
			zap.Error(err),
		)
		return
	}

	docs := p.deps.Discoverer.ListDocuments(listing)
	p.update(yl.Year, func(y *YearSummary) { y.Expected = int64(len(docs)) })
	p.emit(progress.Event{Stage: progress.StageYearListed, Year: yl.Year, URL: yl.URL, Bytes: int64(len(docs))})
	p.logger.Info("year listed",
		zap.String("year", yl.Year),
		zap.Int("documents", len(docs)),
	)

	for i, docURL := range docs {
		ref := DocumentRef{Year: yl.Year, SourceURL: docURL}
		p.emit(progress.Event{Stage: progress.StageDiscovered, Year: ref.Year, URL: ref.SourceURL})
		err := p.deps.Scheduler.Submit(ctx, func(ctx context.Context) {
			p.processDocument(ctx, ref)
		})
		if err != nil {
			remaining := int64(len(docs) - i)
			p.update(yl.Year, func(y *YearSummary) { y.Interrupted += remaining })
			p.logger.Info("stopped submitting documents",
				zap.String("year", yl.Year),
				zap.Int64("not_started", remaining),
				zap.Error(err),
			)
			return
		}
	}
}

func (p *Pipeline) processDocument(ctx context.Context, ref DocumentRef) {
	log := p.logger.With(zap.String("year", ref.Year), zap.String("url", ref.SourceURL))

	if p.deps.Catalog != nil {
		done, err := p.deps.Catalog.Persisted(ctx, ref.SourceURL)
		if err != nil {
			log.Warn("catalog lookup failed; processing document", zap.Error(err))
		} else if done {
			p.update(ref.Year, func(y *YearSummary) { y.Resumed++ })
			p.emit(progress.Event{Stage: progress.StageResumed, Year: ref.Year, URL: ref.SourceURL})
			return
		}
	}

	page, err := p.deps.Pages.Fetch(ctx, ref.SourceURL)
	if err != nil {
		p.dropDocument(ctx, ref, "", err, log)
		return
	}

	title := SanitizeTitle(p.deps.Discoverer.ExtractTitle(page))
	log = log.With(zap.String("title", title))
	p.emit(progress.Event{Stage: progress.StageMetadataFetched, Year: ref.Year, URL: ref.SourceURL, Title: title, Dur: page.Duration})

	record := PaperRecord{Year: ref.Year, Title: title}
	var sha string
	// A failed download may succeed on a later run, so it is not cataloged.
	downloadFailed := false

	artifactURL, ok := p.deps.Discoverer.FindArtifactLink(page)
	switch {
	case !ok:
		log.Warn("no artifact link on document page")
		record.Excerpt = ArtifactNotFound
		p.update(ref.Year, func(y *YearSummary) { y.MissingArtifact++ })
		p.emit(progress.Event{Stage: progress.StageDownloadFailed, Year: ref.Year, URL: ref.SourceURL, Title: title, Note: "no artifact link"})
	default:
		record.ArtifactURL = artifactURL
		res, err := p.deps.Downloader.Download(ctx, artifactURL, title)
		if err != nil {
			if ctx.Err() != nil {
				p.dropDocument(ctx, ref, title, err, log)
				return
			}
			log.Warn("artifact download failed", zap.String("artifact_url", artifactURL), zap.Error(err))
			record.Excerpt = ArtifactNotFound
			downloadFailed = true
			p.update(ref.Year, func(y *YearSummary) { y.DownloadFailed++ })
			p.emit(progress.Event{Stage: progress.StageDownloadFailed, Year: ref.Year, URL: artifactURL, Title: title, Note: err.Error()})
			break
		}
		sha = res.SHA256
		p.emit(progress.Event{Stage: progress.StageArtifactDownloaded, Year: ref.Year, URL: artifactURL, Title: title, Bytes: res.Bytes})
		record.Excerpt = BoundExcerpt(p.deps.Extractor.Extract(res.Path))
		p.emit(progress.Event{Stage: progress.StageExcerptExtracted, Year: ref.Year, URL: artifactURL, Title: title})
	}

	// The row is written even if ctx was cancelled meanwhile; work already done drains.
	persistCtx := context.WithoutCancel(ctx)
	if err := p.deps.Sink.Append(persistCtx, record.Row()); err != nil {
		perr := &PersistenceError{Title: title, Cause: err}
		log.Error("row not persisted", zap.Error(perr))
		p.update(ref.Year, func(y *YearSummary) { y.PersistFailed++ })
		return
	}
	p.update(ref.Year, func(y *YearSummary) { y.Persisted++ })
	p.emit(progress.Event{Stage: progress.StagePersisted, Year: ref.Year, URL: ref.SourceURL, Title: title})

	if p.deps.Catalog != nil && !downloadFailed {
		entry := CatalogEntry{
			SourceURL:      ref.SourceURL,
			Year:           ref.Year,
			Title:          title,
			ArtifactURL:    record.ArtifactURL,
			ArtifactSHA256: sha,
			PersistedAt:    p.now(),
		}
		if err := p.deps.Catalog.MarkPersisted(persistCtx, entry); err != nil {
			log.Warn("catalog update failed; document will be re-processed on resume", zap.Error(err))
		}
	}
}

func (p *Pipeline) dropDocument(ctx context.Context, ref DocumentRef, title string, err error, log *zap.Logger) {
	if ctx.Err() != nil {
		p.update(ref.Year, func(y *YearSummary) { y.Interrupted++ })
		log.Info("document interrupted by cancellation", zap.Error(err))
		return
	}
	var fetchErr *FetchError
	attempts := 0
	if errors.As(err, &fetchErr) {
		attempts = fetchErr.Attempts
	}
	log.Warn("document abandoned", zap.Int("attempts", attempts), zap.Error(err))
	p.update(ref.Year, func(y *YearSummary) { y.Abandoned++ })
	p.emit(progress.Event{Stage: progress.StageAbandoned, Year: ref.Year, URL: ref.SourceURL, Title: title, Note: err.Error()})
}

func (p *Pipeline) year(year string) *YearSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.yearLocked(year)
}

func (p *Pipeline) yearLocked(year string) *YearSummary {
	y, ok := p.years[year]
	if !ok {
		y = &YearSummary{Year: year}
		p.years[year] = y
	}
	return y
}

func (p *Pipeline) update(year string, fn func(*YearSummary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.yearLocked(year))
}

func (p *Pipeline) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(p.cfg.RunID)
	evt.TS = p.now()
	p.deps.Events.Emit(evt)
}
