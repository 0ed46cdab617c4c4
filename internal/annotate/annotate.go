// Package annotate runs the second pass over a finished result log: every
// record is classified concurrently and written, with its category, to a
// derived log. Records whose classification fails are omitted and logged.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
	"github.com/JakeFAU/paper-harvester/internal/metrics"
	"github.com/JakeFAU/paper-harvester/internal/progress"
	"github.com/JakeFAU/paper-harvester/internal/resultlog"
)

// DefaultConcurrency is the number of classification calls in flight at once.
const DefaultConcurrency = 10

// Config scopes one annotation pass.
type Config struct {
	// InputPath is the base result log to read.
	InputPath string
	RunID     uuid.UUID
}

// Deps are the collaborators an Annotator drives. Events, Clock and Logger are optional.
type Deps struct {
	Classifier crawler.Classifier
	Sink       crawler.RecordSink
	Scheduler  crawler.Scheduler
	Events     progress.Emitter
	Clock      crawler.Clock
	Logger     *zap.Logger
}

// Summary counts what happened to the input records.
type Summary struct {
	RunID         string    `json:"run_id" yaml:"run_id"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Cancelled     bool      `json:"cancelled" yaml:"cancelled"`
	Read          int64     `json:"read" yaml:"read"`
	Malformed     int64     `json:"malformed" yaml:"malformed"`
	Classified    int64     `json:"classified" yaml:"classified"`
	Omitted       int64     `json:"omitted" yaml:"omitted"`
	PersistFailed int64     `json:"persist_failed" yaml:"persist_failed"`
	Interrupted   int64     `json:"interrupted" yaml:"interrupted"`
}

// Annotator classifies the records of one result log.
type Annotator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	summary Summary
}

// New validates deps and builds an Annotator.
func New(cfg Config, deps Deps) (*Annotator, error) {
	switch {
	case cfg.InputPath == "":
		return nil, errors.New("input path is required")
	case deps.Classifier == nil:
		return nil, errors.New("classifier is required")
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
	return &Annotator{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(zap.String("run_id", cfg.RunID.String())),
		now:    now,
	}, nil
}

// Run streams the input log and classifies every well-formed record. Only an
// unreadable input is returned as an error. Once ctx is cancelled no further
// records are submitted and the rest of the input is counted as Interrupted;
// classifications already running still finish.
func (a *Annotator) Run(ctx context.Context) (Summary, error) {
	a.mu.Lock()
	a.summary = Summary{RunID: a.cfg.RunID.String(), StartedAt: a.now()}
	a.mu.Unlock()
	a.logger.Info("annotation started", zap.String("input", a.cfg.InputPath))

	stopped := false
	scanErr := resultlog.Scan(a.cfg.InputPath, crawler.ResultHeader(), func(line int, row []string, err error) error {
		if err != nil {
			a.logger.Warn("skipping malformed row", zap.Int("line", line), zap.Error(err))
			a.update(func(s *Summary) { s.Malformed++ })
			return nil
		}
		record, err := crawler.RecordFromRow(row)
		if err != nil {
			a.logger.Warn("skipping malformed row", zap.Int("line", line), zap.Error(err))
			a.update(func(s *Summary) { s.Malformed++ })
			return nil
		}
		a.update(func(s *Summary) { s.Read++ })

		if stopped {
			a.update(func(s *Summary) { s.Interrupted++ })
			return nil
		}
		if err := a.deps.Scheduler.Submit(ctx, func(ctx context.Context) {
			a.annotate(ctx, record)
		}); err != nil {
			a.logger.Info("annotation interrupted; counting remaining records", zap.Error(err))
			a.update(func(s *Summary) { s.Interrupted++ })
			stopped = true
		}
		return nil
	})
	a.deps.Scheduler.Wait()

	if scanErr != nil {
		return a.finish(ctx), fmt.Errorf("scan result log: %w", scanErr)
	}

	summary := a.finish(ctx)
	a.logger.Info("annotation finished",
		zap.Int64("read", summary.Read),
		zap.Int64("classified", summary.Classified),
		zap.Int64("omitted", summary.Omitted),
		zap.Int64("malformed", summary.Malformed),
		zap.Int64("interrupted", summary.Interrupted),
		zap.Bool("cancelled", summary.Cancelled),
	)
	if summary.Omitted > 0 {
		a.logger.Warn("records omitted from the annotated log after classification failures",
			zap.Int64("omitted", summary.Omitted),
		)
	}
	return summary, nil
}

// Snapshot returns the counts so far.
func (a *Annotator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}

func (a *Annotator) annotate(ctx context.Context, record crawler.PaperRecord) {
	log := a.logger.With(zap.String("year", record.Year), zap.String("title", record.Title))

	// A started classification runs to completion, bounded by the classifier's
	// own timeout.
	category, err := a.deps.Classifier.Classify(context.WithoutCancel(ctx), record.Title)
	if err != nil {
		cerr := &crawler.ClassificationError{Title: record.Title, Cause: err}
		log.Error("classification failed; record omitted", zap.Error(cerr))
		metrics.ObserveClassification("failure")
		a.update(func(s *Summary) { s.Omitted++ })
		a.emit(progress.Event{Stage: progress.StageClassifyFailed, Year: record.Year, Title: record.Title, Note: err.Error()})
		return
	}
	metrics.ObserveClassification("success")

	row := crawler.AnnotatedRecord{PaperRecord: record, Category: category}.Row()
	if err := a.deps.Sink.Append(context.WithoutCancel(ctx), row); err != nil {
		perr := &crawler.PersistenceError{Title: record.Title, Cause: err}
		log.Error("annotated row not persisted", zap.Error(perr))
		a.update(func(s *Summary) { s.PersistFailed++ })
		return
	}
	a.update(func(s *Summary) { s.Classified++ })
	a.emit(progress.Event{Stage: progress.StageClassified, Year: record.Year, Title: record.Title, Note: category})
}

func (a *Annotator) finish(ctx context.Context) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.Cancelled = ctx.Err() != nil
	a.summary.FinishedAt = a.now()
	return a.summary
}

func (a *Annotator) update(fn func(*Summary)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.summary)
}

func (a *Annotator) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(a.cfg.RunID)
	evt.TS = a.now()
	a.deps.Events.Emit(evt)
}
