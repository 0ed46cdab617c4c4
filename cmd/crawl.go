package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/api"
	"github.com/JakeFAU/paper-harvester/internal/clock/system"
	"github.com/JakeFAU/paper-harvester/internal/crawler"
	"github.com/JakeFAU/paper-harvester/internal/discovery"
	"github.com/JakeFAU/paper-harvester/internal/downloader"
	pdftext "github.com/JakeFAU/paper-harvester/internal/extract/pdf"
	"github.com/JakeFAU/paper-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/paper-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/paper-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/paper-harvester/internal/report"
	"github.com/JakeFAU/paper-harvester/internal/resultlog"
	"github.com/JakeFAU/paper-harvester/internal/scheduler"
	"github.com/JakeFAU/paper-harvester/internal/storage/local"
)

type crawlFlags struct {
	years       []string
	concurrency int
	summary     string
}

// newCrawlCmd creates the 'crawl' subcommand, which harvests every target year
// into the result log.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvest papers into the result log",
		Long: `Fetches the listing root, every target year's listing and every paper
page, downloads each PDF once, and appends one row per paper to the
result log. Re-running is safe: downloaded PDFs are reused and, with a
catalog configured, papers already in the log are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.years, "year", nil, "restrict to these years (overrides site.target_years)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "max concurrent tasks (overrides crawler.concurrency)")
	cmd.Flags().StringVar(&flags.summary, "summary", "", "write a YAML run summary here (overrides storage.summary_path)")
	return cmd
}

func runCrawl(ctx context.Context, flags crawlFlags) error {
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := a.Config()
	logger := a.Logger()
	if len(flags.years) > 0 {
		cfg.Site.TargetYears = flags.years
	}
	if flags.concurrency > 0 {
		cfg.Crawler.Concurrency = flags.concurrency
	}
	if flags.summary != "" {
		cfg.Storage.SummaryPath = flags.summary
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitRPS,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
	})
	policy := crawler.NewFixedRetryPolicy(cfg.HTTP.MaxAttempts, cfg.Backoff())
	pages := fetcher.NewPages(
		collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Crawler.RespectRobots,
			Timeout:       cfg.AttemptTimeout(),
			MaxBodyBytes:  int(cfg.HTTP.MaxPageBytes),
		}),
		fetcher.NewRetrier(fetcher.RetrierConfig{
			Kind:    "page",
			Timeout: cfg.AttemptTimeout(),
			Policy:  policy,
			Limiter: limiter,
			Logger:  logger.Named("fetch"),
		}),
	)

	store, err := local.New(local.Config{BaseDir: cfg.Storage.ArtifactDir})
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}
	dl := downloader.New(
		downloader.Config{UserAgent: cfg.Crawler.UserAgent},
		&http.Client{},
		store,
		fetcher.NewRetrier(fetcher.RetrierConfig{
			Kind:    "artifact",
			Timeout: cfg.AttemptTimeout(),
			Policy:  policy,
			Limiter: limiter,
			Logger:  logger.Named("download"),
		}),
		logger.Named("download"),
	)

	results, err := resultlog.Open("results", cfg.Storage.ResultLog, logger.Named("resultlog"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := results.Close(); cerr != nil {
			logger.Warn("failed to close result log", zap.Error(cerr))
		}
	}()
	created, err := results.WriteHeader(ctx, crawler.ResultHeader())
	if err != nil {
		return fmt.Errorf("prepare result log: %w", err)
	}

	sched := scheduler.New("crawl", cfg.Crawler.Concurrency, logger.Named("scheduler"))
	deps := crawler.Deps{
		Pages: pages,
		Discoverer: discovery.New(discovery.Selectors{
			Year:     cfg.Site.Selectors.Year,
			Document: cfg.Site.Selectors.Document,
			Artifact: cfg.Site.Selectors.Artifact,
		}, logger.Named("discovery")),
		Downloader: dl,
		Extractor:  pdftext.New(logger.Named("extract")),
		Sink:       results,
		Scheduler:  sched,
		Events:     a.Events(),
		Clock:      system.New(),
		Logger:     logger.Named("pipeline"),
	}
	if catalog := a.Catalog(); catalog != nil {
		// A fresh log has no rows, so nothing the catalog remembers is really persisted.
		if created {
			if err := catalog.Reset(ctx); err != nil {
				return fmt.Errorf("reset catalog: %w", err)
			}
			logger.Info("result log created; catalog reset")
		}
		deps.Catalog = catalog
	}

	pipeline, err := crawler.NewPipeline(crawler.PipelineConfig{
		RootURL:     cfg.RootURL(),
		TargetYears: cfg.Site.TargetYears,
		RunID:       a.RunID(),
	}, deps)
	if err != nil {
		return err
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	a.StartServer(serverCtx, api.Sources{
		Run:       func() any { return pipeline.Snapshot() },
		Scheduler: sched.Stats,
	})

	summary, runErr := pipeline.Run(ctx)
	if cfg.Storage.SummaryPath != "" {
		if err := report.WriteYAML(cfg.Storage.SummaryPath, summary); err != nil {
			logger.Warn("failed to write run summary", zap.Error(err))
		} else {
			logger.Info("run summary written", zap.String("path", cfg.Storage.SummaryPath))
		}
	}
	if runErr != nil {
		return runErr
	}
	if summary.Cancelled {
		return context.Canceled
	}
	return nil
}
