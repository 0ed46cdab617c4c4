package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/annotate"
	"github.com/JakeFAU/paper-harvester/internal/api"
	"github.com/JakeFAU/paper-harvester/internal/classifier"
	"github.com/JakeFAU/paper-harvester/internal/clock/system"
	"github.com/JakeFAU/paper-harvester/internal/crawler"
	"github.com/JakeFAU/paper-harvester/internal/report"
	"github.com/JakeFAU/paper-harvester/internal/resultlog"
	"github.com/JakeFAU/paper-harvester/internal/scheduler"
)

type annotateFlags struct {
	input       string
	output      string
	concurrency int
	summary     string
}

// newAnnotateCmd creates the 'annotate' subcommand.
func newAnnotateCmd() *cobra.Command {
	var flags annotateFlags
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Classify every paper in the result log",
		Long: `Reads the result log, classifies each title concurrently and writes the
rows plus a Category column to the annotated log, replacing it. Papers
whose classification fails are left out and reported in the logs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnnotate(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.input, "input", "", "result log to read (overrides storage.result_log)")
	cmd.Flags().StringVar(&flags.output, "output", "", "annotated log to write (overrides storage.annotated_log)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "max concurrent classifications (overrides annotate.concurrency)")
	cmd.Flags().StringVar(&flags.summary, "summary", "", "write a YAML summary of the pass here")
	return cmd
}

func runAnnotate(ctx context.Context, flags annotateFlags) error {
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := a.Config()
	logger := a.Logger()
	input := firstNonEmpty(flags.input, cfg.Storage.ResultLog)
	output := firstNonEmpty(flags.output, cfg.Storage.AnnotatedLog)
	if samePath(input, output) {
		return fmt.Errorf("annotated log %q would overwrite the result log it reads", output)
	}
	concurrency := cfg.Annotate.Concurrency
	if flags.concurrency > 0 {
		concurrency = flags.concurrency
	}

	var c crawler.Classifier
	if cfg.Annotate.ClassifierURL != "" {
		c = classifier.NewHTTPClient(cfg.Annotate.ClassifierURL, cfg.Annotate.ClassifierAPIKey, cfg.ClassifierTimeout())
		logger.Info("using classification service", zap.String("url", cfg.Annotate.ClassifierURL))
	} else {
		c = classifier.NewKeyword(cfg.Annotate.KeywordRules, cfg.Annotate.KeywordFallback)
		logger.Info("using keyword classifier")
	}

	out, err := resultlog.Create("annotated", output, logger.Named("resultlog"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Warn("failed to close annotated log", zap.Error(cerr))
		}
	}()
	if _, err := out.WriteHeader(ctx, crawler.AnnotatedHeader()); err != nil {
		return fmt.Errorf("prepare annotated log: %w", err)
	}

	sched := scheduler.New("annotate", concurrency, logger.Named("scheduler"))
	annotator, err := annotate.New(annotate.Config{InputPath: input, RunID: a.RunID()}, annotate.Deps{
		Classifier: c,
		Sink:       out,
		Scheduler:  sched,
		Events:     a.Events(),
		Clock:      system.New(),
		Logger:     logger.Named("annotate"),
	})
	if err != nil {
		return err
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	a.StartServer(serverCtx, api.Sources{
		Run:       func() any { return annotator.Snapshot() },
		Scheduler: sched.Stats,
	})

	summary, runErr := annotator.Run(ctx)
	if flags.summary != "" {
		if err := report.WriteYAML(flags.summary, summary); err != nil {
			logger.Warn("failed to write annotation summary", zap.Error(err))
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

// samePath reports whether two paths name the same file location.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
