// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/app"
	"github.com/JakeFAU/paper-harvester/internal/config"
	"github.com/JakeFAU/paper-harvester/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const closeTimeout = 15 * time.Second

// newApp is the application factory. It's a variable so tests can swap in a
// factory with an isolated metrics registry.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, app.Options{Config: cfg, Logger: logger})
}

// newRootCmd creates and configures the root command. built receives the App
// once PersistentPreRunE has created it so the caller can close it even when
// the subcommand fails.
func newRootCmd(built func(*app.App)) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests conference proceedings into a CSV result log.",
		Long: `harvester walks a proceedings site year by year, downloads every paper's
PDF, extracts a short excerpt and appends one row per paper to a CSV log.
The annotate subcommand classifies an existing log into a second CSV.`,
		SilenceUsage: true,

		// This hook runs BEFORE the subcommand's RunE and injects the App.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built(appInstance)

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and PAPERHARVEST_* env vars apply)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newAnnotateCmd())

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	var appInstance *app.App
	root := newRootCmd(func(a *app.App) { appInstance = a })
	root.SetArgs(args)

	runErr := root.ExecuteContext(ctx)

	if appInstance != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		if err := appInstance.Close(closeCtx); err != nil {
			appInstance.Logger().Warn("error closing application services", zap.Error(err))
		}
		cancel()
		_ = appInstance.Logger().Sync()
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
			return 130
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
