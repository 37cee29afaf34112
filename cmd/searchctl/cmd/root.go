// Package cmd provides the searchctl commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/app"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchcore/pkg/logger"
)

type globalOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

// NewRootCmd creates the searchctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "searchctl",
		Short: "Index and query searchcore participants",
		Long: `searchctl runs the engine in process against the configured data
directory: it can (re)index participants, run boolean queries, watch
filesystem participants and publish document events to Kafka.

Query syntax:
  Foo                 key in the default categories (decl, ref)
  ref:Foo             key in one category
  decl,ref:Fo*        prefix match
  ~foo                case-insensitive
  /^Fo+$/             regular expression
  decl:Bar ref:Foo    AND (juxtaposition or the AND keyword)
  Foo OR Bar          OR, with parentheses for grouping`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, "text")
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newPublishCmd(opts))
	cmd.AddCommand(newLoadTestCmd())

	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// openLocal builds an in-process engine. Kafka and the metrics registry are
// left out: the CLI neither publishes analytics nor serves /metrics.
func openLocal(ctx context.Context, opts *globalOptions) (*app.App, error) {
	cfg := *opts.cfg
	cfg.Kafka.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Indexer.ReindexOnStart = false
	a, err := app.New(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}
