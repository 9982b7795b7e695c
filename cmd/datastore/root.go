package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/config"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/database"
	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	LogLevel string
	cfg      *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "datastore",
		Short:         "Document datastore service",
		Long:          "Serves and maintains document collections on MongoDB, Redis, Badger or in memory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			logger.Init(cfg.LogLevel)
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides LOG_LEVEL")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

// connect initializes a Database Module from the loaded configuration,
// retrying connection failures.
func (o *rootOptions) connect(ctx context.Context) (*database.Module, error) {
	m := database.NewModule()
	db := o.cfg.Database
	if err := database.InitializeWithRetry(ctx, m, db.Config, db.ConnectAttempts, 500*time.Millisecond); err != nil {
		return nil, err
	}
	return m, nil
}
