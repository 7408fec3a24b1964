package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/speechquota/bootstrap"
	"github.com/artpar/speechquota/config"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quota HTTP API",
	Long: `Start the speechquota HTTP API.

The server will:
  - Load configuration from speechquota.yaml (or --config)
  - Or load configuration from SPEECHQUOTA_* environment variables
  - Open the configured usage ledger and run migrations
  - Serve admission, usage and wait endpoints under /v1

With a config file and --hot-reload, edits to the plans and quota
sections are applied without a restart (file watch or SIGHUP).

Examples:
  speechquota serve
  speechquota serve --config /etc/speechquota/config.yaml
  SPEECHQUOTA_STORAGE_DRIVER=redis SPEECHQUOTA_REDIS_ADDR=cache:6379 speechquota serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := bootstrap.SetupLogger(cfg.Logging, os.Stdout)

	opts := bootstrap.Options{Logger: &logger, Build: buildInfo()}
	if _, statErr := os.Stat(cfgFile); statErr == nil && hotReload {
		holder, err := config.NewHolder(cfgFile, logger)
		if err != nil {
			return err
		}
		cfg = holder.Get()
		opts.Holder = holder
		logger.Info().Strs("reloadable", config.ReloadableFields()).Msg("hot reload enabled")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
