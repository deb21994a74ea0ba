package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpattn/sheetpipe/internal/config"
	"github.com/rpattn/sheetpipe/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flowImport  = "import"
	flowProcess = "process"
)

type options struct {
	flow       string
	configPath string
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sheetpipe:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:           "sheetpipe",
		Short:         "Import spreadsheet uploads and process their rows",
		Long:          "sheetpipe polls the uploads table. The import flow loads pending workbooks into upload_rows; the process flow deduplicates and transforms pending rows.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.flow != flowImport && opts.flow != flowProcess {
				return withCode(exitConfig, fmt.Errorf("invalid --flow %q: must be %s or %s", opts.flow, flowImport, flowProcess))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return withCode(exitConfig, err)
			}
			if err := cfg.Validate(); err != nil {
				return withCode(exitConfig, fmt.Errorf("invalid configuration: %w", err))
			}

			logger, err := logging.New(cfg.Log.Env, cfg.Log.Level)
			if err != nil {
				return withCode(exitConfig, err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger = logger.With(zap.String("flow", opts.flow))
			logger.Info("sheetpipe starting")
			if err := run(ctx, cfg, opts.flow, logger); err != nil {
				logger.Error("sheetpipe stopped with error", zap.Error(err))
				return err
			}
			logger.Info("sheetpipe exited")
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.flow, "flow", flowImport, "which pipeline to run: import or process")
	cmd.Flags().StringVar(&opts.configPath, "config", ".", "directory holding config.yaml and .env")
	return cmd
}
