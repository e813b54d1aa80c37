package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/api"
	"github.com/docpilot/docpilot/internal/certificate"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the certificate function over HTTP",
	Long: `Start an HTTP server exposing POST /v1/certificates, which issues a
certificate and uploads it to the configured store, and GET /healthz.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, closeLog, err := setupLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()

		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		svc := certificate.NewService(store, certificateOptions(cfg), logger)

		var opts []api.Option
		if cfg.Server.APIKey != "" {
			opts = append(opts, api.WithAPIKey(cfg.Server.APIKey))
		}
		return api.New(svc, logger, cfg.Server.Addr, opts...).ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}
