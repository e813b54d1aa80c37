package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/config"
	"github.com/docpilot/docpilot/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "docpilot",
	Short: "DocPilot backend provisioning and certificate tooling",
	Long: `DocPilot provisions the database schema behind the DocPilot medical
application (patients, doctors, appointments, prescriptions) on Appwrite,
PostgreSQL, SQLite or MongoDB, and issues PKCS#12 certificates for doctors.`,
	SilenceUsage: true,
}

func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.docpilot/docpilot.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
}

// loadConfig reads the config file, falling back to defaults when the
// default file does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// setupLogger opens the log file. echo additionally receives every record.
func setupLogger(cfg *config.Config, echo io.Writer) (*slog.Logger, func(), error) {
	logger, closer, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Directory, echo)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { closer.Close() }, nil
}
