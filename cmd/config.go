package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/config"
)

var (
	configInitForce    bool
	configInitBackend  string
	configInitEndpoint string
	configInitProject  string
	configInitDSN      string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the docpilot config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default settings",
	Long: `Init writes a config file populated with defaults to --config
(default: ~/.docpilot/docpilot.yaml). Secrets are not written; set
api_key to a ${ENV:...}, ${VAULT:...} or ${AWS_SM:...} reference afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.ExpandHome(config.DefaultPath)
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", path, err)
		}

		cfg := config.Default()
		if configInitBackend != "" {
			cfg.Backend.Type = configInitBackend
			if cfg.Backend.Type != config.BackendAppwrite {
				cfg.Backend.Endpoint = ""
			}
		}
		if configInitEndpoint != "" {
			cfg.Backend.Endpoint = configInitEndpoint
		}
		cfg.Backend.ProjectID = configInitProject
		cfg.Backend.DSN = configInitDSN
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
		return nil
	},
}

func init() {
	f := configInitCmd.Flags()
	f.BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	f.StringVar(&configInitBackend, "backend", "", "backend type (appwrite, postgres, sqlite, mongodb)")
	f.StringVar(&configInitEndpoint, "endpoint", "", "Appwrite endpoint")
	f.StringVar(&configInitProject, "project", "", "Appwrite project ID")
	f.StringVar(&configInitDSN, "dsn", "", "connection string for SQL and MongoDB backends")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
