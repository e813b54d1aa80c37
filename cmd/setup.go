package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/config"
	"github.com/docpilot/docpilot/internal/lock"
	"github.com/docpilot/docpilot/internal/prompt"
	"github.com/docpilot/docpilot/internal/provision"
	"github.com/docpilot/docpilot/internal/report"
	"github.com/docpilot/docpilot/internal/schema"
)

var (
	setupBackend  string
	setupEndpoint string
	setupProject  string
	setupAPIKey   string
	setupDSN      string
	setupSchema   string
	setupDryRun   bool
	setupReport   string
	setupNoPrompt bool
	setupVerbose  bool
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the DocPilot database, collections, attributes and relationships",
	Long: `Provision the declared schema on the configured backend. Existing
entities are left untouched, so the command can be re-run safely. Missing
Appwrite credentials are asked for when running in a terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applySetupFlags(cmd, cfg)

		logger, closeLog, err := setupLogger(cfg, nil)
		if err != nil {
			return err
		}
		defer closeLog()

		decl, err := schema.LoadYAML(cfg.Schema)
		if err != nil {
			return fmt.Errorf("loading declaration: %w", err)
		}

		if missing := cfg.MissingCredentials(); len(missing) > 0 {
			if setupNoPrompt || !isatty.IsTerminal(os.Stdin.Fd()) {
				return fmt.Errorf("missing Appwrite credentials: %s (set them in the config file, the environment or with flags)",
					strings.Join(missing, ", "))
			}
			creds, err := prompt.Run(ctx, prompt.Credentials{
				Endpoint:  cfg.Backend.Endpoint,
				ProjectID: cfg.Backend.ProjectID,
				APIKey:    cfg.Backend.APIKey,
			}, func(ctx context.Context, c prompt.Credentials) error {
				candidate := *cfg
				candidate.Backend.Endpoint, candidate.Backend.ProjectID, candidate.Backend.APIKey = c.Endpoint, c.ProjectID, c.APIKey
				return verifyAppwrite(ctx, &candidate, decl.Database.ID, logger)
			}, os.Stdin, os.Stderr)
			if err != nil {
				return err
			}
			cfg.Backend.Endpoint, cfg.Backend.ProjectID, cfg.Backend.APIKey = creds.Endpoint, creds.ProjectID, creds.APIKey
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		if !setupDryRun {
			if err := lock.Acquire(""); err != nil {
				return err
			}
			defer lock.Release("")
		}

		op, err := openOperator(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer op.Close(context.Background())

		out := cmd.OutOrStdout()
		reporter := report.Multi{report.NewConsole(out, setupVerbose), report.NewLog(logger)}
		p := provision.New(op, decl,
			provision.WithReporter(reporter),
			provision.WithLogger(logger),
			provision.WithReadiness(cfg.Provision.WaitTimeout, cfg.Provision.PollInterval),
		)

		logger.Info("setup started", "backend", cfg.Backend.Type, "database", decl.Database.ID, "dry_run", setupDryRun)
		fmt.Fprintf(out, "Provisioning %s on %s\n\n", decl.Database.ID, describeBackend(cfg))

		if setupDryRun {
			plan, err := p.Plan(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(out, report.FormatPlan(plan))
			return writeReport(cfg, nil, plan, nil)
		}

		res, runErr := p.Run(ctx)
		if runErr != nil {
			// The console reporter only summarizes successful runs.
			fmt.Fprintln(out)
			fmt.Fprint(out, report.FormatText(res))
		}
		if err := writeReport(cfg, res, nil, runErr); err != nil {
			logger.Error("writing report", "error", err)
			if runErr == nil {
				return err
			}
		}
		if runErr != nil {
			var stepErr *provision.StepError
			if errors.As(runErr, &stepErr) {
				return fmt.Errorf("setup failed at %s: %w", stepErr.Step, stepErr.Err)
			}
			return runErr
		}
		return nil
	},
}

func applySetupFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("backend", &cfg.Backend.Type, setupBackend)
	set("endpoint", &cfg.Backend.Endpoint, setupEndpoint)
	set("project", &cfg.Backend.ProjectID, setupProject)
	set("api-key", &cfg.Backend.APIKey, setupAPIKey)
	set("dsn", &cfg.Backend.DSN, setupDSN)
	set("schema", &cfg.Schema, setupSchema)
	if cfg.Backend.Type == config.BackendAppwrite && cfg.Backend.Endpoint == "" {
		cfg.Backend.Endpoint = config.Default().Backend.Endpoint
	}
}

func describeBackend(cfg *config.Config) string {
	if cfg.Backend.Type == config.BackendAppwrite {
		return fmt.Sprintf("appwrite (%s, project %s)", cfg.Backend.Endpoint, cfg.Backend.ProjectID)
	}
	return cfg.Backend.Type
}

func writeReport(cfg *config.Config, res *provision.Result, plan *provision.Plan, runErr error) error {
	if setupReport == "" {
		return nil
	}
	if err := report.WriteJSON(report.NewSummary(cfg.Backend.Type, res, plan, runErr), setupReport); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Report written to %s\n", setupReport)
	return nil
}

func init() {
	f := setupCmd.Flags()
	f.StringVar(&setupBackend, "backend", "", "backend type (appwrite, postgres, sqlite, mongodb)")
	f.StringVar(&setupEndpoint, "endpoint", "", "Appwrite API endpoint")
	f.StringVar(&setupProject, "project", "", "Appwrite project id")
	f.StringVar(&setupAPIKey, "api-key", "", "Appwrite API key")
	f.StringVar(&setupDSN, "dsn", "", "connection string for postgres, sqlite or mongodb")
	f.StringVar(&setupSchema, "schema", "", "declaration file (default: built-in DocPilot schema)")
	f.BoolVar(&setupDryRun, "dry-run", false, "show what would be created without changing anything")
	f.StringVar(&setupReport, "report", "", "write a JSON summary to this file")
	f.BoolVar(&setupNoPrompt, "no-prompt", false, "never prompt for missing credentials")
	f.BoolVarP(&setupVerbose, "verbose", "v", false, "also list entities that already exist")
	rootCmd.AddCommand(setupCmd)
}
