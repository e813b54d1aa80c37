package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/internal/certificate"
)

var (
	certReq    certificate.Request
	certBucket string
	certOutput string
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Issue a PKCS#12 certificate and upload it to storage",
	Long: `Generate a self-signed certificate and private key for a user, bundle
them as a password-protected .pfx file and upload it to the configured store
under the user's uid. The JSON response carries the password and file URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("bucket") {
			cfg.Storage.BucketID = certBucket
		}
		if err := certReq.Validate(); err != nil {
			return err
		}

		logger, closeLog, err := setupLogger(cfg, nil)
		if err != nil {
			return err
		}
		defer closeLog()

		opts := certificateOptions(cfg)
		if certOutput != "" {
			bundle, err := certificate.Generate(certReq, opts)
			if err != nil {
				return err
			}
			if err := os.WriteFile(certOutput, bundle.PFX, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", certOutput, err)
			}
			return printJSON(cmd, &certificate.Response{
				Success:    true,
				Password:   bundle.Password,
				ExpiryDate: bundle.NotAfter.UTC().Format("2006-01-02T15:04:05.000Z"),
				FileURL:    "file://" + certOutput,
				UID:        certReq.UID,
			})
		}

		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		resp, err := certificate.NewService(store, opts, logger).Issue(ctx, certReq)
		if err != nil {
			_, body := certificate.ErrorResponse(err)
			printJSON(cmd, body)
			return err
		}
		return printJSON(cmd, resp)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	f := certCmd.Flags()
	f.StringVar(&certReq.UID, "uid", "", "user/doctor uid, used as the file id (required)")
	f.StringVar(&certReq.UserName, "name", "", "user name, used for the file name (required)")
	f.StringVar(&certReq.CommonName, "common-name", "", "subject common name (default \"DocPilot Certificate\")")
	f.StringVar(&certReq.CountryName, "country", "", "subject country (default \"US\")")
	f.StringVar(&certReq.StateOrProvinceName, "state", "", "subject state or province (default \"State\")")
	f.StringVar(&certReq.LocalityName, "locality", "", "subject locality (default \"City\")")
	f.StringVar(&certReq.OrganizationName, "org", "", "subject organization (default \"DocPilot\")")
	f.StringVar(&certReq.OrganizationalUnitName, "org-unit", "", "subject organizational unit (default \"Development\")")
	f.StringVar(&certReq.Password, "password", "", "bundle password (default: random)")
	f.StringVar(&certBucket, "bucket", "", "Appwrite storage bucket id")
	f.StringVarP(&certOutput, "output", "o", "", "write the bundle to this file instead of uploading it")
	rootCmd.AddCommand(certCmd)
}
