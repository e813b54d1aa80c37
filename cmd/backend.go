package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docpilot/docpilot/internal/appwrite"
	awspkg "github.com/docpilot/docpilot/internal/aws"
	"github.com/docpilot/docpilot/internal/certificate"
	"github.com/docpilot/docpilot/internal/config"
	"github.com/docpilot/docpilot/internal/target"
)

func newAppwriteClient(cfg *config.Config, logger *slog.Logger) (*appwrite.Client, error) {
	return appwrite.New(appwrite.Options{
		Endpoint:  cfg.Backend.Endpoint,
		ProjectID: cfg.Backend.ProjectID,
		APIKey:    cfg.Backend.APIKey,
		Retries:   cfg.Backend.Retries,
		Timeout:   cfg.Backend.Timeout,
		Logger:    logger,
	})
}

// openOperator connects to the configured backend.
func openOperator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (target.Operator, error) {
	var (
		op  target.Operator
		err error
	)
	switch cfg.Backend.Type {
	case config.BackendAppwrite:
		var c *appwrite.Client
		if c, err = newAppwriteClient(cfg, logger); err == nil {
			op = c
		}
	case config.BackendPostgres, config.BackendSQLite:
		var s *target.SQLOperator
		if cfg.Backend.Type == config.BackendPostgres {
			s, err = target.NewPostgresOperator(ctx, cfg.Backend.DSN, logger)
		} else {
			s, err = target.NewSQLiteOperator(ctx, config.ExpandHome(cfg.Backend.DSN), logger)
		}
		if err == nil {
			op = s
		}
	case config.BackendMongo:
		var m *target.MongoOperator
		if m, err = target.NewMongoOperator(ctx, cfg.Backend.DSN, logger); err == nil {
			op = m
		}
	default:
		err = fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Backend.Type, err)
	}
	return op, nil
}

// verifyAppwrite checks that the credentials reach the project. A missing
// database is fine, it is about to be created.
func verifyAppwrite(ctx context.Context, cfg *config.Config, databaseID string, logger *slog.Logger) error {
	client, err := newAppwriteClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close(ctx)
	_, err = client.GetDatabase(ctx, databaseID)
	if err != nil && !errors.Is(err, target.ErrNotFound) {
		return err
	}
	return nil
}

// openStore returns where issued certificates are uploaded.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (certificate.Store, error) {
	switch cfg.Storage.Type {
	case config.StorageAppwrite:
		client, err := newAppwriteClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return appwrite.NewFileStore(client, cfg.Storage.BucketID), nil
	case config.StorageS3:
		client, err := awspkg.NewRealClient(ctx, cfg.Storage.Profile, cfg.Storage.Region)
		if err != nil {
			return nil, err
		}
		identity, err := client.VerifyCredentials(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("using S3 certificate store", "account", identity.Account, "bucket", cfg.Storage.S3Bucket)
		return awspkg.NewObjectStore(client, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func certificateOptions(cfg *config.Config) certificate.Options {
	return certificate.Options{
		KeyBits:  cfg.Certificate.KeyBits,
		Validity: cfg.Certificate.Validity,
	}
}
