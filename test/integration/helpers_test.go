//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/docpilot/docpilot/internal/provision"
	"github.com/docpilot/docpilot/internal/schema"
	"github.com/docpilot/docpilot/internal/target"
)

func pgConnString(t *testing.T) string {
	t.Helper()
	host := envOrDefault("DOCPILOT_TEST_PG_HOST", "localhost")
	port := envOrDefault("DOCPILOT_TEST_PG_PORT", "25432")
	db := envOrDefault("DOCPILOT_TEST_PG_DATABASE", "docpilot_test")
	user := envOrDefault("DOCPILOT_TEST_PG_USER", "postgres")
	pass := envOrDefault("DOCPILOT_TEST_PG_PASSWORD", "postgres")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, db)
}

func mongoURI(t *testing.T) string {
	t.Helper()
	return envOrDefault("DOCPILOT_TEST_MONGO_URI", "mongodb://localhost:37017/?directConnection=true")
}

func skipIfNoPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("DOCPILOT_TEST_PG_HOST") == "" && os.Getenv("DOCPILOT_TEST_PG_PORT") == "" {
		t.Skip("skipping: DOCPILOT_TEST_PG_HOST/PORT not set")
	}
}

func skipIfNoMongo(t *testing.T) {
	t.Helper()
	if os.Getenv("DOCPILOT_TEST_MONGO_URI") == "" {
		t.Skip("skipping: DOCPILOT_TEST_MONGO_URI not set")
	}
}

func skipIfNoAppwrite(t *testing.T) {
	t.Helper()
	if os.Getenv("DOCPILOT_TEST_APPWRITE_PROJECT") == "" || os.Getenv("DOCPILOT_TEST_APPWRITE_KEY") == "" {
		t.Skip("skipping: DOCPILOT_TEST_APPWRITE_PROJECT/KEY not set")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// uniqueDeclaration is the DocPilot declaration under a fresh database id so
// repeated runs do not see each other's state.
func uniqueDeclaration() *schema.Declaration {
	decl := schema.Default()
	decl.Database.ID = fmt.Sprintf("it%d", time.Now().UnixNano())
	return decl
}

// provisionTwice runs the provisioner twice and checks the second run
// creates nothing.
func provisionTwice(t *testing.T, op target.Operator, decl *schema.Declaration) *provision.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	p := provision.New(op, decl, provision.WithLogger(testLogger()),
		provision.WithReadiness(2*time.Minute, time.Second))

	first, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.DatabaseCreated {
		t.Error("first run should create the database")
	}
	if len(first.Collections) != len(decl.Collections) {
		t.Errorf("expected %d collections, got %d", len(decl.Collections), len(first.Collections))
	}

	second, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := second.CreatedCount(); n != 0 {
		t.Errorf("second run created %d entities", n)
	}
	return first
}
