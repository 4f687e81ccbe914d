// Package testdb provisions a throwaway Postgres database per test.
package testdb

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DSNEnv points at any database on the server used for integration tests.
const DSNEnv = "POSTGRES_DSN_TEST"

// NewDSN creates an empty database and returns its DSN. The database is
// dropped when the test finishes. Tests are skipped when DSNEnv is unset.
func NewDSN(t *testing.T) string {
	t.Helper()
	baseDSN := strings.TrimSpace(os.Getenv(DSNEnv))
	if baseDSN == "" {
		t.Skip(DSNEnv + " not set")
	}
	adminDSN := os.Getenv("POSTGRES_ADMIN_DSN")
	if adminDSN == "" {
		adminDSN = withDatabase(baseDSN, "postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adminConn, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}

	dbName := "auditchain_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := adminConn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		_ = adminConn.Close(context.Background())
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{dbName}.Sanitize()+" WITH (FORCE)")
		_ = adminConn.Close(ctx)
	})
	return withDatabase(baseDSN, dbName)
}

func withDatabase(dsn string, dbName string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	parsed.Path = "/" + dbName
	return parsed.String()
}
