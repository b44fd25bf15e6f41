package pgstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"

	"ccabid/store"

	"github.com/go-kit/log"
	"github.com/gofrs/uuid"
	pgx "github.com/jackc/pgx/v4"
)

// NewTestStore creates a throwaway database on the server named by
// PGCONNSTRING and returns a migrated store backed by it. The test is skipped
// when PGCONNSTRING is unset. Databases of failed tests are kept for
// inspection.
func NewTestStore(t *testing.T) store.Store {
	t.Helper()

	connStr := os.Getenv("PGCONNSTRING")
	if connStr == "" {
		t.Skip("PGCONNSTRING not set")
	}

	ctx := context.Background()
	dbName := "ccabid_test_" + strings.ReplaceAll(uuid.Must(uuid.NewV4()).String(), "-", "")

	admin, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "create database "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		admin.Close(ctx)
		t.Fatalf("create %s: %v", dbName, err)
	}

	t.Cleanup(func() {
		defer admin.Close(ctx)
		if t.Failed() {
			t.Logf("keeping database %s", dbName)
			return
		}
		if _, err := admin.Exec(ctx, "drop database "+pgx.Identifier{dbName}.Sanitize()+" with (force)"); err != nil {
			t.Errorf("drop %s: %v", dbName, err)
		}
	})

	testConnStr, err := withDatabase(connStr, dbName)
	if err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(ctx, testConnStr, log.NewNopLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

// withDatabase points a URL or keyword/value connection string at dbName.
func withDatabase(connStr, dbName string) (string, error) {
	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil {
			return "", fmt.Errorf("parse connection string: %w", err)
		}
		u.Path = "/" + dbName
		return u.String(), nil
	}
	return connStr + " dbname=" + dbName, nil
}
