package database

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestDSNEnv names the connection string used by database-backed tests.
const TestDSNEnv = "BACKTEST_CACHE_TEST_DSN"

// SetupTestDB connects to the database named by BACKTEST_CACHE_TEST_DSN and skips the
// test when it is unset.
func SetupTestDB(t testing.TB) *DB {
	t.Helper()

	dsn := os.Getenv(TestDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping database test", TestDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := NewDBFromDSN(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("failed to create test database connection: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}
