// Package testutil holds helpers shared by MySQL integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/iliyamo/slot-reservation/internal/database"
)

const defaultTestDSN = "slots:slots@tcp(localhost:3306)/slots_test?charset=utf8mb4&parseTime=true&loc=UTC"

// NewTestDB connects to TEST_MYSQL_DSN (or a local default), applies the
// migrations and empties the slot tables.  The test is skipped when the
// database is unreachable.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		dsn = defaultTestDSN
	}
	db, err := database.OpenDSN(dsn)
	if err != nil {
		t.Skipf("skipping MySQL integration tests: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if _, err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	for _, table := range []string{"slots", "provider_hours", "provider_services"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return db
}
