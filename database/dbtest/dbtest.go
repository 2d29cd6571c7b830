// Package dbtest opens the Postgres database used by integration tests.
package dbtest

import (
	"os"
	"strings"
	"testing"

	"newsletter-backend/database"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const DSNEnv = "NEWSLETTER_POSTGRES_DSN"

// Open connects to NEWSLETTER_POSTGRES_DSN, migrates it and empties every
// table. The test is skipped when the variable is not set.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(DSNEnv))
	if dsn == "" {
		t.Skip(DSNEnv + " not set")
	}

	db, err := database.Open(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := database.Close(db); err != nil {
			t.Errorf("cleanup: close db: %v", err)
		}
	})

	require.NoError(t, database.Migrate(db))
	Truncate(t, db)

	return db
}

// Truncate empties all application tables.
func Truncate(t *testing.T, db *gorm.DB) {
	t.Helper()

	require.NoError(t, db.Exec(`TRUNCATE TABLE
		idempotency,
		issue_delivery_failures,
		issue_delivery_queue,
		newsletter_issues,
		subscription_tokens,
		subscriptions,
		users
		CASCADE`).Error)
}
