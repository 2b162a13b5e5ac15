// Package testing provides testing utilities and helpers for Coinpilot.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/coinpilot/coinpilot/internal/database"
	_ "modernc.org/sqlite"
)

// NewTestDB creates an isolated SQLite database for testing with automatic
// schema migration. Each test gets its own temporary file so parallel tests
// never share state. The cleanup function is safe to call multiple times.
//
// Supported schema names:
//   - "ledger" - cash balance, holdings, trades, execution log
//   - "signals" - recommendations and approval requests
//   - "config" - settings
//   - "history" - price observations
//   - Unknown names create an empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileStandard
	if name == "ledger" {
		profile = database.ProfileLedger
	}

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("Warning: Failed to remove temporary database file %s: %v", tmpPath, err)
		}
	}
}
