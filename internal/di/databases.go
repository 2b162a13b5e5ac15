package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/database"
)

// InitializeDatabases opens and migrates all four databases. The ledger
// carries cash, holdings, trades and the audit trail in one file so that
// the executor's transaction covers all of them.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	c.LedgerDB = ledgerDB

	signalsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "signals.db"),
		Profile: database.ProfileStandard,
		Name:    "signals",
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open signals database: %w", err)
	}
	c.SignalsDB = signalsDB

	configDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "config.db"),
		Profile: database.ProfileStandard,
		Name:    "config",
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open config database: %w", err)
	}
	c.ConfigDB = configDB

	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	c.HistoryDB = historyDB

	for _, db := range c.Databases() {
		if err := db.Migrate(); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return c, nil
}
