package database

import (
	"fmt"
	"path/filepath"

	"canonical-go/internal/canonical"
	"canonical-go/internal/config"
)

// NewIndexFromConfig creates a LedgerIndex implementation based on the
// database config type.
func NewIndexFromConfig(cfg config.DatabaseConfig) (canonical.LedgerIndex, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteIndex(filepath.Join(cfg.DataDir, "ledger.db"))
	case "memory":
		return NewSQLiteIndex(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
