package ledger

import (
	"errors"
	"strings"

	logx "newsbot/pkg/logx"
)

// Open initializes the configured ledger, creating its storage if absent.
func Open(cfg Config, log logx.Logger) (Ledger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown ledger driver: " + driver)
	}
}
