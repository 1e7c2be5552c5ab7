package schedstore

import (
	"errors"
	"strings"

	logx "govrun/pkg/logx"
)

// Open initializes the configured store driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown schedule store driver: " + cfg.Driver)
	}
}
