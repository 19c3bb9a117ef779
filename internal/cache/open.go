package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"

	"github.com/uayebforever/clan-stats/internal/core"
)

// Backend kinds accepted by OpenBackend.
const (
	KindMemory     = "memory"
	KindFilesystem = "filesystem"
	KindSQLite     = "sqlite"
	KindValkey     = "valkey"
)

// BackendKinds lists the accepted backend kinds.
var BackendKinds = []string{KindMemory, KindFilesystem, KindSQLite, KindValkey}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Kind   string
	Dir    string
	Valkey ValkeyConfig
	Debug  bool
	Clock  clockwork.Clock
}

// OpenBackend creates the backend described by cfg.
func OpenBackend[R Record](ctx context.Context, cfg BackendConfig) (Backend[R], error) {
	dir := cfg.Dir
	if dir == "" {
		dir = core.CacheRoot()
	}

	switch cfg.Kind {
	case KindMemory:
		return NewMemoryBackend[R](), nil
	case KindFilesystem, "":
		return NewFilesystemBackend[R](dir, cfg.Clock), nil
	case KindSQLite:
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err := core.OpenSQLite(filepath.Join(dir, "cache.sqlite"), cfg.Debug)
		if err != nil {
			return nil, err
		}
		return NewGormBackend[R](ctx, db)
	case KindValkey:
		return NewValkeyBackend[R](cfg.Valkey)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Kind)
	}
}
