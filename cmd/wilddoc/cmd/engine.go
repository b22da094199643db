package cmd

import (
	"fmt"

	"github.com/helix90/wilddoc/internal/config"
	"github.com/helix90/wilddoc/pkg/wilddoc"
)

// buildEngine merges --config file settings with explicit flags, flags
// taking precedence since cobra leaves their zero value indistinguishable
// from "not set" only for bools/strings we treat as opt-in overrides here.
func buildEngine() (*wilddoc.Engine, error) {
	store, sqlite, root, http, js := storeKind, sqlitePath, includeRoot, includeHTTP, enableJS

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if store == "" || store == "memory" {
			if cfg.Store != "" {
				store = cfg.Store
			}
		}
		if sqlite == "" {
			sqlite = cfg.SQLitePath
		}
		if root == "" {
			root = cfg.IncludeRoot
		}
		http = http || cfg.IncludeHTTP
		js = js || cfg.Dialects["js"]
	}

	kind := wilddoc.StoreMemory
	if store == "sqlite" {
		kind = wilddoc.StoreSQLite
	}
	if kind == wilddoc.StoreSQLite && sqlite == "" {
		return nil, fmt.Errorf("--sqlite-path (or config sqlite_path) is required when --store=sqlite")
	}

	return wilddoc.New(wilddoc.Options{
		Store:         kind,
		SQLitePath:    sqlite,
		IncludeRoot:   root,
		IncludeHTTP:   http,
		CacheIncludes: true,
		EnableJS:      js,
		Logger:        logger(),
	})
}
