// Package config loads the small JSON configuration document that backs
// the CLI's --config flag: store/include defaults and dialect toggles.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// CollectionSettings are per-collection settings read from the config
// file. Nothing applies them: wd:search's activity filter defaults to
// "active" whatever DefaultActivity says.
type CollectionSettings struct {
	DefaultActivity string `json:"default_activity,omitempty"`
}

// Config is the on-disk shape of a wilddoc deployment's settings.
type Config struct {
	Store       string                         `json:"store,omitempty"`        // "memory" or "sqlite"
	SQLitePath  string                         `json:"sqlite_path,omitempty"`
	IncludeRoot string                         `json:"include_root,omitempty"`
	IncludeHTTP bool                           `json:"include_http,omitempty"`
	Dialects    map[string]bool                `json:"dialects,omitempty"`
	Collections map[string]CollectionSettings  `json:"collections,omitempty"`
	// RelationQuantum is read from the config file and defaults to 1000.
	// Nothing reads it after loading; no limit on the rows a wd:update
	// tree allocates is enforced.
	RelationQuantum int64 `json:"relation_quantum,omitempty"`
}

// Load reads and parses a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.RelationQuantum == 0 {
		cfg.RelationQuantum = 1000
	}
	return &cfg, nil
}
