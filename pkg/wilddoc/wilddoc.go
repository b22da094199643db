// Package wilddoc is the public entry point: it wires a store backend, an
// include resolver and the script-dialect registry into an internal/eval
// Config and exposes a single Run call, turning one request into one
// Config-driven evaluation.
package wilddoc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helix90/wilddoc/internal/eval"
	"github.com/helix90/wilddoc/internal/include"
	"github.com/helix90/wilddoc/internal/script"
	"github.com/helix90/wilddoc/internal/script/jsengine"
	"github.com/helix90/wilddoc/internal/script/varengine"
	"github.com/helix90/wilddoc/internal/store"
	"github.com/helix90/wilddoc/internal/store/memstore"
	"github.com/helix90/wilddoc/internal/store/sqlstore"
	"github.com/helix90/wilddoc/internal/value"
	"github.com/helix90/wilddoc/internal/varstack"
)

// StoreKind selects a record-store backend.
type StoreKind string

const (
	// StoreMemory is the in-memory backend: fast, full join resolution,
	// gone when the process exits.
	StoreMemory StoreKind = "memory"
	// StoreSQLite persists collections to a SQLite file via
	// modernc.org/sqlite; join resolution matches StoreMemory's.
	StoreSQLite StoreKind = "sqlite"
)

// Options configures one Engine: which store backend to run against, where
// includes resolve from, and whether the "js" dialect is available.
type Options struct {
	Store      StoreKind
	SQLitePath string // required when Store == StoreSQLite

	IncludeRoot   string // filesystem root for wd:include; "" disables fs includes
	IncludeHTTP   bool   // allow http(s):// include sources
	CacheIncludes bool

	EnableJS bool // register the "js" dialect (each Run gets its own V8 isolate)

	Logger *slog.Logger // defaults to slog.Default() when nil
}

// Engine is a configured, reusable entry point: build one per process (or
// per request, for a store that wants isolation) and call Run as many
// times as needed. The underlying store and include resolver are shared
// and safe for concurrent Run calls; script engines are rebuilt fresh per
// call (see eval.NewScripts).
type Engine struct {
	cfg eval.Config
}

// New builds an Engine from Options, opening the configured store backend.
func New(opts Options) (*Engine, error) {
	var backend store.Store
	switch opts.Store {
	case StoreSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("wilddoc: sqlite store requires SQLitePath")
		}
		s, err := sqlstore.Open(opts.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("wilddoc: open sqlite store: %w", err)
		}
		backend = s
	case StoreMemory, "":
		backend = memstore.New()
	default:
		return nil, fmt.Errorf("wilddoc: unknown store kind %q", opts.Store)
	}

	resolver := buildIncludeResolver(opts)

	return &Engine{
		cfg: eval.Config{
			Store:   backend,
			Include: resolver,
			Scripts: buildScriptsFactory(opts),
			Logger:  opts.Logger,
		},
	}, nil
}

func buildIncludeResolver(opts Options) include.Resolver {
	var chain include.MultiResolver
	if opts.IncludeRoot != "" {
		chain = append(chain, include.FSResolver{Root: opts.IncludeRoot})
	}
	if opts.IncludeHTTP {
		chain = append(chain, include.HTTPResolver{})
	}
	var resolver include.Resolver = chain
	if opts.CacheIncludes {
		resolver = include.NewCachingResolver(resolver)
	}
	return resolver
}

// buildScriptsFactory returns the per-evaluation script registry builder:
// "var" is stateless and shared, "js" (if enabled) gets a fresh V8
// isolate/context bound to that evaluation's own stack, closed when the
// evaluation finishes.
func buildScriptsFactory(opts Options) eval.NewScripts {
	return func(stack *varstack.Stack) (*script.Registry, func()) {
		reg := script.NewRegistry()
		reg.Register(varengine.New())

		if !opts.EnableJS {
			return reg, func() {}
		}
		js, err := jsengine.New(stack)
		if err != nil {
			return reg, func() {}
		}
		reg.Register(js)
		return reg, js.Close
	}
}

// Run evaluates template against input (a JSON document; nil or empty
// means "{}"), returning the rendered body and the collected options
// side-channel (the global frame snapshot).
func (e *Engine) Run(ctx context.Context, template, input []byte) ([]byte, *value.Object, error) {
	return eval.Run(ctx, e.cfg, template, input)
}

// Store exposes the underlying record store, for callers that need
// maintenance access (session GC on a timer, collection inspection)
// outside of a template evaluation.
func (e *Engine) Store() store.Store {
	return e.cfg.Store
}
