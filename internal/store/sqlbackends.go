//go:build cgo

// Package store — alternate SQL backend registration.
//
// The default backend (internal/store/sqlstore, modernc.org/sqlite) is pure
// Go. Building with cgo enabled additionally registers the cgo sqlite3
// driver; sqlstore.Open's schema is ANSI-portable enough to run unmodified
// against it by passing driver name "sqlite3" instead of "sqlite" to
// database/sql.
package store

import (
	_ "github.com/mattn/go-sqlite3"
)
