//go:build cgo_sqlite

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used by Open.
const DriverName = "sqlite3"
