//go:build !cgo_sqlite

package store

import (
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver used by Open.
const DriverName = "sqlite"
