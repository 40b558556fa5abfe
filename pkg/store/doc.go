/*
Package store persists trained word models in a SQL database.

Each model is stored as a metadata row plus its three distributions, encoded as
little-endian float64 blobs so that a saved model loads back bit for bit. The
schema targets SQLite. Open uses modernc.org/sqlite by default, or
github.com/mattn/go-sqlite3 when built with the cgo_sqlite tag.
*/
package store
