package store

import (
	"database/sql"
	"fmt"
)

// Open opens the database at dataSource with the sqlite driver selected at
// build time and checks that it is reachable, so a bad path fails at startup
// instead of on the first request. The schema is not created; call SetupSchema.
func Open(dataSource string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dataSource)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not reach %s database: %w", DriverName, err)
	}
	return db, nil
}
