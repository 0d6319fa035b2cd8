package store

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "postgres" driver used by OpenPostgres.
	_ "github.com/lib/pq"
)

// OpenPostgres opens (and initializes the schema for) a Postgres-backed
// Store at the given DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	s := NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init postgres schema: %w", err)
	}
	return s, nil
}
