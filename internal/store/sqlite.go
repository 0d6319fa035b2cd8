package store

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver used by OpenSQLite.
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and initializes the schema for) a SQLite-backed Store at
// dataSourceName, which may be a file path or ":memory:".
func OpenSQLite(ctx context.Context, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s := NewSQLStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init sqlite schema: %w", err)
	}
	return s, nil
}
