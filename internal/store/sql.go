package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/latticefact/runtime/internal/facts"
)

// SQLStore implements Store over database/sql, supporting both Postgres and
// SQLite through the standard driver interface; see OpenSQLite and
// OpenPostgres for the concrete constructors.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-open *sql.DB. Callers must call Init before
// first use.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	type TEXT NOT NULL,
	hash TEXT NOT NULL,
	fields TEXT NOT NULL,
	predecessors TEXT NOT NULL,
	PRIMARY KEY (type, hash)
);
CREATE TABLE IF NOT EXISTS signatures (
	fact_type TEXT NOT NULL,
	fact_hash TEXT NOT NULL,
	public_key TEXT NOT NULL,
	signature TEXT NOT NULL,
	PRIMARY KEY (fact_type, fact_hash, public_key)
);
CREATE TABLE IF NOT EXISTS predecessor_edges (
	fact_type TEXT NOT NULL,
	fact_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	seq INTEGER NOT NULL,
	pred_type TEXT NOT NULL,
	pred_hash TEXT NOT NULL,
	PRIMARY KEY (fact_type, fact_hash, role, seq)
);
CREATE TABLE IF NOT EXISTS bookmarks (
	feed TEXT PRIMARY KEY,
	bookmark TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mru_dates (
	spec_hash TEXT PRIMARY KEY,
	updated_at TIMESTAMP NOT NULL
);
`

// Init creates the schema if it does not already exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) Save(ctx context.Context, envelopes []facts.Envelope) ([]facts.Envelope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var added []facts.Envelope
	for _, env := range envelopes {
		existed, err := s.factExists(ctx, tx, env.Fact.Reference())
		if err != nil {
			return nil, err
		}
		if !existed {
			if err := s.insertFact(ctx, tx, env.Fact); err != nil {
				return nil, err
			}
			added = append(added, env)
		}
		if err := s.mergeSignatures(ctx, tx, env.Fact.Reference(), env.Signatures); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return added, nil
}

func (s *SQLStore) factExists(ctx context.Context, tx *sql.Tx, ref facts.Reference) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM facts WHERE type = $1 AND hash = $2`, ref.Type, ref.Hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) insertFact(ctx context.Context, tx *sql.Tx, f facts.Fact) error {
	fieldsJSON, err := json.Marshal(f.Fields)
	if err != nil {
		return fmt.Errorf("store: marshal fields: %w", err)
	}
	predsJSON, err := json.Marshal(f.Predecessors)
	if err != nil {
		return fmt.Errorf("store: marshal predecessors: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO facts (type, hash, fields, predecessors) VALUES ($1, $2, $3, $4)`,
		f.Type, f.Hash, string(fieldsJSON), string(predsJSON))
	if err != nil {
		return err
	}

	for role, pred := range f.Predecessors {
		for seq, p := range pred.Refs() {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO predecessor_edges (fact_type, fact_hash, role, seq, pred_type, pred_hash) VALUES ($1, $2, $3, $4, $5, $6)`,
				f.Type, f.Hash, role, seq, p.Type, p.Hash)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLStore) mergeSignatures(ctx context.Context, tx *sql.Tx, ref facts.Reference, sigs []facts.Signature) error {
	for _, sig := range sigs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO signatures (fact_type, fact_hash, public_key, signature) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (fact_type, fact_hash, public_key) DO NOTHING`,
			ref.Type, ref.Hash, sig.PublicKey, sig.Signature)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) WhichExist(ctx context.Context, refs []facts.Reference) ([]facts.Reference, error) {
	var out []facts.Reference
	for _, ref := range refs {
		ok, err := s.factExistsDB(ctx, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (s *SQLStore) factExistsDB(ctx context.Context, ref facts.Reference) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM facts WHERE type = $1 AND hash = $2`, ref.Type, ref.Hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) Load(ctx context.Context, refs []facts.Reference) ([]facts.Envelope, error) {
	seen := make(map[facts.Reference]struct{})
	var out []facts.Envelope
	queue := append([]facts.Reference(nil), refs...)
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		env, ok, err := s.loadOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, env)
		for _, pred := range env.Fact.Predecessors {
			queue = append(queue, pred.Refs()...)
		}
	}
	return out, nil
}

func (s *SQLStore) loadOne(ctx context.Context, ref facts.Reference) (facts.Envelope, bool, error) {
	var fieldsJSON, predsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT fields, predecessors FROM facts WHERE type = $1 AND hash = $2`, ref.Type, ref.Hash).
		Scan(&fieldsJSON, &predsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return facts.Envelope{}, false, nil
	}
	if err != nil {
		return facts.Envelope{}, false, err
	}

	var fields map[string]facts.FieldValue
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return facts.Envelope{}, false, fmt.Errorf("store: unmarshal fields: %w", err)
	}
	var preds map[string]facts.Predecessor
	if err := json.Unmarshal([]byte(predsJSON), &preds); err != nil {
		return facts.Envelope{}, false, fmt.Errorf("store: unmarshal predecessors: %w", err)
	}

	sigs, err := s.loadSignatures(ctx, ref)
	if err != nil {
		return facts.Envelope{}, false, err
	}

	f := facts.Fact{Type: ref.Type, Hash: ref.Hash, Fields: fields, Predecessors: preds}
	return facts.Envelope{Fact: f, Signatures: sigs}, true, nil
}

func (s *SQLStore) loadSignatures(ctx context.Context, ref facts.Reference) ([]facts.Signature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT public_key, signature FROM signatures WHERE fact_type = $1 AND fact_hash = $2`, ref.Type, ref.Hash)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sigs []facts.Signature
	for rows.Next() {
		var sig facts.Signature
		if err := rows.Scan(&sig.PublicKey, &sig.Signature); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

func (s *SQLStore) LoadBookmark(ctx context.Context, feed string) (string, error) {
	var bookmark string
	err := s.db.QueryRowContext(ctx, `SELECT bookmark FROM bookmarks WHERE feed = $1`, feed).Scan(&bookmark)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownFeed
	}
	return bookmark, err
}

func (s *SQLStore) SaveBookmark(ctx context.Context, feed, bookmark string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookmarks (feed, bookmark) VALUES ($1, $2)
		 ON CONFLICT (feed) DO UPDATE SET bookmark = excluded.bookmark`,
		feed, bookmark)
	return err
}

func (s *SQLStore) GetMRUDate(ctx context.Context, specHash string) (time.Time, error) {
	var when time.Time
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM mru_dates WHERE spec_hash = $1`, specHash).Scan(&when)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoMRU
	}
	return when, err
}

func (s *SQLStore) SetMRUDate(ctx context.Context, specHash string, when time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mru_dates (spec_hash, updated_at) VALUES ($1, $2)
		 ON CONFLICT (spec_hash) DO UPDATE SET updated_at = excluded.updated_at`,
		specHash, when)
	return err
}

func (s *SQLStore) Purge(ctx context.Context, trigger facts.Reference) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	doomed := make(map[facts.Reference]struct{})
	queue, err := s.successorsOfTx(ctx, tx, trigger, "", "")
	if err != nil {
		return 0, err
	}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, already := doomed[ref]; already {
			continue
		}
		doomed[ref] = struct{}{}
		more, err := s.successorsOfTx(ctx, tx, ref, "", "")
		if err != nil {
			return 0, err
		}
		queue = append(queue, more...)
	}

	for ref := range doomed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE type = $1 AND hash = $2`, ref.Type, ref.Hash); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM signatures WHERE fact_type = $1 AND fact_hash = $2`, ref.Type, ref.Hash); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM predecessor_edges WHERE fact_type = $1 AND fact_hash = $2`, ref.Type, ref.Hash); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM predecessor_edges WHERE pred_type = $1 AND pred_hash = $2`, ref.Type, ref.Hash); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

func (s *SQLStore) GetPredecessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error) {
	query := `SELECT pred_type, pred_hash FROM predecessor_edges WHERE fact_type = $1 AND fact_hash = $2 AND role = $3`
	args := []any{ref.Type, ref.Hash, role}
	if typ != "" {
		query += ` AND pred_type = $4`
		args = append(args, typ)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []facts.Reference
	for rows.Next() {
		var r facts.Reference
		if err := rows.Scan(&r.Type, &r.Hash); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetSuccessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error) {
	return s.successorsOfTx(ctx, nil, ref, role, typ)
}

// successorsOfTx runs the successor-lookup query either standalone (tx nil)
// or within an existing transaction, used by both GetSuccessors and Purge's
// traversal.
func (s *SQLStore) successorsOfTx(ctx context.Context, tx *sql.Tx, ref facts.Reference, role, typ string) ([]facts.Reference, error) {
	query := `SELECT fact_type, fact_hash FROM predecessor_edges WHERE pred_type = $1 AND pred_hash = $2`
	args := []any{ref.Type, ref.Hash}
	n := 2
	if role != "" {
		n++
		query += fmt.Sprintf(` AND role = $%d`, n)
		args = append(args, role)
	}
	if typ != "" {
		n++
		query += fmt.Sprintf(` AND fact_type = $%d`, n)
		args = append(args, typ)
	}
	query += ` ORDER BY seq`

	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []facts.Reference
	for rows.Next() {
		var r facts.Reference
		if err := rows.Scan(&r.Type, &r.Hash); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
