package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/latticefact/runtime/internal/facts"
)

func TestSQLStore_Save_InsertsNewFact(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db)
	f := mustFact(t, "Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	env := facts.Envelope{Fact: f, Signatures: []facts.Signature{{PublicKey: "k1", Signature: "sig1"}}}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM facts").
		WithArgs(f.Type, f.Hash).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO facts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO signatures").
		WithArgs(f.Type, f.Hash, "k1", "sig1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	added, err := s.Save(context.Background(), []facts.Envelope{env})
	require.NoError(t, err)
	require.Len(t, added, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Save_ExistingFactOnlyMergesSignatures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db)
	f := mustFact(t, "Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	env := facts.Envelope{Fact: f, Signatures: []facts.Signature{{PublicKey: "k2", Signature: "sig2"}}}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM facts").
		WithArgs(f.Type, f.Hash).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("INSERT INTO signatures").
		WithArgs(f.Type, f.Hash, "k2", "sig2").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	added, err := s.Save(context.Background(), []facts.Envelope{env})
	require.NoError(t, err)
	require.Empty(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadOne_ReconstructsFactAndSignatures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db)
	ref := facts.Reference{Type: "Msg", Hash: "h1"}

	mock.ExpectQuery("SELECT fields, predecessors FROM facts").
		WithArgs(ref.Type, ref.Hash).
		WillReturnRows(sqlmock.NewRows([]string{"fields", "predecessors"}).
			AddRow(`{"text":"hi"}`, `{}`))
	mock.ExpectQuery("SELECT public_key, signature FROM signatures").
		WithArgs(ref.Type, ref.Hash).
		WillReturnRows(sqlmock.NewRows([]string{"public_key", "signature"}).
			AddRow("k1", "sig1"))

	envs, err := s.Load(context.Background(), []facts.Reference{ref})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.Equal(t, "hi", envs[0].Fact.Fields["text"])
	require.Len(t, envs[0].Signatures, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadBookmark_UnknownFeed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db)
	mock.ExpectQuery("SELECT bookmark FROM bookmarks").
		WithArgs("feed-1").
		WillReturnError(sql.ErrNoRows)

	_, err = s.LoadBookmark(context.Background(), "feed-1")
	require.ErrorIs(t, err, ErrUnknownFeed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveBookmark_Upserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db)
	mock.ExpectExec("INSERT INTO bookmarks").
		WithArgs("feed-1", "cursor-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveBookmark(context.Background(), "feed-1", "cursor-a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_MRUDate_SetAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO mru_dates").
		WithArgs("spec-hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SetMRUDate(context.Background(), "spec-hash", now))

	mock.ExpectQuery("SELECT updated_at FROM mru_dates").
		WithArgs("spec-hash").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	got, err := s.GetMRUDate(context.Background(), "spec-hash")
	require.NoError(t, err)
	require.True(t, now.Equal(got))
	require.NoError(t, mock.ExpectationsWereMet())
}
