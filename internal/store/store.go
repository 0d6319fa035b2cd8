// Package store implements the Fact Store (component C4): content-addressed
// envelope storage, bookmarks, and per-specification MRU timestamps, with
// in-memory, SQLite, and Postgres backends sharing one contract.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/latticefact/runtime/internal/facts"
)

// ErrUnknownFeed is returned by LoadBookmark when no bookmark has ever been
// saved for the given feed.
var ErrUnknownFeed = errors.New("store: unknown feed")

// ErrNoMRU is returned by GetMRUDate when no timestamp has been recorded for
// the given specification hash.
var ErrNoMRU = errors.New("store: no mru date recorded")

// Store is the fact store contract from spec.md §4.4. Identity lookup is by
// (type, hash); Save is the only mutation and must be observable atomically
// per envelope.
type Store interface {
	// Save inserts new envelopes and merges signatures into existing ones.
	// Returns only the envelopes whose fact was newly added, not ones that
	// existed already and merely received new signatures. Idempotent.
	Save(ctx context.Context, envelopes []facts.Envelope) ([]facts.Envelope, error)

	// WhichExist returns the subset of refs already stored.
	WhichExist(ctx context.Context, refs []facts.Reference) ([]facts.Reference, error)

	// Load returns the transitive closure of fact envelopes reachable via
	// predecessor edges from refs, each included exactly once.
	Load(ctx context.Context, refs []facts.Reference) ([]facts.Envelope, error)

	// LoadBookmark returns the persisted cursor for feed, or ErrUnknownFeed.
	LoadBookmark(ctx context.Context, feed string) (string, error)
	// SaveBookmark persists the cursor for feed.
	SaveBookmark(ctx context.Context, feed, bookmark string) error

	// GetMRUDate returns the cached most-recently-updated timestamp for a
	// specification hash, or ErrNoMRU.
	GetMRUDate(ctx context.Context, specHash string) (time.Time, error)
	// SetMRUDate caches the most-recently-updated timestamp.
	SetMRUDate(ctx context.Context, specHash string, when time.Time) error

	// Purge removes all successors (transitive descendants) of trigger; the
	// trigger fact and its ancestors are preserved. Returns the number of
	// facts removed.
	Purge(ctx context.Context, trigger facts.Reference) (int, error)

	// GetPredecessors and GetSuccessors implement evaluator.GraphReader so a
	// Store can be passed directly to evaluator.New.
	GetPredecessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error)
	GetSuccessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error)
}
