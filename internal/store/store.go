// Package store defines the document store contract the router and worker
// dispatch against. The Redis implementation lives in the redis sub-package.
package store

import (
	"context"
	"errors"

	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
)

// ErrStoreUnavailable is returned when the liveness check fails before a
// store operation; the operation itself is never attempted.
var ErrStoreUnavailable = errors.New("store unreachable")

// ErrNotFound is returned by GetKeeper for an unknown document id.
var ErrNotFound = errors.New("document not found")

// SearchResults is a score-ranked result set plus the elapsed-time metric.
// Constructed fresh per search call, never persisted.
type SearchResults struct {
	Results []msgpkg.DocumentResult
	TookMs  int64
}

// OpResult reports the outcome of an update or delete.
type OpResult struct {
	OK      bool
	Message string
}

// Searcher is the document store client contract. Every operation performs a
// liveness check first and short-circuits with ErrStoreUnavailable (or an
// OpResult carrying its text) when the store does not respond.
type Searcher interface {
	Search(ctx context.Context, query string) (SearchResults, error)
	GetKeeper(ctx context.Context, id string) (msgpkg.DocumentResult, error)
	UpdateTags(ctx context.Context, ids []string, tags string) (OpResult, error)
	Delete(ctx context.Context, ids []string) (OpResult, error)
	// Index writes a document so it becomes searchable. Used by the indexing
	// worker, not by the gateway's request paths.
	Index(ctx context.Context, doc msgpkg.Document) error
	Ping(ctx context.Context) error
}
