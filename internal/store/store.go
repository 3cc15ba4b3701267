// Package store defines the remote document collection interface and its
// postgres and sqlite implementations.
package store

import (
	"context"
	"fmt"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
)

// Store is the remote document collection. Documents are keyed
// functionally by metadata path; the store-assigned ID is opaque to
// callers. All methods return *Error on transport or schema failure, which
// callers treat as retryable-for-this-item rather than fatal, except
// EnsureTable at startup.
type Store interface {
	// Upsert inserts or updates the document for doc.Metadata.Path. It
	// looks up the existing document by path first, so repeated calls for
	// the same path never create duplicates. On insert, doc.ID is set to
	// the store-assigned ID.
	Upsert(ctx context.Context, doc *models.Document) error

	// FindByPath returns the live document for path, or nil when absent.
	FindByPath(ctx context.Context, path string) (*models.Document, error)

	// DeleteByPath removes the document for path. Deleting an absent path
	// is not an error.
	DeleteByPath(ctx context.Context, path string) error

	// ListPathHashes returns every live document's path mapped to its
	// stored content hash, for full-pass diffing.
	ListPathHashes(ctx context.Context) (map[string]string, error)

	// CountDocuments returns the number of live documents.
	CountDocuments(ctx context.Context) (int64, error)

	// DeleteAll removes every document and returns how many were deleted.
	DeleteAll(ctx context.Context) (int64, error)

	// EnsureTable verifies the configured table exists and is reachable.
	// Failure here is fatal at startup.
	EnsureTable(ctx context.Context) error

	Close() error
}

// Error is a store operation failure. It is retryable for the affected
// item: the caller skips the item and leaves the hash cache untouched so
// the mismatch is re-detected on the next cycle.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Open creates the store selected by cfg.Backend.
func Open(cfg *config.StoreConfig, dimensions int) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		return NewPostgresStore(cfg.DSN, cfg.Table, dimensions)
	case "sqlite":
		return NewSQLiteStore(cfg.DSN, cfg.Table)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
