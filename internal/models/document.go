// Package models defines core data structures for documents, file records, and change events.
package models

import "time"

// Metadata is the structured metadata stored alongside a document.
// The schema is fixed; optional fields are omitted from JSON when empty so
// older rows remain readable.
type Metadata struct {
	Filename       string    `json:"filename"`
	Path           string    `json:"path"`
	FileSize       int64     `json:"file_size"`
	LastModified   time.Time `json:"last_modified"`
	FileCreated    time.Time `json:"file_created,omitempty"`
	FileHash       string    `json:"file_hash"`
	IsTruncated    bool      `json:"is_truncated"`
	ProcessedAt    time.Time `json:"processed_at"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
}

// Document is a record in the remote collection. ID is assigned by the
// store on insert and is zero for documents that have not been inserted yet.
// Metadata.Path is the functional key: at most one live document per path.
type Document struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// FileRecord is the local view of a file on disk, recomputed on each scan.
// It is never persisted beyond the hash cache.
type FileRecord struct {
	Path        string
	ContentHash string
	Size        int64
	ModifiedAt  time.Time
}
