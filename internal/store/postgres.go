package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hyperjump/kagami/internal/models"
)

// PostgresStore implements Store against a pgvector-enabled Postgres
// database (e.g. Supabase). Documents live in a single table with a JSONB
// metadata column queried by metadata->>'path'.
type PostgresStore struct {
	db         *sql.DB
	table      string // quoted identifier, safe to interpolate
	rawTable   string
	dimensions int
}

// NewPostgresStore opens a connection pool to dsn. The table is not
// created here; EnsureTable reports a descriptive error with the schema
// SQL when it is missing.
func NewPostgresStore(dsn, table string, dimensions int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{
		db:         db,
		table:      pq.QuoteIdentifier(table),
		rawTable:   table,
		dimensions: dimensions,
	}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// EnsureTable checks that the configured table exists. When it does not,
// the returned error includes the SQL to create it, so the operator can
// paste it into their database console.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`SELECT id FROM %s LIMIT 1`, s.table))
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "does not exist") {
		return fmt.Errorf("table %s does not exist; create it with:\n%s\nerror: %w",
			s.rawTable, s.schemaHint(), err)
	}
	return &Error{Op: "ensure table", Err: err}
}

func (s *PostgresStore) schemaHint() string {
	return fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id bigint primary key generated always as identity,
    content text not null,
    metadata jsonb not null,
    embedding vector(%[2]d),
    created_at timestamp with time zone default now()
);

CREATE INDEX IF NOT EXISTS %[3]s_embedding_idx ON %[1]s
USING hnsw (embedding vector_cosine_ops);`, s.table, s.dimensions, s.rawTable)
}

// Upsert finds the document for doc.Metadata.Path and updates it in place,
// or inserts a new row when absent. doc.ID is populated either way.
func (s *PostgresStore) Upsert(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return &Error{Op: "marshal metadata", Err: err}
	}
	embedding := vectorLiteral(doc.Embedding)

	var id int64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE metadata->>'path' = $1`, s.table),
		doc.Metadata.Path,
	).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		err = s.db.QueryRowContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3) RETURNING id, created_at`, s.table),
			doc.Content, metadataJSON, embedding,
		).Scan(&doc.ID, &doc.CreatedAt)
		if err != nil {
			return &Error{Op: "insert", Err: err}
		}
		return nil
	case err != nil:
		return &Error{Op: "find by path", Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET content = $1, metadata = $2, embedding = $3 WHERE id = $4`, s.table),
		doc.Content, metadataJSON, embedding, id,
	)
	if err != nil {
		return &Error{Op: "update", Err: err}
	}
	doc.ID = id
	return nil
}

// FindByPath returns the live document for path, or nil when absent.
func (s *PostgresStore) FindByPath(ctx context.Context, path string) (*models.Document, error) {
	var doc models.Document
	var metadataJSON []byte
	var embeddingText sql.NullString
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, content, metadata, embedding::text, created_at FROM %s WHERE metadata->>'path' = $1`, s.table),
		path,
	).Scan(&doc.ID, &doc.Content, &metadataJSON, &embeddingText, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "find by path", Err: err}
	}
	if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
		return nil, &Error{Op: "unmarshal metadata", Err: err}
	}
	if embeddingText.Valid {
		doc.Embedding, err = parseVector(embeddingText.String)
		if err != nil {
			return nil, &Error{Op: "parse embedding", Err: err}
		}
	}
	return &doc, nil
}

// DeleteByPath removes the document for path; absent paths are a no-op.
func (s *PostgresStore) DeleteByPath(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'path' = $1`, s.table), path)
	if err != nil {
		return &Error{Op: "delete by path", Err: err}
	}
	return nil
}

// ListPathHashes returns path -> stored content hash for every live document.
func (s *PostgresStore) ListPathHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT metadata->>'path', COALESCE(metadata->>'file_hash', '') FROM %s`, s.table))
	if err != nil {
		return nil, &Error{Op: "list paths", Err: err}
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, &Error{Op: "scan path row", Err: err}
		}
		out[path] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list paths", Err: err}
	}
	return out, nil
}

// CountDocuments returns the number of live documents.
func (s *PostgresStore) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	if err != nil {
		return 0, &Error{Op: "count", Err: err}
	}
	return n, nil
}

// DeleteAll removes every document and returns the number deleted.
func (s *PostgresStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	if err != nil {
		return 0, &Error{Op: "delete all", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}
