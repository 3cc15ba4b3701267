package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kagami/internal/models"
)

// SQLiteStore implements Store against a local SQLite file. It mirrors the
// postgres schema with JSON metadata queried by json_extract and the
// embedding stored in the same text encoding, so the two backends are
// interchangeable for local use and tests.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore opens or creates the database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath, table string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db, table: quoteSQLiteIdent(table)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func quoteSQLiteIdent(name string) string {
	// Double-quote and escape embedded quotes, same rule postgres uses.
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}

func (s *SQLiteStore) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		embedding TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_path ON %[1]s (json_extract(metadata, '$.path'));
	`, s.table)
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureTable verifies the table is queryable. The sqlite backend creates
// its own schema, so this only guards against an unreadable database file.
func (s *SQLiteStore) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`SELECT id FROM %s LIMIT 1`, s.table)); err != nil {
		return &Error{Op: "ensure table", Err: err}
	}
	return nil
}

// Upsert finds the document for doc.Metadata.Path and updates it in place,
// or inserts a new row when absent. doc.ID is populated either way.
func (s *SQLiteStore) Upsert(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return &Error{Op: "marshal metadata", Err: err}
	}
	embedding := vectorLiteral(doc.Embedding)

	var id int64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE json_extract(metadata, '$.path') = ?`, s.table),
		doc.Metadata.Path,
	).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (content, metadata, embedding, created_at) VALUES (?, ?, ?, ?)`, s.table),
			doc.Content, string(metadataJSON), embedding, now,
		)
		if err != nil {
			return &Error{Op: "insert", Err: err}
		}
		doc.ID, err = res.LastInsertId()
		if err != nil {
			return &Error{Op: "insert id", Err: err}
		}
		doc.CreatedAt = now
		return nil
	case err != nil:
		return &Error{Op: "find by path", Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET content = ?, metadata = ?, embedding = ? WHERE id = ?`, s.table),
		doc.Content, string(metadataJSON), embedding, id,
	)
	if err != nil {
		return &Error{Op: "update", Err: err}
	}
	doc.ID = id
	return nil
}

// FindByPath returns the live document for path, or nil when absent.
func (s *SQLiteStore) FindByPath(ctx context.Context, path string) (*models.Document, error) {
	var doc models.Document
	var metadataJSON string
	var embeddingText sql.NullString
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, content, metadata, embedding, created_at FROM %s WHERE json_extract(metadata, '$.path') = ?`, s.table),
		path,
	).Scan(&doc.ID, &doc.Content, &metadataJSON, &embeddingText, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "find by path", Err: err}
	}
	if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
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
func (s *SQLiteStore) DeleteByPath(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE json_extract(metadata, '$.path') = ?`, s.table), path)
	if err != nil {
		return &Error{Op: "delete by path", Err: err}
	}
	return nil
}

// ListPathHashes returns path -> stored content hash for every live document.
func (s *SQLiteStore) ListPathHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT json_extract(metadata, '$.path'), COALESCE(json_extract(metadata, '$.file_hash'), '') FROM %s`, s.table))
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
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	if err != nil {
		return 0, &Error{Op: "count", Err: err}
	}
	return n, nil
}

// DeleteAll removes every document and returns the number deleted.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	if err != nil {
		return 0, &Error{Op: "delete all", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}
