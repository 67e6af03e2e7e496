// Package docstore indexes stored documents per user: the rows behind
// the list/find/delete commands, the processed text chunks behind ask,
// and the short-lived numbered-selection context a user replies to.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Document is one stored document owned by a sender.
type Document struct {
	ID          string
	Sender      string
	Filename    string
	Description string
	MimeType    string
	Location    string
	CreatedAt   time.Time
}

// ChunkHit is a processed-text chunk matching an ask query.
type ChunkHit struct {
	DocumentID string
	Filename   string
	Content    string
}

// Store persists the document index in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		sender      TEXT NOT NULL,
		filename    TEXT NOT NULL,
		description TEXT,
		mime_type   TEXT,
		location    TEXT NOT NULL,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_sender ON documents(sender, created_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		content     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(document_id, seq);

	CREATE TABLE IF NOT EXISTS selections (
		sender       TEXT PRIMARY KEY,
		document_ids TEXT NOT NULL,
		expires_at   DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or replaces a document row. Keyed by the job ID, so a
// resumed pipeline writing the row twice is harmless.
func (s *Store) Put(ctx context.Context, doc Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, sender, filename, description, mime_type, location, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Sender, doc.Filename, doc.Description, doc.MimeType, doc.Location, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns one of the sender's documents, or nil.
func (s *Store) Get(ctx context.Context, sender, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sender, filename, description, mime_type, location, created_at
		 FROM documents WHERE id = ? AND sender = ?`, id, sender)
	return scanDocument(row)
}

// List returns the sender's documents, oldest first.
func (s *Store) List(ctx context.Context, sender string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, filename, description, mime_type, location, created_at
		 FROM documents WHERE sender = ? ORDER BY created_at`, sender)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Search matches the query against filename, description and processed
// chunk text for one sender.
func (s *Store) Search(ctx context.Context, sender, query string) ([]Document, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT d.id, d.sender, d.filename, d.description, d.mime_type, d.location, d.created_at
		 FROM documents d
		 LEFT JOIN document_chunks c ON c.document_id = d.id
		 WHERE d.sender = ?
		   AND (d.filename LIKE ? OR d.description LIKE ? OR c.content LIKE ?)
		 ORDER BY d.created_at`,
		sender, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Delete removes the sender's document and its chunks. Reports whether
// a row was actually deleted.
func (s *Store) Delete(ctx context.Context, sender, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND sender = ?`, id, sender)
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		// Cascade is declared but modernc sqlite has foreign keys off by
		// default per connection, so delete chunks explicitly.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id)
	}
	return n > 0, nil
}

// ReplaceChunks swaps a document's processed chunks in one pass; safe
// to call again when a reclaimed job re-runs processing.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace chunks %s: %w", documentID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("replace chunks %s: %w", documentID, err)
	}
	for i, content := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (document_id, seq, content) VALUES (?, ?, ?)`,
			documentID, i, content); err != nil {
			return fmt.Errorf("replace chunks %s: %w", documentID, err)
		}
	}
	return tx.Commit()
}

// SearchChunks returns processed-text chunks of the sender's documents
// matching the query.
func (s *Store) SearchChunks(ctx context.Context, sender, query string, limit int) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = 3
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.document_id, d.filename, c.content
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.sender = ? AND c.content LIKE ?
		 ORDER BY d.created_at, c.seq LIMIT ?`,
		sender, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.DocumentID, &h.Filename, &h.Content); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// FirstChunk returns the document's leading processed chunk, or "" when
// the document has no searchable text.
func (s *Store) FirstChunk(ctx context.Context, documentID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM document_chunks WHERE document_id = ? ORDER BY seq LIMIT 1`,
		documentID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("first chunk: %w", err)
	}
	return content, nil
}

// SaveSelection remembers the numbered listing last shown to a sender,
// so a bare "2" or "delete 2" reply can be resolved later.
func (s *Store) SaveSelection(ctx context.Context, sender string, ids []string, ttl time.Duration) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO selections (sender, document_ids, expires_at) VALUES (?, ?, ?)`,
		sender, string(data), time.Now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

// GetSelection returns the sender's live selection context, or nil.
func (s *Store) GetSelection(ctx context.Context, sender string) ([]string, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_ids FROM selections WHERE sender = ? AND expires_at > ?`,
		sender, time.Now().UTC()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get selection: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("get selection: %w", err)
	}
	return ids, nil
}

// ClearSelection drops the sender's selection context.
func (s *Store) ClearSelection(ctx context.Context, sender string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM selections WHERE sender = ?`, sender)
	return err
}

// SweepSelections evicts expired selection contexts.
func (s *Store) SweepSelections(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM selections WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("selection sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var desc, mime sql.NullString
	err := row.Scan(&d.ID, &d.Sender, &d.Filename, &desc, &mime, &d.Location, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Description = desc.String
	d.MimeType = mime.String
	return &d, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		var desc, mime sql.NullString
		if err := rows.Scan(&d.ID, &d.Sender, &d.Filename, &desc, &mime, &d.Location, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Description = desc.String
		d.MimeType = mime.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
