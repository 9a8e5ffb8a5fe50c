package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

// ChunkRepository is the source of truth for chunk text. The vector and
// graph backends return chunk IDs with optional payload text; anything they
// cannot materialize is hydrated from here. ListAll feeds the in-process
// keyword index at startup.
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent service startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_project_id ON chunks(project_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ChunkRepository) FetchByIDs(ctx context.Context, chunkIDs []string) (map[string]domain.ChunkRecord, error) {
	if len(chunkIDs) == 0 {
		return map[string]domain.ChunkRecord{}, nil
	}

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
SELECT id, document_id, project_id, position, content
FROM chunks
WHERE id IN (%s)
`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks by ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.ChunkRecord, len(chunkIDs))
	for rows.Next() {
		var record domain.ChunkRecord
		if err := rows.Scan(&record.ChunkID, &record.DocumentID, &record.ProjectID, &record.Position, &record.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out[record.ChunkID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func (r *ChunkRepository) ListAll(ctx context.Context) ([]domain.ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, project_id, position, content
FROM chunks
ORDER BY document_id, position
`)
	if err != nil {
		return nil, fmt.Errorf("query all chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, project_id, position, content
FROM chunks
WHERE document_id = $1
ORDER BY position
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks by document: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]domain.ChunkRecord, error) {
	var out []domain.ChunkRecord
	for rows.Next() {
		var record domain.ChunkRecord
		if err := rows.Scan(&record.ChunkID, &record.DocumentID, &record.ProjectID, &record.Position, &record.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
