// Package postgres persists the upload ledger.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
)

const schemaLockKey int64 = 2026101501

type UploadRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *UploadRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Several instances may start at once.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS uploads (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	format TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	extracted_chars INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	purged_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_uploads_session_id ON uploads(session_id);
CREATE INDEX IF NOT EXISTS idx_uploads_storage_key ON uploads(storage_key);
`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *UploadRepository) Record(ctx context.Context, file *domain.UploadedFile) error {
	if file == nil {
		return domain.WrapError(domain.ErrInvalidInput, "record upload", fmt.Errorf("upload is nil"))
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO uploads (
	id, session_id, original_filename, storage_key, format, size_bytes, extracted_chars, status, error_message, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, error_message = EXCLUDED.error_message, extracted_chars = EXCLUDED.extracted_chars
`,
		file.ID, file.SessionID, file.OriginalFilename, file.StorageKey, string(file.Format),
		file.SizeBytes, file.ExtractedChars, string(file.Status), file.Error, file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// MarkPurged flags every live row whose file was removed from storage.
func (r *UploadRepository) MarkPurged(ctx context.Context, storageKeys []string) error {
	if len(storageKeys) == 0 {
		return nil
	}

	args := make([]any, 0, len(storageKeys)+2)
	args = append(args, string(domain.UploadStatusPurged), r.now())
	placeholders := make([]string, 0, len(storageKeys))
	for i, key := range storageKeys {
		args = append(args, key)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+3))
	}

	query := `
UPDATE uploads
SET status = $1, purged_at = $2
WHERE status <> $1 AND storage_key IN (` + strings.Join(placeholders, ",") + `)
`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark uploads purged: %w", err)
	}
	return nil
}
