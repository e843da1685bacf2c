package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrConflict = errors.New("conflict")

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	container     TEXT NOT NULL,
	blob_name     TEXT NOT NULL,
	url           TEXT NOT NULL,
	etag          TEXT NOT NULL DEFAULT '',
	blob_type     TEXT NOT NULL DEFAULT '',
	size_bytes    BIGINT NOT NULL DEFAULT 0,
	content_type  TEXT NOT NULL DEFAULT '',
	original_name TEXT NOT NULL DEFAULT '',
	field_name    TEXT NOT NULL DEFAULT '',
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	uploaded_by   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (container, blob_name)
);

CREATE INDEX IF NOT EXISTS uploads_created_at_idx ON uploads (created_at DESC);

CREATE TABLE IF NOT EXISTS api_tokens (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	token_hash   TEXT NOT NULL UNIQUE,
	subject      TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	is_admin     BOOLEAN NOT NULL DEFAULT false,
	disabled     BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_used_at TIMESTAMPTZ
);
`

// Upload is one stored blob as recorded in the uploads table.
type Upload struct {
	ID           uuid.UUID         `json:"id"`
	Container    string            `json:"container"`
	BlobName     string            `json:"blob_name"`
	URL          string            `json:"url"`
	ETag         string            `json:"etag"`
	BlobType     string            `json:"blob_type"`
	SizeBytes    int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type"`
	OriginalName string            `json:"original_name"`
	FieldName    string            `json:"field_name"`
	Metadata     map[string]string `json:"metadata"`
	UploadedBy   string            `json:"uploaded_by"`
	CreatedAt    time.Time         `json:"created_at"`
}

// APIToken represents a row in the api_tokens table.
type APIToken struct {
	ID         uuid.UUID  `json:"id"`
	Subject    string     `json:"subject"`
	Name       string     `json:"name"`
	IsAdmin    bool       `json:"is_admin"`
	Disabled   bool       `json:"disabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the ledger tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) RecordUpload(ctx context.Context, u Upload) (Upload, error) {
	metadata, err := json.Marshal(nonNilMetadata(u.Metadata))
	if err != nil {
		return Upload{}, fmt.Errorf("encode metadata: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO uploads (container, blob_name, url, etag, blob_type, size_bytes,
			content_type, original_name, field_name, metadata, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, u.Container, u.BlobName, u.URL, u.ETag, u.BlobType, u.SizeBytes,
		u.ContentType, u.OriginalName, u.FieldName, metadata, u.UploadedBy,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Upload{}, ErrConflict
		}
		return Upload{}, err
	}
	u.Metadata = nonNilMetadata(u.Metadata)
	return u, nil
}

const uploadColumns = `id, container, blob_name, url, etag, blob_type, size_bytes,
	content_type, original_name, field_name, metadata, uploaded_by, created_at`

func (s *Store) GetUpload(ctx context.Context, id uuid.UUID) (Upload, error) {
	row := s.db.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id)
	return scanUpload(row)
}

// ListUploads returns uploads newest first. container narrows the list when set.
func (s *Store) ListUploads(ctx context.Context, container string, limit, offset int) ([]Upload, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.Query(ctx, `
		SELECT `+uploadColumns+`
		FROM uploads
		WHERE ($1 = '' OR container = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, container, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uploads := make([]Upload, 0)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func (s *Store) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM uploads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteUploadByBlob drops the ledger row of a blob removed outside the ledger API.
// A missing row is not an error.
func (s *Store) DeleteUploadByBlob(ctx context.Context, container, blobName string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM uploads WHERE container = $1 AND blob_name = $2`, container, blobName)
	return err
}

// CreateToken inserts a new API token by hash.
func (s *Store) CreateToken(ctx context.Context, subject, name, tokenHash string, isAdmin bool) (APIToken, error) {
	t := APIToken{Subject: subject, Name: name, IsAdmin: isAdmin}
	err := s.db.QueryRow(ctx, `
		INSERT INTO api_tokens (token_hash, subject, name, is_admin)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, tokenHash, subject, name, isAdmin).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return APIToken{}, ErrConflict
		}
		return APIToken{}, err
	}
	return t, nil
}

// AuthenticateToken looks up a token by hash and returns its metadata.
func (s *Store) AuthenticateToken(ctx context.Context, tokenHash string) (APIToken, error) {
	var t APIToken
	err := s.db.QueryRow(ctx, `
		SELECT id, subject, name, is_admin, disabled, created_at, last_used_at
		FROM api_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.Subject, &t.Name, &t.IsAdmin, &t.Disabled, &t.CreatedAt, &t.LastUsedAt)
	if err != nil {
		return APIToken{}, err
	}
	return t, nil
}

// TouchTokenLastUsed updates the last_used_at timestamp.
func (s *Store) TouchTokenLastUsed(ctx context.Context, id uuid.UUID) {
	_, _ = s.db.Exec(ctx, `UPDATE api_tokens SET last_used_at = now() WHERE id = $1`, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (Upload, error) {
	var u Upload
	var metadata []byte
	err := row.Scan(&u.ID, &u.Container, &u.BlobName, &u.URL, &u.ETag, &u.BlobType, &u.SizeBytes,
		&u.ContentType, &u.OriginalName, &u.FieldName, &metadata, &u.UploadedBy, &u.CreatedAt)
	if err != nil {
		return Upload{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &u.Metadata); err != nil {
			return Upload{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	u.Metadata = nonNilMetadata(u.Metadata)
	return u, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
