// Package service ties the storage engine to the upload ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"blobdrop/internal/auth"
	"blobdrop/internal/engine"
	"blobdrop/internal/storage"
	"blobdrop/internal/store"
	"blobdrop/internal/upload"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrLedgerDisabled = errors.New("upload ledger is disabled")
)

// Ledger records stored blobs and API tokens. *store.Store implements it.
type Ledger interface {
	RecordUpload(ctx context.Context, u store.Upload) (store.Upload, error)
	GetUpload(ctx context.Context, id uuid.UUID) (store.Upload, error)
	ListUploads(ctx context.Context, container string, limit, offset int) ([]store.Upload, error)
	DeleteUpload(ctx context.Context, id uuid.UUID) error
	DeleteUploadByBlob(ctx context.Context, container, blobName string) error
	CreateToken(ctx context.Context, subject, name, tokenHash string, isAdmin bool) (store.APIToken, error)
}

var _ Ledger = (*store.Store)(nil)

type Options struct {
	// Containers resolves the container of a request the way the engine does.
	Containers engine.Resolver[string]
	// ContainerHeader, when set, carries a recorded container to the engine on ledger deletes.
	ContainerHeader string
}

type Service struct {
	engine upload.StorageEngine
	ledger Ledger
	opts   Options
}

// New returns a Service. ledger may be nil, which disables recording and the
// ledger operations.
func New(eng upload.StorageEngine, ledger Ledger, opts Options) *Service {
	return &Service{engine: eng, ledger: ledger, opts: opts}
}

func (s *Service) LedgerEnabled() bool {
	return s.ledger != nil
}

// Upload is a stored file plus its ledger row when the ledger is enabled.
type Upload struct {
	File   *engine.StoredFile
	Record *store.Upload
}

// RecordUploads writes one ledger row per stored file. If a row cannot be
// written, the rows and blobs of this request are removed again.
func (s *Service) RecordUploads(ctx context.Context, r *http.Request, files []*engine.StoredFile, uploadedBy string) ([]Upload, error) {
	out := make([]Upload, 0, len(files))
	if s.ledger == nil {
		for _, f := range files {
			out = append(out, Upload{File: f})
		}
		return out, nil
	}

	for _, f := range files {
		rec, err := s.ledger.RecordUpload(ctx, toRecord(f, uploadedBy))
		if err != nil {
			s.discard(ctx, r, files, out)
			if errors.Is(err, store.ErrConflict) {
				return nil, fmt.Errorf("%w: blob %s/%s already recorded", ErrConflict, f.Container, f.BlobName)
			}
			return nil, fmt.Errorf("record upload: %w", err)
		}
		out = append(out, Upload{File: f, Record: &rec})
	}
	return out, nil
}

func (s *Service) discard(ctx context.Context, r *http.Request, files []*engine.StoredFile, recorded []Upload) {
	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx)
	for _, u := range recorded {
		if err := s.ledger.DeleteUpload(ctx, u.Record.ID); err != nil {
			logger.Warn().Err(err).Str("upload_id", u.Record.ID.String()).Msg("discard ledger row")
		}
	}
	for _, f := range files {
		if err := s.engine.RemoveFile(ctx, r, f); err != nil {
			logger.Warn().Err(err).Str("container", f.Container).Str("blob", f.BlobName).Msg("discard unrecorded blob")
		}
	}
}

func toRecord(f *engine.StoredFile, uploadedBy string) store.Upload {
	size, err := strconv.ParseInt(f.BlobSize, 10, 64)
	if err != nil {
		size = f.Size
	}
	return store.Upload{
		Container:    f.Container,
		BlobName:     f.BlobName,
		URL:          f.URL,
		ETag:         f.ETag,
		BlobType:     f.BlobType,
		SizeBytes:    size,
		ContentType:  f.MimeType,
		OriginalName: f.OriginalName,
		FieldName:    f.FieldName,
		Metadata:     f.Metadata,
		UploadedBy:   uploadedBy,
	}
}

// RemoveBlob deletes blobName from the container the request resolves to and
// drops its ledger row, if any.
func (s *Service) RemoveBlob(ctx context.Context, r *http.Request, blobName string) error {
	blobName = strings.TrimSpace(blobName)
	if blobName == "" {
		return fmt.Errorf("%w: blob name required", ErrInvalidInput)
	}
	target := &engine.StoredFile{BlobName: blobName}
	if err := s.remove(ctx, r, target); err != nil {
		return err
	}
	if s.ledger == nil || s.opts.Containers == nil {
		return nil
	}

	container, err := s.opts.Containers.Resolve(ctx, r, &target.File)
	if err != nil {
		return fmt.Errorf("resolve container name: %w", err)
	}
	if strings.TrimSpace(container) == "" {
		container = engine.DefaultContainer
	}
	if err := s.ledger.DeleteUploadByBlob(ctx, strings.TrimSpace(container), blobName); err != nil {
		return fmt.Errorf("delete ledger row: %w", err)
	}
	return nil
}

func (s *Service) remove(ctx context.Context, r *http.Request, f *engine.StoredFile) error {
	err := s.engine.RemoveFile(ctx, r, f)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrContainerNotFound), errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return err
	}
}

func (s *Service) GetUpload(ctx context.Context, id uuid.UUID) (store.Upload, error) {
	if s.ledger == nil {
		return store.Upload{}, ErrLedgerDisabled
	}
	u, err := s.ledger.GetUpload(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Upload{}, ErrNotFound
		}
		return store.Upload{}, err
	}
	return u, nil
}

func (s *Service) ListUploads(ctx context.Context, container string, limit, offset int) ([]store.Upload, error) {
	if s.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	return s.ledger.ListUploads(ctx, strings.TrimSpace(container), limit, offset)
}

// DeleteUpload removes the blob of a recorded upload, then its ledger row. A
// blob that is already gone still lets the row be removed.
func (s *Service) DeleteUpload(ctx context.Context, r *http.Request, id uuid.UUID) (store.Upload, error) {
	u, err := s.GetUpload(ctx, id)
	if err != nil {
		return store.Upload{}, err
	}

	req := r
	if s.opts.ContainerHeader != "" {
		req = r.Clone(ctx)
		req.Header.Set(s.opts.ContainerHeader, u.Container)
	}
	stored := &engine.StoredFile{
		File:      engine.File{FieldName: u.FieldName, OriginalName: u.OriginalName, MimeType: u.ContentType},
		BlobName:  u.BlobName,
		Container: u.Container,
	}
	if err := s.remove(ctx, req, stored); err != nil && !errors.Is(err, ErrNotFound) {
		return store.Upload{}, err
	}

	if err := s.ledger.DeleteUpload(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return store.Upload{}, ErrNotFound
		}
		return store.Upload{}, err
	}
	return u, nil
}

// CreateToken issues a database API token and returns its plaintext once.
func (s *Service) CreateToken(ctx context.Context, subject, name string, isAdmin bool) (string, store.APIToken, error) {
	if s.ledger == nil {
		return "", store.APIToken{}, ErrLedgerDisabled
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", store.APIToken{}, fmt.Errorf("%w: subject required", ErrInvalidInput)
	}

	raw, err := auth.NewToken()
	if err != nil {
		return "", store.APIToken{}, err
	}
	t, err := s.ledger.CreateToken(ctx, subject, strings.TrimSpace(name), auth.HashToken(raw), isAdmin)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", store.APIToken{}, ErrConflict
		}
		return "", store.APIToken{}, err
	}
	return raw, t, nil
}
