// Package upload parses multipart/form-data requests and hands every file to a
// storage engine, the way a form-upload middleware drives its storage backend.
package upload

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"blobdrop/internal/engine"
)

const filesContextKey = "upload_files"

// StorageEngine stores and removes single files on behalf of the middleware.
type StorageEngine interface {
	HandleFile(ctx context.Context, r *http.Request, f *engine.File) (*engine.StoredFile, error)
	RemoveFile(ctx context.Context, r *http.Request, f *engine.StoredFile) error
}

var (
	ErrNoFiles         = errors.New("multipart form has no files")
	ErrTooManyFiles    = errors.New("too many files")
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnexpectedField = errors.New("unexpected field")
	ErrInvalidForm     = errors.New("invalid multipart form")
)

type Config struct {
	// MaxMemory is the part of the form kept in memory; the rest spills to temp files.
	MaxMemory   int64
	MaxFileSize int64
	MaxFiles    int
	// Fields restricts which form fields may carry files. Empty allows any field.
	Fields []string
	// Parallelism bounds how many files of one request are stored at once.
	Parallelism int
	// BufferSize is passed to the engine as the per-file chunk size hint.
	BufferSize int64
}

// Handler drives a StorageEngine from multipart requests.
type Handler struct {
	cfg    Config
	engine StorageEngine
	fields map[string]struct{}
}

func New(cfg Config, eng StorageEngine) *Handler {
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = 32 << 20
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	h := &Handler{cfg: cfg, engine: eng}
	if len(cfg.Fields) > 0 {
		h.fields = make(map[string]struct{}, len(cfg.Fields))
		for _, f := range cfg.Fields {
			h.fields[f] = struct{}{}
		}
	}
	return h
}

type part struct {
	field  string
	header *multipart.FileHeader
}

// collect parses r and returns its file parts, grouped by field, after enforcing limits.
func (h *Handler) collect(r *http.Request) ([]part, error) {
	if err := r.ParseMultipartForm(h.cfg.MaxMemory); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidForm, err)
	}
	form := r.MultipartForm
	if form == nil || len(form.File) == 0 {
		return nil, ErrNoFiles
	}

	fieldNames := make([]string, 0, len(form.File))
	for name := range form.File {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	var parts []part
	for _, name := range fieldNames {
		if h.fields != nil {
			if _, ok := h.fields[name]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnexpectedField, name)
			}
		}
		for _, fh := range form.File[name] {
			if h.cfg.MaxFileSize > 0 && fh.Size > h.cfg.MaxFileSize {
				return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, fh.Filename)
			}
			parts = append(parts, part{field: name, header: fh})
		}
	}
	if len(parts) > h.cfg.MaxFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(parts), h.cfg.MaxFiles)
	}
	return parts, nil
}

// Store hands every file of the multipart request to the engine. If any file
// fails, files already stored for this request are removed again and the first
// error is returned.
func (h *Handler) Store(ctx context.Context, r *http.Request) ([]*engine.StoredFile, error) {
	parts, err := h.collect(r)
	// r may be a copy that net/http never cleans up.
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}
	if err != nil {
		return nil, err
	}

	results := make([]*engine.StoredFile, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Parallelism)
	for i, p := range parts {
		g.Go(func() error {
			stored, err := h.storePart(gctx, r, p)
			if err != nil {
				return fmt.Errorf("store %q: %w", p.header.Filename, err)
			}
			results[i] = stored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.rollback(ctx, r, results)
		return nil, err
	}
	return results, nil
}

func (h *Handler) storePart(ctx context.Context, r *http.Request, p part) (*engine.StoredFile, error) {
	src, err := p.header.Open()
	if err != nil {
		return nil, fmt.Errorf("open part: %w", err)
	}
	defer src.Close()

	encoding := p.header.Header.Get("Content-Transfer-Encoding")
	if encoding == "" {
		encoding = "7bit"
	}
	return h.engine.HandleFile(ctx, r, &engine.File{
		FieldName:    p.field,
		OriginalName: p.header.Filename,
		Encoding:     encoding,
		MimeType:     p.header.Header.Get(echo.HeaderContentType),
		Size:         p.header.Size,
		BufferSize:   h.cfg.BufferSize,
		Stream:       src,
	})
}

func (h *Handler) rollback(ctx context.Context, r *http.Request, stored []*engine.StoredFile) {
	logger := zerolog.Ctx(ctx)
	for _, f := range stored {
		if f == nil {
			continue
		}
		// The request context may already be cancelled; removal must still run.
		if err := h.engine.RemoveFile(context.WithoutCancel(ctx), r, f); err != nil {
			logger.Warn().Err(err).Str("container", f.Container).Str("blob", f.BlobName).Msg("remove partially uploaded file")
		}
	}
}

// Middleware stores the files of the request before calling next. Handlers
// read the results with Files.
func (h *Handler) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		files, err := h.Store(c.Request().Context(), c.Request())
		if err != nil {
			return mapError(err)
		}
		c.Set(filesContextKey, files)
		return next(c)
	}
}

// Files returns the files stored by Middleware for this request.
func Files(c echo.Context) []*engine.StoredFile {
	files, _ := c.Get(filesContextKey).([]*engine.StoredFile)
	return files
}

func mapError(err error) error {
	switch {
	case isBodyTooLarge(err):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidForm), errors.Is(err, ErrNoFiles),
		errors.Is(err, ErrTooManyFiles), errors.Is(err, ErrUnexpectedField):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "store upload: "+err.Error()).SetInternal(err)
	}
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
