// Package engine streams uploaded files into blob storage and reports the
// resulting object metadata back to the upload host.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"blobdrop/internal/storage"
)

const (
	DefaultContainer   = "default-container"
	DefaultBlockSize   = 4 << 20
	DefaultConcurrency = 5

	dispositionInline = "inline"
)

// File is one uploaded file as handed over by the upload host.
type File struct {
	FieldName    string
	OriginalName string
	Encoding     string
	MimeType     string
	Size         int64
	// BufferSize is the reader's preferred chunk size; it becomes the upload block size.
	BufferSize int64
	Stream     io.Reader
}

// StoredFile is File overlaid with the properties of the blob it was written to.
type StoredFile struct {
	File
	URL       string
	BlobName  string
	Container string
	ETag      string
	BlobType  string
	BlobSize  string
	Metadata  map[string]string
}

// Engine uploads files to a blob backend. It holds only state fixed at
// construction and is safe for concurrent use.
type Engine struct {
	backend         storage.Backend
	kind            AuthType
	containerName   Resolver[string]
	blobName        Resolver[string]
	metadata        Resolver[map[string]string]
	contentSettings Resolver[ContentSettings]
	accessLevel     storage.AccessLevel
	blockSize       int64
	concurrency     int
}

// New resolves the Azure credentials in opts, backfilling empty credential
// fields from the AZURE_STORAGE_* environment, and returns an Engine backed by
// Azure Blob Storage. Configuration problems are returned as a *ConfigError.
func New(opts Options) (*Engine, error) {
	opts = opts.withEnvDefaults(defaultGetenv)

	cred, problems := resolveCredential(opts)
	if problems != nil {
		return nil, problems
	}
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}

	client, err := cred.newClient(clientOptions())
	if err != nil {
		return nil, fmt.Errorf("build blob service client (%s): %w", cred.kind(), err)
	}
	e.backend = storage.NewAzureBlobStore(client)
	e.kind = cred.kind()
	return e, nil
}

// NewWithBackend returns an Engine writing to an already configured backend.
// Only the container name is validated.
func NewWithBackend(opts Options, backend storage.Backend) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("blob backend is required")
	}
	if containerMissing(opts.ContainerName) {
		return nil, &ConfigError{Problems: []error{errMissingContainer}}
	}
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}
	e.backend = backend
	return e, nil
}

func newEngine(opts Options) (*Engine, error) {
	access, ok := storage.ParseAccessLevel(string(opts.ContainerAccessLevel))
	if !ok {
		return nil, &ConfigError{Problems: []error{
			fmt.Errorf("invalid container access level %q", opts.ContainerAccessLevel),
		}}
	}

	e := &Engine{
		containerName:   opts.ContainerName,
		blobName:        opts.BlobName,
		metadata:        opts.Metadata,
		contentSettings: opts.ContentSettings,
		accessLevel:     access,
		blockSize:       opts.BlockSize,
		concurrency:     opts.Concurrency,
	}
	if e.blobName == nil {
		e.blobName = Func[string](DefaultBlobName)
	}
	if e.blockSize <= 0 {
		e.blockSize = DefaultBlockSize
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	return e, nil
}

// AuthType reports the authentication scheme the engine was built with.
// It is empty for engines created with NewWithBackend.
func (e *Engine) AuthType() AuthType {
	return e.kind
}

func (e *Engine) configured() bool {
	return e != nil && e.backend != nil && e.containerName != nil
}

func (e *Engine) resolveContainer(ctx context.Context, r *http.Request, f *File) (string, error) {
	name, err := e.containerName.Resolve(ctx, r, f)
	if err != nil {
		return "", fmt.Errorf("resolve container name: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultContainer, nil
	}
	return name, nil
}

func (e *Engine) resolveBlobName(ctx context.Context, r *http.Request, f *File) (string, error) {
	name, err := e.blobName.Resolve(ctx, r, f)
	if err != nil {
		return "", fmt.Errorf("resolve blob name: %w", err)
	}
	if name == "" {
		return "", errors.New("resolve blob name: empty name")
	}
	return name, nil
}

// HandleFile streams f into blob storage and returns the stored descriptor.
// A blob that was uploaded is not removed if a later step fails.
func (e *Engine) HandleFile(ctx context.Context, r *http.Request, f *File) (*StoredFile, error) {
	if !e.configured() {
		return nil, ErrNotConfigured
	}
	if f == nil || f.Stream == nil {
		return nil, errors.New("file stream is required")
	}

	var blobName, containerName string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		name, err := e.resolveBlobName(gctx, r, f)
		blobName = name
		return err
	})
	g.Go(func() error {
		name, err := e.resolveContainer(gctx, r, f)
		containerName = name
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := e.backend.EnsureContainer(ctx, containerName, e.accessLevel); err != nil {
		return nil, fmt.Errorf("ensure container: %w", err)
	}

	settings := ContentSettings{ContentType: f.MimeType, ContentDisposition: dispositionInline}
	if e.contentSettings != nil {
		var err error
		settings, err = e.contentSettings.Resolve(ctx, r, f)
		if err != nil {
			return nil, fmt.Errorf("resolve content settings: %w", err)
		}
	}

	opts := storage.UploadOptions{
		ContentType:        settings.ContentType,
		ContentDisposition: settings.ContentDisposition,
		BlockSize:          e.blockSize,
		Concurrency:        e.concurrency,
	}
	if f.BufferSize > 0 {
		opts.BlockSize = f.BufferSize
	}
	if e.metadata != nil {
		meta, err := e.metadata.Resolve(ctx, r, f)
		if err != nil {
			return nil, fmt.Errorf("resolve metadata: %w", err)
		}
		opts.Metadata = meta
		if opts.Metadata == nil {
			opts.Metadata = map[string]string{}
		}
	}

	if err := e.backend.Upload(ctx, containerName, blobName, f.Stream, opts); err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	props, err := e.backend.Properties(ctx, containerName, blobName)
	if err != nil {
		return nil, fmt.Errorf("fetch blob properties: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("container", containerName).
		Str("blob", blobName).
		Int64("size", props.ContentLength).
		Msg("blob stored")

	stored := &StoredFile{
		File:      *f,
		URL:       e.backend.URL(containerName, blobName),
		BlobName:  blobName,
		Container: containerName,
		ETag:      props.ETag,
		BlobType:  props.BlobType,
		BlobSize:  strconv.FormatInt(props.ContentLength, 10),
		Metadata:  props.Metadata,
	}
	stored.Stream = nil
	return stored, nil
}

// RemoveFile deletes the blob behind f. The container is resolved the same way
// as for uploads; a missing container is reported as *ContainerNotFoundError
// without attempting the delete.
func (e *Engine) RemoveFile(ctx context.Context, r *http.Request, f *StoredFile) error {
	if !e.configured() {
		return ErrNotConfigured
	}
	if f == nil {
		return errors.New("file is required")
	}

	containerName, err := e.resolveContainer(ctx, r, &f.File)
	if err != nil {
		return err
	}
	exists, err := e.backend.ContainerExists(ctx, containerName)
	if err != nil {
		return fmt.Errorf("check container: %w", err)
	}
	if !exists {
		return &ContainerNotFoundError{Container: containerName}
	}

	blobName := f.BlobName
	if blobName == "" {
		blobName, err = e.resolveBlobName(ctx, r, &f.File)
		if err != nil {
			return err
		}
	}
	if err := e.backend.Delete(ctx, containerName, blobName); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("container", containerName).
		Str("blob", blobName).
		Msg("blob removed")
	return nil
}
