package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned by backends when a blob or container does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidName is returned for container or blob names a backend cannot store.
var ErrInvalidName = errors.New("invalid name")

// AccessLevel controls anonymous read access applied when a container is created.
type AccessLevel string

const (
	AccessPrivate   AccessLevel = "private"
	AccessBlob      AccessLevel = "blob"
	AccessContainer AccessLevel = "container"
)

// ParseAccessLevel normalizes raw to a known access level. Empty input is private.
func ParseAccessLevel(raw string) (AccessLevel, bool) {
	switch AccessLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AccessPrivate:
		return AccessPrivate, true
	case AccessBlob:
		return AccessBlob, true
	case AccessContainer:
		return AccessContainer, true
	default:
		return "", false
	}
}

// UploadOptions carries the HTTP headers, metadata and chunking parameters of an upload.
type UploadOptions struct {
	ContentType        string
	ContentDisposition string
	// Metadata is nil when no metadata should be attached.
	Metadata    map[string]string
	BlockSize   int64
	Concurrency int
}

// Properties describes a stored blob.
type Properties struct {
	ETag          string
	BlobType      string
	ContentLength int64
	Metadata      map[string]string
}

// Backend is the blob service used by the upload engine.
// Azure, S3-compatible and local-disk stores implement this.
type Backend interface {
	// EnsureContainer creates the container if it does not exist yet.
	// Access is only sent to the service for non-private levels.
	EnsureContainer(ctx context.Context, container string, access AccessLevel) error

	ContainerExists(ctx context.Context, container string) (bool, error)

	// Upload streams r into container/blob using block semantics.
	Upload(ctx context.Context, container, blob string, r io.Reader, opts UploadOptions) error

	Properties(ctx context.Context, container, blob string) (Properties, error)

	Delete(ctx context.Context, container, blob string) error

	// URL returns the address of the blob as reported back to clients.
	URL(container, blob string) string
}
