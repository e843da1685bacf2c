package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const localPropsDir = ".props"

// LocalBlobStore keeps containers as directories below root. Blob properties
// live in a JSON sidecar under <container>/.props.
type LocalBlobStore struct {
	root    string
	baseURL string
}

var _ Backend = (*LocalBlobStore)(nil)

type localProps struct {
	ETag               string            `json:"etag"`
	Size               int64             `json:"size"`
	ContentType        string            `json:"contentType,omitempty"`
	ContentDisposition string            `json:"contentDisposition,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

func NewLocalBlobStore(root, baseURL string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBlobStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (b *LocalBlobStore) containerPath(container string) (string, error) {
	if container == "" || strings.ContainsAny(container, `/\`) || container == "." || container == ".." {
		return "", fmt.Errorf("%w: container %q", ErrInvalidName, container)
	}
	return filepath.Join(b.root, container), nil
}

func (b *LocalBlobStore) blobPaths(container, blob string) (data string, props string, err error) {
	dir, err := b.containerPath(container)
	if err != nil {
		return "", "", err
	}
	clean := filepath.Clean("/" + filepath.FromSlash(blob))
	if clean == string(filepath.Separator) {
		return "", "", fmt.Errorf("%w: blob %q", ErrInvalidName, blob)
	}
	rel := strings.TrimPrefix(clean, string(filepath.Separator))
	if strings.HasPrefix(rel, localPropsDir+string(filepath.Separator)) || rel == localPropsDir {
		return "", "", fmt.Errorf("%w: blob %q", ErrInvalidName, blob)
	}
	return filepath.Join(dir, rel), filepath.Join(dir, localPropsDir, rel+".json"), nil
}

func (b *LocalBlobStore) EnsureContainer(_ context.Context, container string, _ AccessLevel) error {
	dir, err := b.containerPath(container)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, localPropsDir), 0o755); err != nil {
		return fmt.Errorf("create container dir: %w", err)
	}
	return nil
}

func (b *LocalBlobStore) ContainerExists(_ context.Context, container string) (bool, error) {
	dir, err := b.containerPath(container)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat container: %w", err)
	}
	return info.IsDir(), nil
}

func (b *LocalBlobStore) Upload(_ context.Context, container, blob string, r io.Reader, opts UploadOptions) (err error) {
	dataPath, propsPath, err := b.blobPaths(container, blob)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dataPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmpFile, h), r)
	if err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Rename(tmpName, dataPath); err != nil {
		return fmt.Errorf("move blob: %w", err)
	}

	props := localProps{
		ETag:               `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`,
		Size:               n,
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
		Metadata:           opts.Metadata,
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encode blob props: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(propsPath), 0o755); err != nil {
		return fmt.Errorf("create props dir: %w", err)
	}
	if err := os.WriteFile(propsPath, raw, 0o644); err != nil {
		return fmt.Errorf("write blob props: %w", err)
	}
	return nil
}

func (b *LocalBlobStore) Properties(_ context.Context, container, blob string) (Properties, error) {
	_, propsPath, err := b.blobPaths(container, blob)
	if err != nil {
		return Properties{}, err
	}
	raw, err := os.ReadFile(propsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Properties{}, fmt.Errorf("blob %q: %w", blob, ErrNotFound)
		}
		return Properties{}, fmt.Errorf("read blob props: %w", err)
	}
	var props localProps
	if err := json.Unmarshal(raw, &props); err != nil {
		return Properties{}, fmt.Errorf("decode blob props: %w", err)
	}
	meta := make(map[string]string, len(props.Metadata))
	for k, v := range props.Metadata {
		meta[k] = v
	}
	return Properties{
		ETag:          props.ETag,
		BlobType:      "File",
		ContentLength: props.Size,
		Metadata:      meta,
	}, nil
}

func (b *LocalBlobStore) Delete(_ context.Context, container, blob string) error {
	dataPath, propsPath, err := b.blobPaths(container, blob)
	if err != nil {
		return err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("blob %q: %w", blob, ErrNotFound)
		}
		return fmt.Errorf("remove blob: %w", err)
	}
	if err := os.Remove(propsPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob props: %w", err)
	}
	return nil
}

func (b *LocalBlobStore) URL(container, blob string) string {
	key := (&url.URL{Path: blob}).EscapedPath()
	if b.baseURL == "" {
		return "file://" + filepath.ToSlash(filepath.Join(b.root, container, blob))
	}
	return b.baseURL + "/" + container + "/" + key
}

// Open returns the stored bytes of container/blob. The caller closes the file.
func (b *LocalBlobStore) Open(container, blob string) (*os.File, error) {
	dataPath, _, err := b.blobPaths(container, blob)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", blob, ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}
