package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"blobdrop/internal/storage"
)

type fakeBlob struct {
	data []byte
	opts storage.UploadOptions
}

// fakeBackend is an in-memory storage.Backend that records the calls it receives.
type fakeBackend struct {
	mu         sync.Mutex
	containers map[string]storage.AccessLevel
	blobs      map[string]fakeBlob
	ensured    []storage.AccessLevel
	deletes    []string

	uploadErr error
	propsErr  error
}

var _ storage.Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		containers: map[string]storage.AccessLevel{},
		blobs:      map[string]fakeBlob{},
	}
}

func blobKey(container, blob string) string { return container + "/" + blob }

func (b *fakeBackend) EnsureContainer(_ context.Context, container string, access storage.AccessLevel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensured = append(b.ensured, access)
	if _, ok := b.containers[container]; !ok {
		b.containers[container] = access
	}
	return nil
}

func (b *fakeBackend) ContainerExists(_ context.Context, container string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.containers[container]
	return ok, nil
}

func (b *fakeBackend) Upload(_ context.Context, container, blob string, r io.Reader, opts storage.UploadOptions) error {
	if b.uploadErr != nil {
		return b.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[blobKey(container, blob)] = fakeBlob{data: data, opts: opts}
	return nil
}

func (b *fakeBackend) Properties(_ context.Context, container, blob string) (storage.Properties, error) {
	if b.propsErr != nil {
		return storage.Properties{}, b.propsErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.blobs[blobKey(container, blob)]
	if !ok {
		return storage.Properties{}, storage.ErrNotFound
	}
	meta := map[string]string{}
	for k, v := range stored.opts.Metadata {
		meta[k] = v
	}
	return storage.Properties{
		ETag:          fmt.Sprintf(`"etag-%d"`, len(stored.data)),
		BlobType:      "BlockBlob",
		ContentLength: int64(len(stored.data)),
		Metadata:      meta,
	}, nil
}

func (b *fakeBackend) Delete(_ context.Context, container, blob string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, blobKey(container, blob))
	if _, ok := b.blobs[blobKey(container, blob)]; !ok {
		return errors.New("blob not found")
	}
	delete(b.blobs, blobKey(container, blob))
	return nil
}

func (b *fakeBackend) URL(container, blob string) string {
	return "https://fake.blob.local/" + container + "/" + blob
}

func (b *fakeBackend) blob(container, blob string) (fakeBlob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.blobs[blobKey(container, blob)]
	return v, ok
}
