package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"blobdrop/internal/storage"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	if opts.ContainerName == nil {
		opts.ContainerName = Static("uploads")
	}
	e, err := NewWithBackend(opts, backend)
	if err != nil {
		t.Fatalf("NewWithBackend() error = %v", err)
	}
	return e, backend
}

func testFile(name, mime, body string) *File {
	return &File{
		FieldName:    "file",
		OriginalName: name,
		Encoding:     "7bit",
		MimeType:     mime,
		Size:         int64(len(body)),
		Stream:       strings.NewReader(body),
	}
}

func testRequest() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil)
}

func TestHandleFile_StaticContainerDefaults(t *testing.T) {
	t.Parallel()

	e, backend := newTestEngine(t, Options{ContainerName: Static("uploads")})
	stored, err := e.HandleFile(context.Background(), testRequest(), testFile("photo.png", "image/png", "pngdata"))
	if err != nil {
		t.Fatalf("HandleFile() error = %v", err)
	}

	if stored.Container != "uploads" {
		t.Fatalf("Container = %q, want uploads", stored.Container)
	}
	if len(stored.Metadata) != 0 {
		t.Fatalf("Metadata = %#v, want empty", stored.Metadata)
	}
	if !strings.HasSuffix(stored.BlobName, ".png") {
		t.Fatalf("BlobName = %q, want .png suffix", stored.BlobName)
	}
	if stored.BlobSize != "7" {
		t.Fatalf("BlobSize = %q, want 7", stored.BlobSize)
	}
	if stored.ETag == "" || stored.BlobType != "BlockBlob" {
		t.Fatalf("unexpected properties %#v", stored)
	}
	if stored.URL != "https://fake.blob.local/uploads/"+stored.BlobName {
		t.Fatalf("URL = %q", stored.URL)
	}
	if stored.OriginalName != "photo.png" || stored.FieldName != "file" || stored.MimeType != "image/png" {
		t.Fatalf("original fields not carried over: %#v", stored.File)
	}
	if stored.Stream != nil {
		t.Fatalf("stored file should not retain the stream")
	}

	blob, ok := backend.blob("uploads", stored.BlobName)
	if !ok {
		t.Fatalf("blob %q not uploaded", stored.BlobName)
	}
	if blob.opts.ContentType != "image/png" || blob.opts.ContentDisposition != "inline" {
		t.Fatalf("content settings = %q / %q", blob.opts.ContentType, blob.opts.ContentDisposition)
	}
	if blob.opts.Metadata != nil {
		t.Fatalf("metadata should be omitted, got %#v", blob.opts.Metadata)
	}
	if blob.opts.Concurrency != DefaultConcurrency || blob.opts.BlockSize != DefaultBlockSize {
		t.Fatalf("chunking = %d/%d", blob.opts.BlockSize, blob.opts.Concurrency)
	}
}

func TestHandleFile_Resolvers(t *testing.T) {
	t.Parallel()

	e, backend := newTestEngine(t, Options{
		ContainerName: Func[string](func(_ context.Context, r *http.Request, _ *File) (string, error) {
			return r.Header.Get("X-Tenant"), nil
		}),
		BlobName: Func[string](func(_ context.Context, _ *http.Request, f *File) (string, error) {
			return "avatars/" + f.OriginalName, nil
		}),
		Metadata: Static(map[string]string{"source": "test"}),
		ContentSettings: Func[ContentSettings](func(_ context.Context, _ *http.Request, f *File) (ContentSettings, error) {
			return ContentSettings{ContentType: "application/octet-stream", ContentDisposition: `attachment; filename="` + f.OriginalName + `"`}, nil
		}),
		ContainerAccessLevel: storage.AccessBlob,
	})

	req := testRequest()
	req.Header.Set("X-Tenant", "tenant-a")
	stored, err := e.HandleFile(context.Background(), req, testFile("me.jpg", "image/jpeg", "jpeg"))
	if err != nil {
		t.Fatalf("HandleFile() error = %v", err)
	}
	if stored.Container != "tenant-a" || stored.BlobName != "avatars/me.jpg" {
		t.Fatalf("stored at %s/%s", stored.Container, stored.BlobName)
	}
	if stored.Metadata["source"] != "test" {
		t.Fatalf("Metadata = %#v", stored.Metadata)
	}

	blob, _ := backend.blob("tenant-a", "avatars/me.jpg")
	if blob.opts.ContentType != "application/octet-stream" || !strings.HasPrefix(blob.opts.ContentDisposition, "attachment") {
		t.Fatalf("content settings = %#v", blob.opts)
	}
	if len(backend.ensured) != 1 || backend.ensured[0] != storage.AccessBlob {
		t.Fatalf("ensured access levels = %v, want [blob]", backend.ensured)
	}
}

func TestHandleFile_EmptyContainerFallsBackToDefault(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, Options{
		ContainerName: Func[string](func(context.Context, *http.Request, *File) (string, error) {
			return "", nil
		}),
	})
	stored, err := e.HandleFile(context.Background(), testRequest(), testFile("a.txt", "text/plain", "a"))
	if err != nil {
		t.Fatalf("HandleFile() error = %v", err)
	}
	if stored.Container != DefaultContainer {
		t.Fatalf("Container = %q, want %q", stored.Container, DefaultContainer)
	}
}

func TestHandleFile_BufferSizeHintSetsBlockSize(t *testing.T) {
	t.Parallel()

	e, backend := newTestEngine(t, Options{})
	f := testFile("a.bin", "application/octet-stream", "abc")
	f.BufferSize = 64 << 10
	stored, err := e.HandleFile(context.Background(), testRequest(), f)
	if err != nil {
		t.Fatalf("HandleFile() error = %v", err)
	}
	blob, _ := backend.blob("uploads", stored.BlobName)
	if blob.opts.BlockSize != 64<<10 {
		t.Fatalf("BlockSize = %d, want %d", blob.opts.BlockSize, 64<<10)
	}
}

func TestHandleFile_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	t.Run("resolver failure", func(t *testing.T) {
		t.Parallel()
		e, backend := newTestEngine(t, Options{
			BlobName: Func[string](func(context.Context, *http.Request, *File) (string, error) {
				return "", boom
			}),
		})
		stored, err := e.HandleFile(context.Background(), testRequest(), testFile("a.txt", "text/plain", "a"))
		if !errors.Is(err, boom) || stored != nil {
			t.Fatalf("HandleFile() = (%v, %v), want (nil, boom)", stored, err)
		}
		if len(backend.ensured) != 0 {
			t.Fatalf("container should not be touched when naming fails")
		}
	})

	t.Run("upload failure", func(t *testing.T) {
		t.Parallel()
		e, backend := newTestEngine(t, Options{})
		backend.uploadErr = boom
		if _, err := e.HandleFile(context.Background(), testRequest(), testFile("a.txt", "text/plain", "a")); !errors.Is(err, boom) {
			t.Fatalf("HandleFile() error = %v, want boom", err)
		}
	})

	t.Run("properties failure leaves blob in place", func(t *testing.T) {
		t.Parallel()
		e, backend := newTestEngine(t, Options{
			BlobName: Static("fixed.txt"),
		})
		backend.propsErr = boom
		stored, err := e.HandleFile(context.Background(), testRequest(), testFile("a.txt", "text/plain", "a"))
		if !errors.Is(err, boom) || stored != nil {
			t.Fatalf("HandleFile() = (%v, %v), want (nil, boom)", stored, err)
		}
		if _, ok := backend.blob("uploads", "fixed.txt"); !ok {
			t.Fatalf("uploaded blob should not be rolled back")
		}
	})

	t.Run("unconfigured engine", func(t *testing.T) {
		t.Parallel()
		var e Engine
		if _, err := e.HandleFile(context.Background(), testRequest(), testFile("a.txt", "text/plain", "a")); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("HandleFile() error = %v, want ErrNotConfigured", err)
		}
		if err := e.RemoveFile(context.Background(), testRequest(), &StoredFile{}); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("RemoveFile() error = %v, want ErrNotConfigured", err)
		}
	})
}

func TestRemoveFile(t *testing.T) {
	t.Parallel()

	t.Run("missing container", func(t *testing.T) {
		t.Parallel()
		e, backend := newTestEngine(t, Options{ContainerName: Static("archive")})
		err := e.RemoveFile(context.Background(), testRequest(), &StoredFile{BlobName: "x.txt"})
		if !errors.Is(err, ErrContainerNotFound) {
			t.Fatalf("RemoveFile() error = %v, want ErrContainerNotFound", err)
		}
		if !strings.Contains(err.Error(), "archive") {
			t.Fatalf("error %q should name the container", err)
		}
		if len(backend.deletes) != 0 {
			t.Fatalf("delete should not be attempted, got %v", backend.deletes)
		}
	})

	t.Run("deletes stored blob", func(t *testing.T) {
		t.Parallel()
		e, backend := newTestEngine(t, Options{})
		stored, err := e.HandleFile(context.Background(), testRequest(), testFile("a.txt", "text/plain", "a"))
		if err != nil {
			t.Fatalf("HandleFile() error = %v", err)
		}
		if err := e.RemoveFile(context.Background(), testRequest(), stored); err != nil {
			t.Fatalf("RemoveFile() error = %v", err)
		}
		if _, ok := backend.blob("uploads", stored.BlobName); ok {
			t.Fatalf("blob %q still present", stored.BlobName)
		}
	})

	t.Run("resolves name when none recorded", func(t *testing.T) {
		t.Parallel()
		e, backend := newTestEngine(t, Options{BlobName: Static("fixed.txt")})
		if _, err := e.HandleFile(context.Background(), testRequest(), testFile("a.txt", "text/plain", "a")); err != nil {
			t.Fatalf("HandleFile() error = %v", err)
		}
		if err := e.RemoveFile(context.Background(), testRequest(), &StoredFile{File: File{OriginalName: "a.txt"}}); err != nil {
			t.Fatalf("RemoveFile() error = %v", err)
		}
		if len(backend.deletes) != 1 || backend.deletes[0] != "uploads/fixed.txt" {
			t.Fatalf("deletes = %v", backend.deletes)
		}
	})

	t.Run("delete failure", func(t *testing.T) {
		t.Parallel()
		e, backend := newTestEngine(t, Options{})
		_ = backend.EnsureContainer(context.Background(), "uploads", storage.AccessPrivate)
		if err := e.RemoveFile(context.Background(), testRequest(), &StoredFile{BlobName: "ghost.txt"}); err == nil {
			t.Fatalf("RemoveFile() error = nil, want delete failure")
		}
	})
}

func TestDefaultBlobName(t *testing.T) {
	t.Parallel()

	f := &File{OriginalName: "report.final.pdf"}
	a, err := DefaultBlobName(context.Background(), nil, f)
	if err != nil {
		t.Fatalf("DefaultBlobName() error = %v", err)
	}
	b, err := DefaultBlobName(context.Background(), nil, f)
	if err != nil {
		t.Fatalf("DefaultBlobName() error = %v", err)
	}
	if a == b {
		t.Fatalf("names should differ, both %q", a)
	}
	for _, name := range []string{a, b} {
		if !strings.HasSuffix(name, ".pdf") {
			t.Fatalf("name %q should end in .pdf", name)
		}
		if strings.Count(name, "-") != 5 {
			t.Fatalf("name %q should be millis-uuid", name)
		}
	}

	noExt, _ := DefaultBlobName(context.Background(), nil, &File{OriginalName: "README"})
	if strings.Contains(noExt, ".") {
		t.Fatalf("name %q should have no extension", noExt)
	}
}

func TestHandleFile_Concurrent(t *testing.T) {
	t.Parallel()

	e, backend := newTestEngine(t, Options{})
	const n = 8

	var wg sync.WaitGroup
	results := make([]*StoredFile, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := strings.Repeat("x", i+1)
			results[i], errs[i] = e.HandleFile(context.Background(), testRequest(),
				testFile(fmt.Sprintf("file-%d.txt", i), "text/plain", body))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("HandleFile(#%d) error = %v", i, errs[i])
		}
		if results[i].OriginalName != fmt.Sprintf("file-%d.txt", i) {
			t.Fatalf("result %d carries %q", i, results[i].OriginalName)
		}
		if results[i].BlobSize != fmt.Sprint(i+1) {
			t.Fatalf("result %d size = %q, want %d", i, results[i].BlobSize, i+1)
		}
		blob, ok := backend.blob("uploads", results[i].BlobName)
		if !ok || string(blob.data) != strings.Repeat("x", i+1) {
			t.Fatalf("blob %d content mismatch", i)
		}
	}
}

func TestNewWithBackend_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewWithBackend(Options{ContainerName: Static("uploads")}, nil); err == nil {
		t.Fatalf("nil backend should be rejected")
	}
	_, err := NewWithBackend(Options{}, newFakeBackend())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || !strings.Contains(err.Error(), "Azure container name") {
		t.Fatalf("NewWithBackend() error = %v, want container ConfigError", err)
	}
}
