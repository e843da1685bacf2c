package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalBlobStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewLocalBlobStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalBlobStore() error = %v", err)
	}

	exists, err := store.ContainerExists(ctx, "uploads")
	if err != nil {
		t.Fatalf("ContainerExists() error = %v", err)
	}
	if exists {
		t.Fatalf("container should not exist before EnsureContainer")
	}
	if err := store.EnsureContainer(ctx, "uploads", AccessPrivate); err != nil {
		t.Fatalf("EnsureContainer() error = %v", err)
	}
	if err := store.EnsureContainer(ctx, "uploads", AccessPrivate); err != nil {
		t.Fatalf("EnsureContainer() second call error = %v", err)
	}

	err = store.Upload(ctx, "uploads", "a/b.txt", strings.NewReader("hello"), UploadOptions{
		ContentType:        "text/plain",
		ContentDisposition: "inline",
		Metadata:           map[string]string{"owner": "alice"},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	props, err := store.Properties(ctx, "uploads", "a/b.txt")
	if err != nil {
		t.Fatalf("Properties() error = %v", err)
	}
	if props.ContentLength != 5 {
		t.Fatalf("ContentLength = %d, want 5", props.ContentLength)
	}
	if props.ETag == "" || props.BlobType != "File" {
		t.Fatalf("unexpected props %#v", props)
	}
	if props.Metadata["owner"] != "alice" {
		t.Fatalf("Metadata = %#v", props.Metadata)
	}

	f, err := store.Open("uploads", "a/b.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil || string(data) != "hello" {
		t.Fatalf("read back %q, %v", data, err)
	}

	if got := store.URL("uploads", "a/b.txt"); got != "http://localhost:8080/files/uploads/a/b.txt" {
		t.Fatalf("URL() = %q", got)
	}

	if err := store.Delete(ctx, "uploads", "a/b.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Properties(ctx, "uploads", "a/b.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Properties() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "uploads", "a/b.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() twice error = %v, want ErrNotFound", err)
	}
}

func TestLocalBlobStore_RejectsInvalidNames(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewLocalBlobStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalBlobStore() error = %v", err)
	}

	tests := []struct {
		name      string
		container string
		blob      string
	}{
		{"empty container", "", "x.txt"},
		{"nested container", "a/b", "x.txt"},
		{"dotdot container", "..", "x.txt"},
		{"empty blob", "uploads", ""},
		{"props dir", "uploads", ".props/x.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := store.Upload(ctx, tt.container, tt.blob, strings.NewReader("x"), UploadOptions{})
			if !errors.Is(err, ErrInvalidName) {
				t.Fatalf("Upload(%q, %q) error = %v, want ErrInvalidName", tt.container, tt.blob, err)
			}
		})
	}
}

func TestLocalBlobStore_BlobNameCannotEscapeContainer(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocalBlobStore(root, "")
	if err != nil {
		t.Fatalf("NewLocalBlobStore() error = %v", err)
	}
	data, _, err := store.blobPaths("uploads", "../../etc/passwd")
	if err != nil {
		t.Fatalf("blobPaths() error = %v", err)
	}
	if !strings.HasPrefix(data, root) {
		t.Fatalf("blob path %q escaped root %q", data, root)
	}
}

func TestParseAccessLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw    string
		want   AccessLevel
		wantOK bool
	}{
		{"", AccessPrivate, true},
		{"private", AccessPrivate, true},
		{" Blob ", AccessBlob, true},
		{"CONTAINER", AccessContainer, true},
		{"public", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAccessLevel(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("ParseAccessLevel(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}
