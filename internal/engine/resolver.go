package engine

import (
	"context"
	"net/http"
)

// Resolver produces a per-upload value from the request and the file being stored.
type Resolver[T any] interface {
	Resolve(ctx context.Context, r *http.Request, f *File) (T, error)
}

// Static returns a Resolver that always yields v.
func Static[T any](v T) Resolver[T] {
	return staticResolver[T]{value: v}
}

type staticResolver[T any] struct {
	value T
}

func (s staticResolver[T]) Resolve(context.Context, *http.Request, *File) (T, error) {
	return s.value, nil
}

// Func adapts an ordinary function to Resolver.
type Func[T any] func(ctx context.Context, r *http.Request, f *File) (T, error)

func (fn Func[T]) Resolve(ctx context.Context, r *http.Request, f *File) (T, error) {
	return fn(ctx, r, f)
}

// ContentSettings are the HTTP headers stored with a blob.
type ContentSettings struct {
	ContentType        string
	ContentDisposition string
}
