package handlers

import (
	"os"

	"blobdrop/internal/service"
)

// FileOpener serves blobs of the local disk backend.
type FileOpener interface {
	Open(container, blob string) (*os.File, error)
}

type Handler struct {
	svc   *service.Service
	files FileOpener
}

// New returns the HTTP handlers. files is nil unless blobs live on local disk.
func New(svc *service.Service, files FileOpener) *Handler {
	return &Handler{
		svc:   svc,
		files: files,
	}
}
