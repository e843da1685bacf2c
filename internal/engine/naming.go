package engine

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultBlobName names a blob {epoch-millis}-{uuid}{ext}, keeping the
// extension of the original filename.
func DefaultBlobName(_ context.Context, _ *http.Request, f *File) (string, error) {
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.NewString(), filepath.Ext(f.OriginalName)), nil
}
