package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"blobdrop/internal/auth"
	"blobdrop/internal/config"
	"blobdrop/internal/engine"
	"blobdrop/internal/service"
	"blobdrop/internal/storage"
	"blobdrop/internal/upload"
)

const testAdminToken = "admin-secret"

func newLocalAPI(t *testing.T, maxUpload int64, access string) *echo.Echo {
	t.Helper()

	cfg := config.Config{
		StorageDriver:      config.DriverLocal,
		AdminToken:         testAdminToken,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		MaxUploadBytes:     maxUpload,
		MaxUploadFiles:     5,
		AzureAccessLevel:   access,
	}
	local, err := storage.NewLocalBlobStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalBlobStore() error = %v", err)
	}
	eng, err := engine.NewWithBackend(engine.Options{ContainerName: engine.Static("uploads")}, local)
	if err != nil {
		t.Fatalf("NewWithBackend() error = %v", err)
	}
	svc := service.New(eng, nil, service.Options{Containers: engine.Static("uploads")})
	authn := auth.NewAuthenticator(nil, testAdminToken)
	uploads := upload.New(upload.Config{MaxFileSize: maxUpload, MaxFiles: 5}, eng)
	return New(cfg, zerolog.Nop(), svc, authn, uploads, local).NewEcho()
}

func multipartBody(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = io.WriteString(part, content)
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func authorizedRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testAdminToken)
	return req
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newLocalAPI(t, 1<<20, "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true || body["driver"] != "local" || body["ledger"] != false {
		t.Fatalf("body = %v", body)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Fatalf("missing request id header")
	}
}

func TestUploadServeRemove(t *testing.T) {
	t.Parallel()

	e := newLocalAPI(t, 1<<20, "")

	body, contentType := multipartBody(t, "notes.txt", "hello blob")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Files []struct {
			BlobName  string `json:"blobName"`
			Container string `json:"container"`
			URL       string `json:"url"`
		} `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Files) != 1 {
		t.Fatalf("files = %+v", resp.Files)
	}
	stored := resp.Files[0]
	if stored.Container != "uploads" || !strings.HasSuffix(stored.BlobName, ".txt") {
		t.Fatalf("stored = %+v", stored)
	}
	if stored.URL != "http://localhost:8080/files/uploads/"+stored.BlobName {
		t.Fatalf("url = %q", stored.URL)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/uploads/"+stored.BlobName, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous serve status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, authorizedRequest(http.MethodGet, "/files/uploads/"+stored.BlobName))
	if rec.Code != http.StatusOK || rec.Body.String() != "hello blob" {
		t.Fatalf("serve status = %d, body %q", rec.Code, rec.Body.String())
	}

	del := httptest.NewRequest(http.MethodDelete, "/api/v1/blobs/"+stored.BlobName, nil)
	del.Header.Set(echo.HeaderAuthorization, "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, del)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, authorizedRequest(http.MethodGet, "/files/uploads/"+stored.BlobName))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("serve after delete status = %d, want 404", rec.Code)
	}
}

func TestServeFile_PublicAccessLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		access   string
		wantCode int
	}{
		{"", http.StatusUnauthorized},
		{"private", http.StatusUnauthorized},
		{"blob", http.StatusNotFound},
		{"container", http.StatusNotFound},
	}
	for _, tt := range tests {
		e := newLocalAPI(t, 1<<20, tt.access)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/uploads/missing.txt", nil))
		if rec.Code != tt.wantCode {
			t.Fatalf("access %q: status = %d, want %d", tt.access, rec.Code, tt.wantCode)
		}
	}
}

func TestUpload_BodyLimit(t *testing.T) {
	t.Parallel()

	e := newLocalAPI(t, 2048, "")
	body, contentType := multipartBody(t, "big.bin", strings.Repeat("x", 4096))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413, body %s", rec.Code, rec.Body.String())
	}
}

func TestLedgerRoutesReportDisabled(t *testing.T) {
	t.Parallel()

	e := newLocalAPI(t, 1<<20, "")
	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/v1/uploads", ""},
		{http.MethodPost, "/api/internal/tokens", `{"subject":"ci"}`},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+testAdminToken)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("%s %s status = %d, want 501", tt.method, tt.path, rec.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	e := newLocalAPI(t, 1<<20, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/uploads", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:5173")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "http://localhost:5173" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int64
		want string
	}{
		{128 << 20, "131072K"},
		{2048, "2K"},
		{10, "1K"},
	}
	for _, tt := range tests {
		if got := bodyLimit(tt.in); got != tt.want {
			t.Fatalf("bodyLimit(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
