package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"

	"gallery_server/server/common/infra/object"
	"gallery_server/server/gallery/domain"
	"gallery_server/server/gallery/service"
)

type fakeDescriber struct {
	text string
	err  error
}

func (f *fakeDescriber) DescribeImage(_ context.Context, _ string, _ []byte) (string, error) {
	return f.text, f.err
}

type testEnv struct {
	router *gin.Engine
	store  *object.MemoryStore
	index  *service.MetadataIndex
}

func newTestEnv(t *testing.T, describer service.Describer) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := object.NewMemoryStore("")
	index := service.NewMetadataIndex(store, nil)
	files := service.NewFileService(store, index, describer, service.NewEventHub(), nil)

	r := gin.New()
	NewHandler(files, nil).RegisterRoutes(r)
	return &testEnv{router: r, store: store, index: index}
}

func (e *testEnv) upload(t *testing.T, name, contentType string, content []byte) []domain.FileRecord {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var records []domain.FileRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	return records
}

func (e *testEnv) listFiles(t *testing.T) []domain.FileRecord {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var records []domain.FileRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	return records
}

func TestUploadTextFile(t *testing.T) {
	env := newTestEnv(t, nil)

	records := env.upload(t, "note.txt", "text/plain", []byte("0123456789"))
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	r := records[0]
	if r.IsImage {
		t.Error("text file marked as image")
	}
	if r.Description != "" {
		t.Errorf("expected empty description, got %q", r.Description)
	}
	if r.Size != 10 {
		t.Errorf("expected size 10, got %d", r.Size)
	}
	if r.Name != "note.txt" {
		t.Errorf("expected name note.txt, got %q", r.Name)
	}
	if r.Type != "text/plain" {
		t.Errorf("expected type text/plain, got %q", r.Type)
	}
	if r.URL == "" || r.ID == "" {
		t.Errorf("expected id and url to be set: %+v", r)
	}
}

func TestUploadImageWithoutProviderGetsSkippedPlaceholder(t *testing.T) {
	env := newTestEnv(t, nil)

	records := env.upload(t, "photo.jpg", "image/jpeg", []byte{0xff, 0xd8, 0xff})
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	r := records[0]
	if !r.IsImage {
		t.Error("jpeg not marked as image")
	}
	if r.Description != "Description generation skipped: API key not configured on server." {
		t.Errorf("unexpected description: %q", r.Description)
	}
	// Not decodable as an image, so the best-effort thumbnail is absent.
	if r.ThumbnailURL != "" {
		t.Errorf("expected no thumbnail for undecodable bytes, got %q", r.ThumbnailURL)
	}
}

func TestUploadImageUsesProviderDescription(t *testing.T) {
	env := newTestEnv(t, &fakeDescriber{text: " A red square on white. "})

	records := env.upload(t, "sq.png", "image/png", []byte{1, 2, 3})
	if records[0].Description != "A red square on white." {
		t.Errorf("unexpected description: %q", records[0].Description)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	env := newTestEnv(t, nil)

	env.upload(t, "a.txt", "text/plain", []byte("a"))
	env.upload(t, "b.txt", "text/plain", []byte("b"))

	records := env.listFiles(t)
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if records[0].Name != "b.txt" || records[1].Name != "a.txt" {
		t.Errorf("expected [b.txt a.txt], got [%s %s]", records[0].Name, records[1].Name)
	}
}

func TestDeleteUnknownIDReturns404AndKeepsIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upload(t, "keep.txt", "text/plain", []byte("keep"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/uploads/does-not-exist.txt", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Message != "File not found in metadata." {
		t.Errorf("unexpected message: %q", body.Message)
	}
	if got := env.listFiles(t); len(got) != 1 {
		t.Errorf("index changed by failed delete: %+v", got)
	}
}

func TestDeleteRemovesBlobAndEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	records := env.upload(t, "gone.txt", "text/plain", []byte("gone"))
	id := records[0].ID

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var body MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Message != "File deleted successfully." {
		t.Errorf("unexpected message: %q", body.Message)
	}
	if got := env.listFiles(t); len(got) != 0 {
		t.Errorf("expected empty index, got %+v", got)
	}
	if _, err := env.store.Get(context.Background(), id); err == nil {
		t.Error("blob still present after delete")
	}
}

func TestDeleteSelfHealsWhenBlobAlreadyGone(t *testing.T) {
	env := newTestEnv(t, nil)
	// Seed an index entry whose blob was never stored.
	err := env.index.Append(context.Background(), domain.FileRecord{
		ID:   "uploads/ghost.txt",
		Name: "ghost.txt",
		Type: "text/plain",
		URL:  "memory://gallery/uploads/ghost.txt",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/uploads/ghost.txt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var body MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Message != "File already deleted from storage, metadata cleaned." {
		t.Errorf("unexpected message: %q", body.Message)
	}
	if got := env.listFiles(t); len(got) != 0 {
		t.Errorf("expected metadata to be cleaned, got %+v", got)
	}
}

func TestUploadWithoutMultipartBodyIsBadRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader([]byte("not multipart")))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestWrongMethodReturns405(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/upload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestListOnFreshServerReturnsEmptyArray(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "[]" {
		t.Errorf("expected [] body, got %q", rec.Body.String())
	}
}
