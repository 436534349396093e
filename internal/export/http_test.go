package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/notion-exporter/internal/notion"
)

const validID = "4b2a7e0c9d1f4e8a8c3b5d6e7f809a1b"

type stubService struct {
	text   string
	err    error
	calls  []string
	lastID string
}

func (s *stubService) record(name, idOrURL string) {
	s.calls = append(s.calls, name)
	s.lastID = idOrURL
}

func (s *stubService) GetTaskID(ctx context.Context, idOrURL string) (string, error) {
	s.record("task", idOrURL)
	return "task-1", s.err
}

func (s *stubService) GetZipURL(ctx context.Context, idOrURL string) (string, error) {
	s.record("url", idOrURL)
	return "https://files.example/export.zip", s.err
}

func (s *stubService) GetCSVString(ctx context.Context, idOrURL string) (string, error) {
	s.record("csv", idOrURL)
	return s.text, s.err
}

func (s *stubService) GetMDString(ctx context.Context, idOrURL string) (string, error) {
	s.record("md", idOrURL)
	return s.text, s.err
}

func (s *stubService) GetFileString(ctx context.Context, idOrURL string, predicate notion.EntryPredicate) (string, error) {
	s.record("file", idOrURL)
	return s.text, s.err
}

type stubScheduler struct {
	idOrURL string
	sel     Selection
	err     error
}

func (s *stubScheduler) Schedule(ctx context.Context, idOrURL string, sel Selection) (string, error) {
	s.idOrURL = idOrURL
	s.sel = sel
	return "job-123", s.err
}

func newRouter(svc Service, opts HandlerOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/exports/task", TaskHandler(svc))
	router.POST("/api/exports/url", ZipURLHandler(svc))
	router.POST("/api/exports/csv", CSVHandler(svc, opts))
	router.POST("/api/exports/markdown", MarkdownHandler(svc, opts))
	router.POST("/api/exports/file", FileHandler(svc, opts))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v body=%s", err, rec.Body.String())
	}
	return payload
}

func TestCSVHandlerSuccess(t *testing.T) {
	svc := &stubService{text: "Name,Tags\nA,x"}
	router := newRouter(svc, HandlerOptions{})

	rec := postJSON(t, router, "/api/exports/csv", Request{ID: "  " + validID + " "})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("unexpected content-type: %s", ct)
	}
	if rec.Body.String() != "Name,Tags\nA,x" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if len(svc.calls) != 1 || svc.calls[0] != "csv" {
		t.Fatalf("unexpected calls: %v", svc.calls)
	}
	if svc.lastID != validID {
		t.Fatalf("id was not trimmed: %q", svc.lastID)
	}
}

func TestMarkdownHandlerUsesMDString(t *testing.T) {
	svc := &stubService{text: "# Title"}
	router := newRouter(svc, HandlerOptions{})

	rec := postJSON(t, router, "/api/exports/markdown", Request{ID: validID})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/markdown; charset=utf-8" {
		t.Fatalf("unexpected content-type: %s", ct)
	}
	if svc.calls[0] != "md" {
		t.Fatalf("unexpected calls: %v", svc.calls)
	}
}

func TestFileHandlerRequiresSuffix(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc, HandlerOptions{})

	rec := postJSON(t, router, "/api/exports/file", Request{ID: validID})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if decodeError(t, rec)["code"] != "INVALID_INPUT" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if len(svc.calls) != 0 {
		t.Fatalf("service should not be called: %v", svc.calls)
	}

	rec = postJSON(t, router, "/api/exports/file", Request{ID: validID, Suffix: ".txt"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if svc.calls[0] != "file" {
		t.Fatalf("unexpected calls: %v", svc.calls)
	}
}

func TestHandlersRejectMissingID(t *testing.T) {
	router := newRouter(&stubService{}, HandlerOptions{})

	for _, path := range []string{"/api/exports/task", "/api/exports/url", "/api/exports/csv"} {
		rec := postJSON(t, router, path, Request{ID: "   "})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: unexpected status: %d", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/exports/task", bytes.NewBufferString("not-json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status for invalid json: %d", rec.Code)
	}
}

func TestTaskAndURLHandlers(t *testing.T) {
	router := newRouter(&stubService{}, HandlerOptions{})

	rec := postJSON(t, router, "/api/exports/task", Request{ID: validID})
	if rec.Code != http.StatusOK || decodeError(t, rec)["taskId"] != "task-1" {
		t.Fatalf("unexpected task response: %d %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, router, "/api/exports/url", Request{ID: validID})
	if rec.Code != http.StatusOK || decodeError(t, rec)["url"] != "https://files.example/export.zip" {
		t.Fatalf("unexpected url response: %d %s", rec.Code, rec.Body.String())
	}
}

// timeoutError は http.Client.Timeout 超過時と同じく Timeout() が true の net.Error です。
type timeoutError struct{}

func (timeoutError) Error() string   { return "Client.Timeout exceeded while awaiting headers" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid identifier", fmt.Errorf("wrap: %w", notion.ErrInvalidIdentifier), http.StatusBadRequest, notion.CodeInvalidIdentifier},
		{"export failed", notion.ErrExportFailed, http.StatusBadGateway, notion.CodeExportFailed},
		{"entry not found", notion.ErrEntryNotFound, http.StatusNotFound, notion.CodeEntryNotFound},
		{"not archive", notion.ErrNotArchive, http.StatusBadGateway, notion.CodeNotArchive},
		{"upstream status", &notion.StatusError{Method: "POST", Path: "/api/v3/enqueueTask", StatusCode: 401}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"canceled", context.Canceled, http.StatusRequestTimeout, "REQUEST_CANCELED"},
		{"deadline", fmt.Errorf("poll: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"},
		{"client timeout", &url.Error{Op: "Post", URL: "https://www.notion.so/api/v3/getTasks", Err: timeoutError{}}, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(&stubService{err: tc.err}, HandlerOptions{})
			rec := postJSON(t, router, "/api/exports/csv", Request{ID: validID})

			if rec.Code != tc.status {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			if got := decodeError(t, rec)["code"]; got != tc.code {
				t.Fatalf("unexpected code: %s", got)
			}
		})
	}
}

func TestAsyncSchedulesJob(t *testing.T) {
	svc := &stubService{}
	scheduler := &stubScheduler{}
	router := newRouter(svc, HandlerOptions{Scheduler: scheduler})

	rec := postJSON(t, router, "/api/exports/file", Request{ID: validID, Suffix: ".md", Async: true})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if decodeError(t, rec)["jobId"] != "job-123" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if scheduler.idOrURL != validID || scheduler.sel.Format != FormatFile || scheduler.sel.Suffix != ".md" {
		t.Fatalf("unexpected schedule args: %q %+v", scheduler.idOrURL, scheduler.sel)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("service should not run synchronously: %v", svc.calls)
	}
}

func TestAsyncRejectsInvalidIdentifierBeforeScheduling(t *testing.T) {
	scheduler := &stubScheduler{}
	router := newRouter(&stubService{}, HandlerOptions{Scheduler: scheduler})

	rec := postJSON(t, router, "/api/exports/csv", Request{ID: "not-a-block", Async: true})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if scheduler.idOrURL != "" {
		t.Fatal("scheduler should not be called")
	}
}

func TestAsyncWithoutSchedulerRunsSynchronously(t *testing.T) {
	svc := &stubService{text: "a,b"}
	router := newRouter(svc, HandlerOptions{})

	rec := postJSON(t, router, "/api/exports/csv", Request{ID: validID, Async: true})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(svc.calls) != 1 {
		t.Fatalf("unexpected calls: %v", svc.calls)
	}
}

func TestNewSelection(t *testing.T) {
	if _, err := NewSelection(Format("pdf"), ""); err == nil {
		t.Fatal("expected error for unknown format")
	}

	sel, err := NewSelection(FormatCSV, ".ignored")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Suffix != "" {
		t.Fatalf("suffix should be dropped for csv: %+v", sel)
	}

	sel, err = NewSelection(FormatFile, " .txt ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Suffix != ".txt" || sel.ContentType() != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected selection: %+v", sel)
	}
}
