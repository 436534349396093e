package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/notion-exporter/internal/config"
	"github.com/yourusername/notion-exporter/internal/export"
	"github.com/yourusername/notion-exporter/internal/jobs"
	"github.com/yourusername/notion-exporter/internal/notion"
)

type stubJobReader struct {
	record    *jobs.Record
	recordErr error
	result    *jobs.Result
	resultErr error
}

func (s *stubJobReader) GetRecord(ctx context.Context, jobID string) (*jobs.Record, error) {
	return s.record, s.recordErr
}

func (s *stubJobReader) OpenResult(ctx context.Context, jobID string) (*jobs.Result, error) {
	return s.result, s.resultErr
}

func newJobRouter(reader jobReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/jobs/:id", jobStatusHandler(reader))
	router.GET("/api/jobs/:id/download", jobDownloadHandler(reader))
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestJobStatusHandler(t *testing.T) {
	reader := &stubJobReader{record: &jobs.Record{
		JobID:       "job-1",
		Selection:   export.Selection{Format: export.FormatCSV},
		Status:      jobs.StatusSucceeded,
		Progress:    jobs.ProgressInfo{Percent: 100, Stage: jobs.StageCompleted},
		ExportURL:   "https://files.example/a.zip",
		DownloadURL: "/api/jobs/job-1/download",
		Meta:        &jobs.ResultMeta{EntryName: "Data.csv", Size: 3},
	}}

	rec := get(newJobRouter(reader), "/api/jobs/job-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["status"] != "done" || payload["exportUrl"] != "https://files.example/a.zip" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["error"]; ok {
		t.Fatalf("error should be omitted: %v", payload)
	}
	meta := payload["meta"].(map[string]any)
	if meta["entryName"] != "Data.csv" {
		t.Fatalf("unexpected meta: %v", meta)
	}
}

func TestJobStatusHandlerNotFound(t *testing.T) {
	rec := get(newJobRouter(&stubJobReader{}), "/api/jobs/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	rec = get(newJobRouter(&stubJobReader{recordErr: errors.New("redis down")}), "/api/jobs/x")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestJobDownloadHandler(t *testing.T) {
	reader := &stubJobReader{result: &jobs.Result{
		JobID:     "job-1",
		Selection: export.Selection{Format: export.FormatMarkdown},
		EntryName: "Page.md",
		Text:      "# Title",
	}}

	rec := get(newJobRouter(reader), "/api/jobs/job-1/download")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Body.String() != "# Title" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/markdown; charset=utf-8" {
		t.Fatalf("unexpected content-type: %s", ct)
	}
	if rec.Header().Get("X-Entry-Name") != "Page.md" || rec.Header().Get("X-Job-Id") != "job-1" {
		t.Fatalf("unexpected headers: %v", rec.Header())
	}
}

func TestJobDownloadHandlerErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: x", jobs.ErrJobNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", jobs.ErrJobNotReady), http.StatusConflict},
		{notion.ErrEntryNotFound, http.StatusNotFound},
		{&notion.StatusError{Method: "GET", Path: "/a.zip", StatusCode: 403}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := get(newJobRouter(&stubJobReader{resultErr: tc.err}), "/api/jobs/x/download")
		if rec.Code != tc.status {
			t.Fatalf("%v: unexpected status: %d", tc.err, rec.Code)
		}
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &config.Config{CORSAllowedOrigins: " http://a.example , ,http://b.example"}
	got := allowedOrigins(cfg)
	if len(got) != 2 || got[0] != "http://a.example" || got[1] != "http://b.example" {
		t.Fatalf("unexpected origins: %v", got)
	}
}
