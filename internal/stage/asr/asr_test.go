package asr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/errorx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

type redirectTransport struct{ target *url.URL }

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = rt.target.Scheme
	req2.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req2)
}

func writeNBytes(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "sample.mp3")
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatalf("write sample file: %v", err)
	}
	return path
}

func TestPrepareUploadSkipsCompressionAtExactLimit(t *testing.T) {
	c := NewClient(mustTestLogger(t), "http://unused", "key")
	dir := t.TempDir()
	path := writeNBytes(t, dir, UploadLimitBytes)

	got, cleanup, err := c.prepareUpload(context.Background(), path)
	if err != nil {
		t.Fatalf("prepareUpload: %v", err)
	}
	if cleanup != nil {
		cleanup()
	}
	if got != path {
		t.Fatalf("prepareUpload returned %q, want original path %q (no compression at exact limit)", got, path)
	}
}

func TestTranscribeSuccessParsesSegmentsAndDerivesDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"text":     "hello world",
			"language": "en",
			"segments": []map[string]any{
				{"id": 0, "start": 0.0, "end": 2.5, "text": "hello"},
				{"id": 1, "start": 2.5, "end": 5.0, "text": "world"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	target, _ := url.Parse(srv.URL)
	c := NewClient(mustTestLogger(t), srv.URL, "key")
	c.httpClient = &http.Client{Transport: redirectTransport{target: target}}
	c.timeout = 5 * time.Second

	dir := t.TempDir()
	path := writeNBytes(t, dir, 1024)

	result, err := c.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "hello world" || len(result.Segments) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Duration != 5.0 {
		t.Fatalf("Duration = %v, want derived 5.0 from max segment end", result.Duration)
	}
}

func TestUploadPermanentClientErrorNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	target, _ := url.Parse(srv.URL)
	c := NewClient(mustTestLogger(t), srv.URL, "key")
	c.httpClient = &http.Client{Transport: redirectTransport{target: target}}
	c.timeout = 2 * time.Second

	dir := t.TempDir()
	path := writeNBytes(t, dir, 1024)

	_, err := c.Transcribe(context.Background(), path)
	if err == nil {
		t.Fatalf("expected error")
	}
	domainErr, ok := err.(*errorx.Error)
	if !ok {
		t.Fatalf("expected *errorx.Error, got %T", err)
	}
	if domainErr.Category != errorx.CategoryPermanentRemote {
		t.Fatalf("category = %s, want permanent_remote", domainErr.Category)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 (no retry on permanent 4xx)", calls)
	}
}

func TestUploadRateLimitedRetriesThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "ok", "segments": []map[string]any{}})
	}))
	defer srv.Close()

	target, _ := url.Parse(srv.URL)
	c := NewClient(mustTestLogger(t), srv.URL, "key")
	c.httpClient = &http.Client{Transport: redirectTransport{target: target}}
	c.timeout = 5 * time.Second

	dir := t.TempDir()
	path := writeNBytes(t, dir, 1024)

	result, err := c.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (one 429 then success)", calls)
	}
}
