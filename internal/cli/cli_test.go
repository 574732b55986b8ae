package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/storybook/start":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "job_id": "job42"})
		case r.URL.Path == "/storybook/status" && r.URL.Query().Get("job_id") == "job42":
			if polls.Add(1) < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "state": "working", "progress": 50, "message": "Creating page 6 of 12..."})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true, "state": "done", "progress": 100,
				"message": "Completed! Your book is ready.", "download_url": "/storybook/download/job42.pdf",
			})
		case r.URL.Path == "/storybook/status":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"error":"Invalid job id"}`))
		case r.URL.Path == "/storybook/download/job42.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-fake"))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSubmitWaitDownloadsPDF(t *testing.T) {
	server := fakeAPI(t)
	defer server.Close()

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "kid.png")
	if err := os.WriteFile(imagePath, []byte("photo"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	output := filepath.Join(dir, "book.pdf")

	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{
		"--server", server.URL, "submit", "--image", imagePath, "--wait", "--interval", "1ms", "--output", output,
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "job42" {
		t.Fatalf("expected job id on stdout, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Completed! Your book is ready.") {
		t.Fatalf("expected progress lines, got %q", stderr.String())
	}
	pdf, err := os.ReadFile(output)
	if err != nil || string(pdf) != "%PDF-fake" {
		t.Fatalf("unexpected output %q: %v", pdf, err)
	}
}

func TestStatusReportsServerError(t *testing.T) {
	server := fakeAPI(t)
	defer server.Close()

	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--server", server.URL, "status", "missing"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected failure exit code, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Invalid job id") {
		t.Fatalf("expected server message, got %q", stderr.String())
	}
}

func TestSubmitRequiresImageFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Execute(context.Background(), []string{"submit"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure without --image, got %d", code)
	}
}
