package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitSendsMultipartAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/storybook/start" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("Idempotency-Key") != "k-1" {
			t.Fatalf("missing headers: %+v", r.Header)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("expected image part: %v", err)
		}
		defer file.Close()
		payload, _ := io.ReadAll(file)
		if header.Filename != "kid.jpg" || string(payload) != "photo" {
			t.Fatalf("unexpected upload %q %q", header.Filename, payload)
		}
		if r.FormValue("story") != "jack" || r.FormValue("gender") != "girl" {
			t.Fatalf("unexpected fields story=%q gender=%q", r.FormValue("story"), r.FormValue("gender"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "job_id": "abc123"})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL + "/", Token: "secret"})
	jobID, err := client.Submit(context.Background(), SubmitRequest{
		Image:          []byte("photo"),
		Filename:       "/tmp/kid.jpg",
		Story:          "jack",
		Gender:         "girl",
		IdempotencyKey: "k-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobID != "abc123" {
		t.Fatalf("unexpected job id %q", jobID)
	}
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"Invalid job id"}`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).Status(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Invalid job id" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("job_id") != "job-1" {
			t.Fatalf("unexpected query %q", r.URL.RawQuery)
		}
		state, progress := "working", 40
		if calls.Add(1) >= 3 {
			state, progress = "done", 100
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "state": state, "progress": progress, "message": "m"})
	}))
	defer server.Close()

	var seen []int
	status, err := New(Config{BaseURL: server.URL}).Wait(context.Background(), "job-1", time.Millisecond, func(s Status) {
		seen = append(seen, s.Progress)
	})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if status.State != "done" || len(seen) != 3 {
		t.Fatalf("unexpected final status %+v after %v", status, seen)
	}
}

func TestDownloadCopiesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storybook/download/job-1.pdf" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.3 fake"))
	}))
	defer server.Close()

	var out bytes.Buffer
	written, err := New(Config{BaseURL: server.URL}).Download(context.Background(), "job-1", &out)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if written != int64(out.Len()) || out.String() != "%PDF-1.3 fake" {
		t.Fatalf("unexpected body %q (%d)", out.String(), written)
	}
}

func TestListBooksEncodesQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "done" || r.URL.Query().Get("page_size") != "5" {
			t.Fatalf("unexpected query %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"items":     []map[string]any{{"job_id": "a", "state": "done", "page_count": 12}},
			"total":     1,
			"page":      1,
			"page_size": 5,
		})
	}))
	defer server.Close()

	list, err := New(Config{BaseURL: server.URL}).ListBooks(context.Background(), "done", 0, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].PageCount != 12 {
		t.Fatalf("unexpected list %+v", list)
	}
}
