package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthProtectsOnlyV1Routes(t *testing.T) {
	handler := Auth("secret")(okHandler())

	cases := []struct {
		path   string
		header string
		want   int
	}{
		{path: "/storybook/status", want: http.StatusOK},
		{path: "/v1/storybooks", want: http.StatusUnauthorized},
		{path: "/v1/storybooks", header: "Bearer wrong", want: http.StatusUnauthorized},
		{path: "/v1/storybooks", header: "Bearer secret", want: http.StatusOK},
	}
	for _, tc := range cases {
		request := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			request.Header.Set("Authorization", tc.header)
		}
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		if recorder.Code != tc.want {
			t.Fatalf("%s with %q: expected %d, got %d", tc.path, tc.header, tc.want, recorder.Code)
		}
	}
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RequestID(RateLimit(ctx, 1, 2)(okHandler()))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/storybook/status", nil)
		request.RemoteAddr = "10.0.0.1:1234"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		codes = append(codes, recorder.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.RemoteAddr = "10.0.0.1:1234"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected health checks to bypass the limiter, got %d", recorder.Code)
	}
}

func TestRateLimitChargesSubmissionsMore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 1, 6)(okHandler())

	send := func(method, path string) *httptest.ResponseRecorder {
		request := httptest.NewRequest(method, path, nil)
		request.RemoteAddr = "10.0.0.2:5555"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		return recorder
	}

	if code := send(http.MethodPost, "/storybook/start").Code; code != http.StatusOK {
		t.Fatalf("expected first submission to pass, got %d", code)
	}
	if code := send(http.MethodGet, "/storybook/status").Code; code != http.StatusOK {
		t.Fatalf("expected poll to use the remaining token, got %d", code)
	}
	rejected := send(http.MethodPost, "/storybook/start")
	if rejected.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second submission to be limited, got %d", rejected.Code)
	}
	if retryAfter := rejected.Header().Get("Retry-After"); retryAfter != "5" {
		t.Fatalf("expected Retry-After 5, got %q", retryAfter)
	}
}

func TestRecoveryWritesJSONError(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	handler := RequestID(Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})))

	request := httptest.NewRequest(http.MethodGet, "/storybook/status", nil)
	request.Header.Set("X-Request-Id", "req-1")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["success"] != false || body["request_id"] != "req-1" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRequestIDGeneratesWhenMissingOrOversized(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("X-Request-Id", strings.Repeat("x", 500))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if len(seen) != 36 || recorder.Header().Get("X-Request-Id") != seen {
		t.Fatalf("expected generated uuid, got %q", seen)
	}

	request = httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("X-Request-Id", "bad id")
	handler.ServeHTTP(httptest.NewRecorder(), request)
	if seen == "bad id" || len(seen) != 36 {
		t.Fatalf("expected non-printable id to be replaced, got %q", seen)
	}

	request = httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("X-Request-Id", "book-req-7")
	handler.ServeHTTP(httptest.NewRecorder(), request)
	if seen != "book-req-7" {
		t.Fatalf("expected caller id to be kept, got %q", seen)
	}
}
