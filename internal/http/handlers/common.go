package handlers

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iago/storybook-back/internal/http/middleware"
	"github.com/iago/storybook-back/internal/service"
)

const idempotencyTTL = 24 * time.Hour

type API struct {
	storybooks     *service.StorybooksService
	idempotency    *idempotencyStore
	maxUploadBytes int64
	logger         logrus.FieldLogger
}

func NewAPI(storybooks *service.StorybooksService, maxUploadMB int, logger logrus.FieldLogger) *API {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{
		storybooks:     storybooks,
		idempotency:    newIdempotencyStore(idempotencyTTL),
		maxUploadBytes: int64(maxUploadMB) << 20,
		logger:         logger,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	middleware.WriteError(w, r, statusCode, message)
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

// Pending reports a reservation whose submission has not finished yet.
func (e idempotencyEntry) Pending() bool {
	return e.JobID == ""
}

type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	ttl     time.Duration
	now     func() time.Time
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve claims key for a submission. When the key is already held the
// existing entry is returned with reserved set to false.
func (s *idempotencyStore) Reserve(key string, payloadHash uint64) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpired(now)
	if entry, ok := s.entries[key]; ok {
		return entry, false
	}
	entry := idempotencyEntry{PayloadHash: payloadHash, CreatedAt: now}
	s.entries[key] = entry
	return entry, true
}

// Complete binds a reserved key to the job it produced.
func (s *idempotencyStore) Complete(key, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	entry.JobID = jobID
	s.entries[key] = entry
}

// Release frees a reservation whose submission failed so the client can retry.
func (s *idempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && entry.Pending() {
		delete(s.entries, key)
	}
}

func (s *idempotencyStore) evictExpired(now time.Time) {
	for key, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, key)
		}
	}
}

func hashSubmission(image []byte, story, gender string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write(image)
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(story))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(gender))
	return hasher.Sum64()
}
