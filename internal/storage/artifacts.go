package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrArtifactNotFound = errors.New("storage: artifact not found")

// ArtifactStore gives every job its own directory under root:
//
//	<root>/<job_id>/page_01.png ... page_12.png
//	<root>/<job_id>/storybook_<job_id>.pdf
type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) (*ArtifactStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure root: %w", err)
	}
	return &ArtifactStore{root: root}, nil
}

func (s *ArtifactStore) Root() string {
	return s.root
}

func (s *ArtifactStore) JobDir(jobID string) (string, error) {
	cleanID, err := sanitizeJobID(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, cleanID), nil
}

// PrepareJobDir creates the job directory.
func (s *ArtifactStore) PrepareJobDir(jobID string) (string, error) {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create job dir: %w", err)
	}
	return dir, nil
}

// PagePath names pages with a zero-padded index so directory order is book
// order.
func (s *ArtifactStore) PagePath(jobID string, index int) (string, error) {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("page_%02d.png", index)), nil
}

func (s *ArtifactStore) ArtifactPath(jobID string) (string, error) {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ArtifactName(filepath.Base(dir))), nil
}

// ArtifactName is the file name of a finished book, also used as the
// download attachment name.
func ArtifactName(jobID string) string {
	return "storybook_" + jobID + ".pdf"
}

// WritePage stores one rendered page and returns its path.
func (s *ArtifactStore) WritePage(ctx context.Context, jobID string, index int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.PagePath(jobID, index)
	if err != nil {
		return "", err
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveJob deletes everything a job wrote.
func (s *ArtifactStore) RemoveJob(jobID string) error {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("storage: remove job dir: %w", err)
	}
	return nil
}

// OpenArtifact opens a finished book for reading. Paths outside the root are
// reported as missing.
func (s *ArtifactStore) OpenArtifact(path string) (*os.File, os.FileInfo, error) {
	if !s.contains(path) {
		return nil, nil, ErrArtifactNotFound
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrArtifactNotFound
		}
		return nil, nil, fmt.Errorf("storage: open artifact: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("storage: stat artifact: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, nil, ErrArtifactNotFound
	}
	return file, info, nil
}

// Sweep removes job directories last modified before cutoff and returns how
// many were deleted.
func (s *ArtifactStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("storage: list root: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return removed, fmt.Errorf("storage: remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("storage: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("storage: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("storage: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("storage: rename temp file: %w", err)
	}
	return nil
}

func (s *ArtifactStore) contains(path string) bool {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return false
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// sanitizeJobID rejects ids that could escape the store root.
func sanitizeJobID(jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", errors.New("storage: job id is required")
	}
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return "", errors.New("storage: invalid job id")
	}
	return jobID, nil
}
