package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iago/storybook-back/internal/domain"
)

// BooksRepository keeps the history of finished storybook jobs.
type BooksRepository interface {
	RecordBook(ctx context.Context, record domain.BookRecord) error
	ListBooks(ctx context.Context, filter domain.BookListFilter) ([]domain.BookRecord, int, error)
}

// MemoryBooksRepository stores history in memory for local development.
type MemoryBooksRepository struct {
	mu    sync.RWMutex
	books map[string]domain.BookRecord
}

func NewMemoryBooksRepository() *MemoryBooksRepository {
	return &MemoryBooksRepository{
		books: make(map[string]domain.BookRecord),
	}
}

// RecordBook upserts by job id.
func (r *MemoryBooksRepository) RecordBook(_ context.Context, record domain.BookRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.books[record.JobID] = record
	return nil
}

func (r *MemoryBooksRepository) ListBooks(
	_ context.Context,
	filter domain.BookListFilter,
) ([]domain.BookRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter = normalizeFilter(filter)

	items := make([]domain.BookRecord, 0)
	for _, book := range r.books {
		if filter.State != "" && book.State != filter.State {
			continue
		}
		if filter.Story != "" && book.Story != filter.Story {
			continue
		}
		items = append(items, book)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []domain.BookRecord{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	return items[start:end], total, nil
}

func normalizeFilter(filter domain.BookListFilter) domain.BookListFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	return filter
}

var _ BooksRepository = (*MemoryBooksRepository)(nil)
