package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/storybook-back/internal/domain"
)

const booksSchema = `
CREATE TABLE IF NOT EXISTS storybooks (
	job_id      TEXT PRIMARY KEY,
	story       TEXT NOT NULL,
	gender      TEXT NOT NULL,
	state       TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	page_count  INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS storybooks_created_at_idx ON storybooks (created_at DESC);
`

type PostgresBooksRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresBooksRepository(ctx context.Context, databaseURL string) (*PostgresBooksRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, booksSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure storybooks schema: %w", err)
	}
	return &PostgresBooksRepository{pool: pool}, nil
}

func (r *PostgresBooksRepository) Close() {
	r.pool.Close()
}

func (r *PostgresBooksRepository) RecordBook(ctx context.Context, record domain.BookRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO storybooks (
			job_id,
			story,
			gender,
			state,
			message,
			title,
			page_count,
			created_at,
			finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (job_id) DO UPDATE
		SET state = EXCLUDED.state,
			message = EXCLUDED.message,
			title = EXCLUDED.title,
			page_count = EXCLUDED.page_count,
			finished_at = EXCLUDED.finished_at
	`,
		record.JobID,
		string(record.Story),
		string(record.Gender),
		string(record.State),
		record.Message,
		record.Title,
		record.PageCount,
		record.CreatedAt,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record book: %w", err)
	}
	return nil
}

func (r *PostgresBooksRepository) ListBooks(
	ctx context.Context,
	filter domain.BookListFilter,
) ([]domain.BookRecord, int, error) {
	filter = normalizeFilter(filter)
	baseQuery, args := buildBookFilters(filter)

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT job_id, story, gender, state, message, title, page_count, created_at, finished_at
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	items := make([]domain.BookRecord, 0)
	for rows.Next() {
		var (
			item   domain.BookRecord
			story  string
			gender string
			state  string
		)
		if err := rows.Scan(
			&item.JobID,
			&story,
			&gender,
			&state,
			&item.Message,
			&item.Title,
			&item.PageCount,
			&item.CreatedAt,
			&item.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan book: %w", err)
		}
		item.Story = domain.Story(story)
		item.Gender = domain.Gender(gender)
		item.State = domain.JobState(state)
		items = append(items, item)
	}

	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate books: %w", rows.Err())
	}

	return items, total, nil
}

func buildBookFilters(filter domain.BookListFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM storybooks WHERE 1=1")

	args := make([]any, 0, 2)
	argIndex := 1

	if state := strings.TrimSpace(string(filter.State)); state != "" {
		query.WriteString(fmt.Sprintf(" AND state = $%d", argIndex))
		args = append(args, state)
		argIndex++
	}

	if story := strings.TrimSpace(string(filter.Story)); story != "" {
		query.WriteString(fmt.Sprintf(" AND story = $%d", argIndex))
		args = append(args, story)
		argIndex++
	}

	return query.String(), args
}

var _ BooksRepository = (*PostgresBooksRepository)(nil)
