package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abridge/abridge/internal/book"
)

// Postgres is a Store backed by PostgreSQL. Chapters are stored as a
// jsonb sub-document of the job row; chapter updates merge into the
// matching array element only, never rewrite the whole record.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and ensures the schema exists.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id               TEXT PRIMARY KEY,
			source_key       TEXT NOT NULL,
			title            TEXT NOT NULL DEFAULT '',
			author           TEXT NOT NULL DEFAULT '',
			page_count       INT NOT NULL DEFAULT 0,
			level            TEXT NOT NULL,
			status           TEXT NOT NULL,
			progress         INT NOT NULL DEFAULT 0,
			step             TEXT NOT NULL DEFAULT '',
			chapters         JSONB NOT NULL DEFAULT '[]'::jsonb,
			output_key       TEXT NOT NULL DEFAULT '',
			error_detail     TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			assembly_claimed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			expires_at       TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure jobs table: %w", err)
	}
	return nil
}

// Create persists a new job record.
func (s *Postgres) Create(ctx context.Context, job *book.Job) error {
	chapters, err := json.Marshal(job.Chapters)
	if err != nil {
		return fmt.Errorf("failed to marshal chapters: %w", err)
	}
	if job.Chapters == nil {
		chapters = []byte("[]")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, source_key, title, author, page_count, level, status,
			progress, step, chapters, output_key, error_detail, cancel_requested,
			created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID, job.SourceKey, job.Title, job.Author, job.PageCount, job.Level,
		job.Status, job.Progress, job.Step, chapters, job.OutputKey,
		job.ErrorDetail, job.CancelRequested, job.CreatedAt, job.UpdatedAt, job.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job record for the id.
func (s *Postgres) Get(ctx context.Context, jobID string) (*book.Job, error) {
	var job book.Job
	var chapters []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, source_key, title, author, page_count, level, status,
			progress, step, chapters, output_key, error_detail, cancel_requested,
			created_at, updated_at, expires_at
		FROM jobs WHERE id = $1`, jobID).Scan(
		&job.ID, &job.SourceKey, &job.Title, &job.Author, &job.PageCount,
		&job.Level, &job.Status, &job.Progress, &job.Step, &chapters,
		&job.OutputKey, &job.ErrorDetail, &job.CancelRequested,
		&job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	if err := json.Unmarshal(chapters, &job.Chapters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chapters for job %s: %w", jobID, err)
	}
	return &job, nil
}

// UpdateJob applies a partial update to job-level fields.
func (s *Postgres) UpdateJob(ctx context.Context, jobID string, update JobUpdate) error {
	set := "updated_at = $2"
	args := []any{jobID, time.Now().UTC()}

	add := func(column string, value any) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.Progress != nil {
		add("progress", *update.Progress)
	}
	if update.Step != nil {
		add("step", *update.Step)
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Author != nil {
		add("author", *update.Author)
	}
	if update.PageCount != nil {
		add("page_count", *update.PageCount)
	}
	if update.OutputKey != nil {
		add("output_key", *update.OutputKey)
	}
	if update.ErrorDetail != nil {
		add("error_detail", *update.ErrorDetail)
	}
	if update.CancelRequested != nil {
		add("cancel_requested", *update.CancelRequested)
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE jobs SET %s WHERE id = $1", set), args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// UpdateProgress conditionally records progress for an in-flight job.
// The guard lives in the WHERE clause so concurrent writers race at
// the row, not in application code; zero rows affected means the job
// is terminal, already further along, or gone, and the write is
// dropped either way.
func (s *Postgres) UpdateProgress(ctx context.Context, jobID string, percent int, step string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET progress = $2, step = $3, updated_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed') AND progress <= $2`,
		jobID, percent, step, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to update progress for job %s: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetChapters stores the segmented chapter list.
func (s *Postgres) SetChapters(ctx context.Context, jobID string, chapters []book.Chapter) error {
	data, err := json.Marshal(chapters)
	if err != nil {
		return fmt.Errorf("failed to marshal chapters: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET chapters = $2::jsonb, updated_at = $3
		WHERE id = $1 AND chapters = '[]'::jsonb`,
		jobID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set chapters for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s missing or chapters already set: %w", jobID, ErrNotFound)
	}
	return nil
}

// UpdateChapter merges a partial update into the matching chapter
// element of the jsonb array. Sibling chapters are untouched, so
// concurrent chapter completions never clobber each other.
func (s *Postgres) UpdateChapter(ctx context.Context, jobID, chapterID string, update ChapterUpdate) error {
	patch := map[string]any{}
	if update.Status != nil {
		patch["status"] = *update.Status
	}
	if update.OriginalKey != nil {
		patch["original_key"] = *update.OriginalKey
	}
	if update.CondensedKey != nil {
		patch["condensed_key"] = *update.CondensedKey
	}
	if len(patch) == 0 {
		return nil
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal chapter patch: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET updated_at = $4, chapters = (
			SELECT COALESCE(jsonb_agg(
				CASE WHEN elem->>'id' = $2 THEN elem || $3::jsonb ELSE elem END
				ORDER BY ord), '[]'::jsonb)
			FROM jsonb_array_elements(chapters) WITH ORDINALITY AS t(elem, ord)
		)
		WHERE id = $1 AND chapters @> jsonb_build_array(jsonb_build_object('id', $2::text))`,
		jobID, chapterID, patchJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update chapter %s of job %s: %w", chapterID, jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s chapter %s: %w", jobID, chapterID, ErrNotFound)
	}
	return nil
}

// ClaimAssembly atomically claims assembly for a job.
func (s *Postgres) ClaimAssembly(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET assembly_claimed = TRUE, updated_at = $2
		WHERE id = $1 AND NOT assembly_claimed`,
		jobID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim assembly for job %s: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}
