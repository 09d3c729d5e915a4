// Package store persists job records. The job record is the single
// source of truth for pipeline state: dispatch units may run in
// separate processes, so no process-local cache of job state may be
// relied upon across invocations.
//
// All writes are targeted partial updates keyed by job id (and chapter
// id for chapter-level fields) so concurrent chapter completions never
// clobber sibling chapters.
package store

import (
	"context"
	"errors"

	"github.com/abridge/abridge/internal/book"
)

// ErrNotFound indicates no job record exists for the given id.
var ErrNotFound = errors.New("job not found")

// JobUpdate is a partial update of job-level fields.
// Nil fields are left untouched.
type JobUpdate struct {
	Status          *book.JobStatus
	Progress        *int
	Step            *string
	Title           *string
	Author          *string
	PageCount       *int
	OutputKey       *string
	ErrorDetail     *string
	CancelRequested *bool
}

// ChapterUpdate is a partial update of one chapter's fields.
// Nil fields are left untouched.
type ChapterUpdate struct {
	Status       *book.ChapterStatus
	OriginalKey  *string
	CondensedKey *string
}

// Store is the job record store consumed by the pipeline.
type Store interface {
	// Create persists a new job record.
	Create(ctx context.Context, job *book.Job) error

	// Get returns the job record for the id, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*book.Job, error)

	// UpdateJob applies a partial update to job-level fields.
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error

	// UpdateProgress records progress for an in-flight job. The write
	// lands only while the job is non-terminal and percent is at least
	// the stored value: a late writer holding a stale snapshot can
	// never lower the reported percent or touch a finished record.
	// Returns whether the write was applied.
	UpdateProgress(ctx context.Context, jobID string, percent int, step string) (bool, error)

	// SetChapters stores the segmented chapter list. Called exactly
	// once per job; the list never changes length or order afterwards.
	SetChapters(ctx context.Context, jobID string, chapters []book.Chapter) error

	// UpdateChapter applies a partial update scoped to one chapter.
	UpdateChapter(ctx context.Context, jobID, chapterID string, update ChapterUpdate) error

	// ClaimAssembly atomically claims the right to run assembly for a
	// job. Exactly one caller observes true; all others false. This is
	// the single-assembly guard for the fan-in race.
	ClaimAssembly(ctx context.Context, jobID string) (bool, error)
}

// Helpers for building partial updates.

// StatusPtr returns a pointer to the given job status.
func StatusPtr(s book.JobStatus) *book.JobStatus { return &s }

// ChapterStatusPtr returns a pointer to the given chapter status.
func ChapterStatusPtr(s book.ChapterStatus) *book.ChapterStatus { return &s }

// IntPtr returns a pointer to the given int.
func IntPtr(n int) *int { return &n }

// StrPtr returns a pointer to the given string.
func StrPtr(s string) *string { return &s }

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool { return &b }
