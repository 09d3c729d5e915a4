package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abridge/abridge/internal/book"
)

// Memory is an in-memory Store for single-process mode and tests.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]*book.Job
	claimed map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]*book.Job),
		claimed: make(map[string]bool),
	}
}

// Create persists a new job record.
func (m *Memory) Create(_ context.Context, job *book.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

// Get returns a copy of the job record.
func (m *Memory) Get(_ context.Context, jobID string) (*book.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return copyJob(job), nil
}

// UpdateJob applies a partial update to job-level fields.
func (m *Memory) UpdateJob(_ context.Context, jobID string, update JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.Step != nil {
		job.Step = *update.Step
	}
	if update.Title != nil {
		job.Title = *update.Title
	}
	if update.Author != nil {
		job.Author = *update.Author
	}
	if update.PageCount != nil {
		job.PageCount = *update.PageCount
	}
	if update.OutputKey != nil {
		job.OutputKey = *update.OutputKey
	}
	if update.ErrorDetail != nil {
		job.ErrorDetail = *update.ErrorDetail
	}
	if update.CancelRequested != nil {
		job.CancelRequested = *update.CancelRequested
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateProgress conditionally records progress for an in-flight job.
func (m *Memory) UpdateProgress(_ context.Context, jobID string, percent int, step string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if job.Status.Terminal() || percent < job.Progress {
		return false, nil
	}
	job.Progress = percent
	job.Step = step
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

// SetChapters stores the segmented chapter list.
func (m *Memory) SetChapters(_ context.Context, jobID string, chapters []book.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if len(job.Chapters) > 0 {
		return fmt.Errorf("job %s chapters already set", jobID)
	}
	job.Chapters = make([]book.Chapter, len(chapters))
	copy(job.Chapters, chapters)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateChapter applies a partial update scoped to one chapter.
func (m *Memory) UpdateChapter(_ context.Context, jobID, chapterID string, update ChapterUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	ch := job.Chapter(chapterID)
	if ch == nil {
		return fmt.Errorf("job %s chapter %s: %w", jobID, chapterID, ErrNotFound)
	}

	if update.Status != nil {
		ch.Status = *update.Status
	}
	if update.OriginalKey != nil {
		ch.OriginalKey = *update.OriginalKey
	}
	if update.CondensedKey != nil {
		ch.CondensedKey = *update.CondensedKey
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// ClaimAssembly atomically claims assembly for a job.
func (m *Memory) ClaimAssembly(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return false, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if m.claimed[jobID] {
		return false, nil
	}
	m.claimed[jobID] = true
	return true, nil
}

func copyJob(job *book.Job) *book.Job {
	out := *job
	out.Chapters = make([]book.Chapter, len(job.Chapters))
	copy(out.Chapters, job.Chapters)
	return &out
}
