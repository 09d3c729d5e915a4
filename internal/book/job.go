// Package book defines the domain model shared across the pipeline:
// jobs, chapters, compression levels, and the error taxonomy.
// This package has no dependencies on other abridge packages to avoid import cycles.
package book

import (
	"fmt"
	"time"
)

// JobStatus represents the overall state of a condensation job.
type JobStatus string

const (
	JobUploading  JobStatus = "uploading"
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal returns true if no further work will happen for this status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ChapterStatus represents the state of a single chapter.
type ChapterStatus string

const (
	ChapterPending    ChapterStatus = "pending"
	ChapterProcessing ChapterStatus = "processing"
	ChapterCompleted  ChapterStatus = "completed"
	ChapterSkipped    ChapterStatus = "skipped"
)

// Terminal returns true if no further work will be dispatched for this chapter.
func (s ChapterStatus) Terminal() bool {
	return s == ChapterCompleted || s == ChapterSkipped
}

// Level is the requested compression level for a job.
type Level string

const (
	LevelLight  Level = "light"
	LevelMedium Level = "medium"
	LevelHeavy  Level = "heavy"
)

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelLight, LevelMedium, LevelHeavy:
		return Level(s), nil
	default:
		return "", fmt.Errorf("invalid compression level: %q (valid: light, medium, heavy)", s)
	}
}

// TargetReduction returns the approximate target size reduction for the level.
// This is directional guidance to the model, never enforced post-hoc.
func (l Level) TargetReduction() int {
	switch l {
	case LevelLight:
		return 30
	case LevelHeavy:
		return 70
	default:
		return 50
	}
}

// Chapter is one contiguous page range of the source book.
// Chapters are owned by their Job and never shared across jobs.
type Chapter struct {
	ID        string        `json:"id"`
	Index     int           `json:"index"`
	Title     string        `json:"title"`
	StartPage int           `json:"start_page"` // 1-based, inclusive
	EndPage   int           `json:"end_page"`   // 1-based, inclusive
	Essential bool          `json:"essential"`
	Status    ChapterStatus `json:"status"`

	// Blob keys for intermediate artifacts, set as stages complete.
	OriginalKey  string `json:"original_key,omitempty"`
	CondensedKey string `json:"condensed_key,omitempty"`
}

// Job is one user request to condense one book.
type Job struct {
	ID        string `json:"id"`
	SourceKey string `json:"source_key"`

	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	PageCount int    `json:"page_count"`

	Level  Level     `json:"level"`
	Status JobStatus `json:"status"`

	Progress int    `json:"progress"` // 0-100, monotonic while processing
	Step     string `json:"step,omitempty"`

	Chapters []Chapter `json:"chapters,omitempty"`

	OutputKey   string `json:"output_key,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Chapter returns the chapter with the given id, or nil.
func (j *Job) Chapter(chapterID string) *Chapter {
	for i := range j.Chapters {
		if j.Chapters[i].ID == chapterID {
			return &j.Chapters[i]
		}
	}
	return nil
}

// EssentialChapters returns the chapters subject to condensation.
func (j *Job) EssentialChapters() []Chapter {
	var out []Chapter
	for _, ch := range j.Chapters {
		if ch.Essential {
			out = append(out, ch)
		}
	}
	return out
}

// EssentialTerminal reports whether every essential chapter has reached
// a terminal state. This is the fan-in condition for assembly.
func (j *Job) EssentialTerminal() bool {
	for _, ch := range j.Chapters {
		if ch.Essential && !ch.Status.Terminal() {
			return false
		}
	}
	return true
}

// CompletedChapters returns chapters that were condensed and rendered,
// in original chapter order.
func (j *Job) CompletedChapters() []Chapter {
	var out []Chapter
	for _, ch := range j.Chapters {
		if ch.Status == ChapterCompleted {
			out = append(out, ch)
		}
	}
	return out
}
