package progress

import (
	"testing"

	"github.com/abridge/abridge/internal/book"
)

func chapters(statuses ...book.ChapterStatus) []book.Chapter {
	out := make([]book.Chapter, len(statuses))
	for i, s := range statuses {
		out[i] = book.Chapter{Essential: true, Status: s}
	}
	return out
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		job         *book.Job
		wantPercent int
		wantStep    string
	}{
		{
			name:        "uploading",
			job:         &book.Job{Status: book.JobUploading},
			wantPercent: 5,
			wantStep:    "Uploading book",
		},
		{
			name:        "queued",
			job:         &book.Job{Status: book.JobQueued},
			wantPercent: 10,
			wantStep:    "Queued for processing",
		},
		{
			name:        "processing before segmentation",
			job:         &book.Job{Status: book.JobProcessing},
			wantPercent: 10,
			wantStep:    "Analyzing book structure",
		},
		{
			name: "segmented, nothing condensed",
			job: &book.Job{
				Status:   book.JobProcessing,
				Chapters: chapters(book.ChapterPending, book.ChapterPending),
			},
			wantPercent: 25,
			wantStep:    "Condensing chapters (0/2)",
		},
		{
			name: "half the chapters terminal",
			job: &book.Job{
				Status:   book.JobProcessing,
				Chapters: chapters(book.ChapterCompleted, book.ChapterProcessing),
			},
			wantPercent: 57,
			wantStep:    "Condensing chapters (1/2)",
		},
		{
			name: "skipped chapters count as terminal",
			job: &book.Job{
				Status:   book.JobProcessing,
				Chapters: chapters(book.ChapterCompleted, book.ChapterSkipped, book.ChapterPending),
			},
			wantPercent: 25 + 65*2/3,
			wantStep:    "Condensing chapters (2/3)",
		},
		{
			name: "all chapters terminal",
			job: &book.Job{
				Status:   book.JobProcessing,
				Chapters: chapters(book.ChapterCompleted, book.ChapterSkipped),
			},
			wantPercent: 95,
			wantStep:    "Assembling condensed book",
		},
		{
			name: "no essential chapters",
			job: &book.Job{
				Status:   book.JobProcessing,
				Chapters: []book.Chapter{{Essential: false, Status: book.ChapterSkipped}},
			},
			wantPercent: 90,
			wantStep:    "Assembling condensed book",
		},
		{
			name:        "completed",
			job:         &book.Job{Status: book.JobCompleted},
			wantPercent: 100,
			wantStep:    "Completed",
		},
		{
			name:        "failed keeps last position",
			job:         &book.Job{Status: book.JobFailed, Progress: 57},
			wantPercent: 57,
			wantStep:    "Failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percent, step := Compute(tt.job)
			if percent != tt.wantPercent {
				t.Errorf("Compute() percent = %d, want %d", percent, tt.wantPercent)
			}
			if step != tt.wantStep {
				t.Errorf("Compute() step = %q, want %q", step, tt.wantStep)
			}
		})
	}
}

// TestComputeMonotonic walks a job through its full lifecycle and
// checks the computed percent never regresses.
func TestComputeMonotonic(t *testing.T) {
	job := &book.Job{Status: book.JobUploading}

	advance := []func(){
		func() { job.Status = book.JobQueued },
		func() { job.Status = book.JobProcessing },
		func() { job.Chapters = chapters(book.ChapterPending, book.ChapterPending, book.ChapterPending) },
		func() { job.Chapters[1].Status = book.ChapterSkipped },
		func() { job.Chapters[0].Status = book.ChapterCompleted },
		func() { job.Chapters[2].Status = book.ChapterCompleted },
		func() { job.Status = book.JobCompleted },
	}

	last := 0
	for i, step := range advance {
		step()
		percent, _ := Compute(job)
		if percent < last {
			t.Fatalf("step %d: percent regressed from %d to %d", i, last, percent)
		}
		last = percent
	}
	if last != 100 {
		t.Errorf("final percent = %d, want 100", last)
	}
}
