// Package progress derives user-visible progress from job state.
// Compute is a pure function of the job; callers re-emit on every
// chapter transition. Monotonicity of the persisted percent is
// enforced by the store's conditional progress write, not here.
package progress

import (
	"fmt"

	"github.com/abridge/abridge/internal/book"
)

// Fixed milestones. Condensation dominates total runtime, so the bulk
// of the range is proportional to terminal essential chapters.
const (
	percentUploading   = 5
	percentQueued      = 10
	percentSegmenting  = 10
	percentSegmented   = 25
	percentCondenseTop = 90
	percentAssembling  = 95
	percentCompleted   = 100
)

// Compute returns the overall percent complete and a human-readable
// step description for the job's current state.
func Compute(j *book.Job) (int, string) {
	switch j.Status {
	case book.JobUploading:
		return percentUploading, "Uploading book"
	case book.JobQueued:
		return percentQueued, "Queued for processing"
	case book.JobCompleted:
		return percentCompleted, "Completed"
	case book.JobFailed:
		// Report the last position reached; a failed job's percent is
		// informational only.
		return j.Progress, "Failed"
	}

	// Processing: segmenting until chapters are known.
	if len(j.Chapters) == 0 {
		return percentSegmenting, "Analyzing book structure"
	}

	essential := j.EssentialChapters()
	total := len(essential)
	if total == 0 {
		return percentCondenseTop, "Assembling condensed book"
	}

	terminal := 0
	for _, ch := range essential {
		if ch.Status.Terminal() {
			terminal++
		}
	}

	if terminal >= total {
		return percentAssembling, "Assembling condensed book"
	}

	span := percentCondenseTop - percentSegmented
	percent := percentSegmented + span*terminal/total
	return percent, fmt.Sprintf("Condensing chapters (%d/%d)", terminal, total)
}
