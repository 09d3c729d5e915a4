// Package notify carries progress events from the pipeline to whatever
// front-end is listening. The pipeline does not know or care how events
// are displayed.
package notify

import (
	"log/slog"

	"github.com/abridge/abridge/internal/book"
)

// Event is one progress update for a job.
type Event struct {
	JobID   string         `json:"job_id"`
	Percent int            `json:"percent"`
	Step    string         `json:"step"`
	Status  book.JobStatus `json:"status"`
}

// Notifier consumes progress events.
type Notifier interface {
	Notify(event Event)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the event.
func (n *LogNotifier) Notify(event Event) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("job progress",
		"job_id", event.JobID,
		"percent", event.Percent,
		"step", event.Step,
		"status", event.Status)
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

// Notify delivers the event to every notifier.
func (m Multi) Notify(event Event) {
	for _, n := range m {
		n.Notify(event)
	}
}
