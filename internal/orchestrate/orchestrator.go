// Package orchestrate glues the pipeline stages together per job: it
// decides when to fan out chapter work, when all chapters are
// accounted for, and when to trigger assembly.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/abridge/abridge/internal/blob"
	"github.com/abridge/abridge/internal/book"
	"github.com/abridge/abridge/internal/doc"
	"github.com/abridge/abridge/internal/notify"
	"github.com/abridge/abridge/internal/progress"
	"github.com/abridge/abridge/internal/stages"
	"github.com/abridge/abridge/internal/store"
)

// jobTTL is how long finished jobs and their artifacts are kept before
// the external retention sweep reclaims them.
const jobTTL = 7 * 24 * time.Hour

// Config wires the orchestrator's collaborators.
type Config struct {
	Store    store.Store
	Blobs    blob.Store
	Loader   *doc.Loader
	Metadata *stages.MetadataExtractor
	Segment  *stages.Segmenter
	Condense *stages.Condenser
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Orchestrator runs the condensation state machine for jobs.
type Orchestrator struct {
	store    store.Store
	blobs    blob.Store
	loader   *doc.Loader
	metadata *stages.MetadataExtractor
	segment  *stages.Segmenter
	condense *stages.Condenser
	notifier notify.Notifier
	logger   *slog.Logger

	// dispatch submits chapter units to the external scheduler.
	// Set via SetDispatcher before processing begins.
	dispatch func(Unit) error
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	return &Orchestrator{
		store:    cfg.Store,
		blobs:    cfg.Blobs,
		loader:   cfg.Loader,
		metadata: cfg.Metadata,
		segment:  cfg.Segment,
		condense: cfg.Condense,
		notifier: notifier,
		logger:   logger,
	}
}

// SetDispatcher wires the task-dispatch mechanism that will invoke
// chapter condensation units.
func (o *Orchestrator) SetDispatcher(dispatch func(Unit) error) {
	o.dispatch = dispatch
}

// CreateJob accepts uploaded document bytes, stores the source blob,
// and creates the job record in uploading state, then queues it.
func (o *Orchestrator) CreateJob(ctx context.Context, data []byte, level book.Level) (*book.Job, error) {
	now := time.Now().UTC()
	job := &book.Job{
		ID:        uuid.New().String(),
		Level:     level,
		Status:    book.JobUploading,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(jobTTL),
	}
	job.SourceKey = blob.OriginalKey(job.ID)
	job.Progress, job.Step = progress.Compute(job)

	if err := o.store.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := o.putWithRetry(ctx, job.SourceKey, data); err != nil {
		o.failJob(ctx, job.ID, fmt.Errorf("failed to store source document: %w", err))
		return nil, err
	}

	// Source is durably stored: uploading -> queued.
	if err := o.store.UpdateJob(ctx, job.ID, store.JobUpdate{
		Status: store.StatusPtr(book.JobQueued),
	}); err != nil {
		return nil, err
	}
	job.Status = book.JobQueued
	o.emitProgress(ctx, job.ID)
	return job, nil
}

// Cancel requests cancellation of a job. New chapter work stops being
// dispatched; in-flight units finish and update their chapters, after
// which the job transitions to failed (cancelled) instead of assembly.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	return o.store.UpdateJob(ctx, jobID, store.JobUpdate{
		CancelRequested: store.BoolPtr(true),
	})
}

// ProcessJob handles post-upload processing for one job: load the
// document, extract metadata, segment into chapters, and fan out one
// condensation unit per essential chapter.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		o.logger.Debug("ignoring process request for terminal job", "job_id", jobID, "status", job.Status)
		return nil
	}
	if job.CancelRequested {
		return o.failCancelled(ctx, jobID)
	}

	log := o.logger.With("job_id", jobID)

	if err := o.store.UpdateJob(ctx, jobID, store.JobUpdate{
		Status: store.StatusPtr(book.JobProcessing),
	}); err != nil {
		return err
	}
	o.emitProgress(ctx, jobID)

	data, err := o.getWithRetry(ctx, job.SourceKey)
	if err != nil {
		o.failJob(ctx, jobID, fmt.Errorf("failed to fetch source document: %w", err))
		return err
	}

	document, err := o.loader.Load(data)
	if err != nil {
		o.failJob(ctx, jobID, err)
		return err
	}

	if err := o.store.UpdateJob(ctx, jobID, store.JobUpdate{
		PageCount: store.IntPtr(document.PageCount),
	}); err != nil {
		return err
	}

	// Metadata is cosmetic; empty results never block the job.
	md := o.metadata.Extract(ctx, document.Text)
	if md.Title != "" || md.Author != "" {
		if err := o.store.UpdateJob(ctx, jobID, store.JobUpdate{
			Title:  store.StrPtr(md.Title),
			Author: store.StrPtr(md.Author),
		}); err != nil {
			return err
		}
	}

	chapters, err := o.segment.Segment(ctx, document.Text, document.PageCount)
	if err != nil {
		// No chapters known means nothing to condense: fatal.
		o.failJob(ctx, jobID, err)
		return err
	}
	if err := o.store.SetChapters(ctx, jobID, chapters); err != nil {
		return err
	}
	o.emitProgress(ctx, jobID)

	// Fan-out: one unit per essential chapter, order-free.
	dispatched := 0
	for _, ch := range chapters {
		if !ch.Essential {
			continue
		}
		if err := o.dispatch(Unit{Kind: UnitCondenseChapter, JobID: jobID, ChapterID: ch.ID}); err != nil {
			log.Error("failed to dispatch chapter", "chapter_id", ch.ID, "error", err)
			if err := o.skipChapter(ctx, jobID, ch.ID); err != nil {
				return err
			}
			continue
		}
		dispatched++
	}
	log.Info("chapters dispatched", "total", len(chapters), "dispatched", dispatched)

	// Zero essential chapters still proceeds to fan-in; assembly then
	// reports NothingToAssemble and the job fails there.
	return o.maybeAssemble(ctx, jobID)
}

// CondenseChapter handles one condensation unit: materialize the
// chapter slice, condense its text, render the condensed document, and
// record the terminal chapter state. A unit failure skips the chapter;
// it never aborts the whole book.
func (o *Orchestrator) CondenseChapter(ctx context.Context, jobID, chapterID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	chapter := job.Chapter(chapterID)
	if chapter == nil {
		return fmt.Errorf("job %s chapter %s: %w", jobID, chapterID, store.ErrNotFound)
	}
	if chapter.Status.Terminal() {
		// Redelivered unit for an already-settled chapter.
		return o.maybeAssemble(ctx, jobID)
	}

	log := o.logger.With("job_id", jobID, "chapter_id", chapterID, "chapter", chapter.Title)

	if job.CancelRequested {
		// Do not start new work on a cancelled job; settle the chapter
		// so fan-in can observe completion.
		if err := o.skipChapter(ctx, jobID, chapterID); err != nil {
			return err
		}
		return o.maybeAssemble(ctx, jobID)
	}

	if err := o.store.UpdateChapter(ctx, jobID, chapterID, store.ChapterUpdate{
		Status: store.ChapterStatusPtr(book.ChapterProcessing),
	}); err != nil {
		return err
	}

	output, err := o.condenseOne(ctx, job, chapter, log)
	if err != nil {
		log.Warn("chapter condensation failed, skipping chapter", "error", err)
		if err := o.skipChapter(ctx, jobID, chapterID); err != nil {
			return err
		}
		return o.maybeAssemble(ctx, jobID)
	}

	if err := o.store.UpdateChapter(ctx, jobID, chapterID, store.ChapterUpdate{
		Status:       store.ChapterStatusPtr(book.ChapterCompleted),
		CondensedKey: store.StrPtr(output),
	}); err != nil {
		return err
	}
	o.emitProgress(ctx, jobID)

	return o.maybeAssemble(ctx, jobID)
}

// condenseOne runs materialize -> condense -> render for one chapter
// and returns the condensed artifact's blob key.
func (o *Orchestrator) condenseOne(ctx context.Context, job *book.Job, chapter *book.Chapter, log *slog.Logger) (string, error) {
	source, err := o.getWithRetry(ctx, job.SourceKey)
	if err != nil {
		return "", fmt.Errorf("failed to fetch source document: %w", err)
	}

	slice, err := doc.MaterializeChapter(source, job.PageCount, chapter.StartPage, chapter.EndPage)
	if err != nil {
		return "", err
	}

	originalKey := blob.ChapterKey(job.ID, chapter.ID)
	if err := o.putWithRetry(ctx, originalKey, slice); err != nil {
		return "", fmt.Errorf("failed to store chapter slice: %w", err)
	}
	if err := o.store.UpdateChapter(ctx, job.ID, chapter.ID, store.ChapterUpdate{
		OriginalKey: store.StrPtr(originalKey),
	}); err != nil {
		return "", err
	}

	text := o.loader.ExtractText(slice)
	condensed, err := o.condense.Condense(ctx, stages.CondenseRequest{
		Text:         text,
		Level:        job.Level,
		BookTitle:    job.Title,
		Author:       job.Author,
		ChapterTitle: chapter.Title,
	})
	if err != nil {
		return "", err
	}

	rendered, err := doc.RenderChapter(condensed, chapter.Title, doc.Metadata{
		Title:  job.Title,
		Author: job.Author,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render chapter: %w", err)
	}

	condensedKey := blob.CondensedKey(job.ID, chapter.ID)
	if err := o.putWithRetry(ctx, condensedKey, rendered); err != nil {
		return "", fmt.Errorf("failed to store condensed chapter: %w", err)
	}

	log.Debug("chapter unit complete", "pages", fmt.Sprintf("%d-%d", chapter.StartPage, chapter.EndPage))
	return condensedKey, nil
}

// skipChapter marks a chapter terminally skipped and re-emits progress.
func (o *Orchestrator) skipChapter(ctx context.Context, jobID, chapterID string) error {
	if err := o.store.UpdateChapter(ctx, jobID, chapterID, store.ChapterUpdate{
		Status: store.ChapterStatusPtr(book.ChapterSkipped),
	}); err != nil {
		return err
	}
	o.emitProgress(ctx, jobID)
	return nil
}

// maybeAssemble runs fan-in: once every essential chapter is terminal,
// exactly one caller claims assembly and produces the final document.
func (o *Orchestrator) maybeAssemble(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() || !job.EssentialTerminal() {
		return nil
	}

	claimed, err := o.store.ClaimAssembly(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if job.CancelRequested {
		return o.failCancelled(ctx, jobID)
	}

	log := o.logger.With("job_id", jobID)
	applied, err := o.store.UpdateProgress(ctx, jobID, 95, "Assembling condensed book")
	if err != nil {
		return err
	}
	if applied {
		o.notify(job.ID, 95, "Assembling condensed book", book.JobProcessing)
	}

	inputs := make([]doc.AssemblyInput, 0, len(job.Chapters))
	for _, ch := range job.CompletedChapters() {
		data, err := o.getWithRetry(ctx, ch.CondensedKey)
		if err != nil {
			o.failJob(ctx, jobID, fmt.Errorf("failed to fetch condensed chapter %q: %w", ch.Title, err))
			return err
		}
		inputs = append(inputs, doc.AssemblyInput{Title: ch.Title, Data: data})
	}

	output, err := doc.Assemble(inputs, job)
	if err != nil {
		o.failJob(ctx, jobID, err)
		return err
	}

	finalKey := blob.FinalKey(jobID)
	if err := o.putWithRetry(ctx, finalKey, output); err != nil {
		o.failJob(ctx, jobID, fmt.Errorf("failed to store final document: %w", err))
		return err
	}

	if err := o.store.UpdateJob(ctx, jobID, store.JobUpdate{
		Status:    store.StatusPtr(book.JobCompleted),
		Progress:  store.IntPtr(100),
		Step:      store.StrPtr("Completed"),
		OutputKey: store.StrPtr(finalKey),
	}); err != nil {
		return err
	}
	o.notify(jobID, 100, "Completed", book.JobCompleted)
	log.Info("job completed", "output_key", finalKey, "chapters", len(inputs))
	return nil
}

// failJob marks a job terminally failed with a short user-facing step
// and the recorded error detail, then notifies.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) {
	step := friendlyMessage(cause)
	if err := o.store.UpdateJob(ctx, jobID, store.JobUpdate{
		Status:      store.StatusPtr(book.JobFailed),
		Step:        store.StrPtr(step),
		ErrorDetail: store.StrPtr(cause.Error()),
	}); err != nil {
		o.logger.Error("failed to record job failure", "job_id", jobID, "error", err, "cause", cause)
		return
	}

	percent := 0
	if job, err := o.store.Get(ctx, jobID); err == nil {
		percent = job.Progress
	}
	o.notify(jobID, percent, step, book.JobFailed)
	o.logger.Warn("job failed", "job_id", jobID, "error", cause)
}

func (o *Orchestrator) failCancelled(ctx context.Context, jobID string) error {
	o.failJob(ctx, jobID, book.ErrJobCancelled)
	return nil
}

// friendlyMessage maps an error to a short, non-technical explanation.
func friendlyMessage(err error) string {
	switch {
	case errors.Is(err, book.ErrInvalidDocument):
		return "This file doesn't look like a PDF. Please upload a PDF book and try again."
	case errors.Is(err, book.ErrUnsupportedDocument):
		return "We couldn't read this PDF. Please try a different file."
	case errors.Is(err, book.ErrAIResponseMalformed):
		return "We couldn't map this book into chapters. Please try again."
	case errors.Is(err, book.ErrNothingToAssemble):
		return "No chapters could be condensed. Please try again."
	case errors.Is(err, book.ErrJobCancelled):
		return "Cancelled."
	default:
		return "Something went wrong while condensing this book. Please try again."
	}
}

// emitProgress recomputes progress from the stored job and persists
// and notifies it. Called on every chapter transition. The store write
// is conditional: a writer whose snapshot went stale between the read
// and the write loses to whoever got further, and stays silent so the
// notification stream never regresses either.
func (o *Orchestrator) emitProgress(ctx context.Context, jobID string) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		o.logger.Warn("failed to load job for progress", "job_id", jobID, "error", err)
		return
	}
	if job.Status.Terminal() {
		return
	}

	percent, step := progress.Compute(job)
	applied, err := o.store.UpdateProgress(ctx, jobID, percent, step)
	if err != nil {
		o.logger.Warn("failed to persist progress", "job_id", jobID, "error", err)
		return
	}
	if applied {
		o.notify(jobID, percent, step, job.Status)
	}
}

func (o *Orchestrator) notify(jobID string, percent int, step string, status book.JobStatus) {
	o.notifier.Notify(notify.Event{
		JobID:   jobID,
		Percent: percent,
		Step:    step,
		Status:  status,
	})
}

// Blob I/O is network-bound and retried with the same bounded backoff
// as AI calls.

func (o *Orchestrator) getWithRetry(ctx context.Context, key string) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) { return o.blobs.Get(ctx, key) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, blob.ErrNotFound) }),
	)
}

func (o *Orchestrator) putWithRetry(ctx context.Context, key string, data []byte) error {
	return retry.Do(
		func() error { return o.blobs.Put(ctx, key, data, blob.ContentTypePDF) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
