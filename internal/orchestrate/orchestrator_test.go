package orchestrate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abridge/abridge/internal/blob"
	"github.com/abridge/abridge/internal/book"
	"github.com/abridge/abridge/internal/doc"
	"github.com/abridge/abridge/internal/llm"
	"github.com/abridge/abridge/internal/notify"
	"github.com/abridge/abridge/internal/stages"
	"github.com/abridge/abridge/internal/store"
	"github.com/abridge/abridge/internal/testutil"
)

// captureNotifier records every emitted event.
type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(event notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureNotifier) Events() []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Event, len(c.events))
	copy(out, c.events)
	return out
}

// countingBlob counts Puts per key prefix on top of a real store.
type countingBlob struct {
	blob.Store
	mu   sync.Mutex
	puts map[string]int
}

func newCountingBlob(inner blob.Store) *countingBlob {
	return &countingBlob{Store: inner, puts: make(map[string]int)}
}

func (c *countingBlob) Put(ctx context.Context, key string, data []byte, contentType string) error {
	c.mu.Lock()
	prefix := key
	if i := strings.IndexByte(key, '/'); i > 0 {
		prefix = key[:i]
	}
	c.puts[prefix]++
	c.mu.Unlock()
	return c.Store.Put(ctx, key, data, contentType)
}

func (c *countingBlob) putCount(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts[prefix]
}

// testHarness bundles a fully wired orchestrator with its fakes.
type testHarness struct {
	orch  *Orchestrator
	store *store.Memory
	blobs *countingBlob
	noted *captureNotifier

	mu    sync.Mutex
	units []Unit
}

// capturedUnits returns and clears the units dispatched so far.
func (h *testHarness) capturedUnits() []Unit {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.units
	h.units = nil
	return out
}

func newHarness(t *testing.T, client llm.Client) *testHarness {
	return newHarnessWith(t, client, nil)
}

// newHarnessWith optionally wraps the store handed to the orchestrator,
// for tests that interpose on store calls. Direct state inspection in
// tests still goes through h.store.
func newHarnessWith(t *testing.T, client llm.Client, wrap func(store.Store) store.Store) *testHarness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	stageCfg := stages.Config{
		Client: client,
		Policy: llm.RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
		Logger: logger,
	}

	h := &testHarness{
		store: store.NewMemory(),
		blobs: newCountingBlob(blob.NewMemory()),
		noted: &captureNotifier{},
	}
	var jobs store.Store = h.store
	if wrap != nil {
		jobs = wrap(jobs)
	}
	h.orch = New(Config{
		Store:    jobs,
		Blobs:    h.blobs,
		Loader:   doc.NewLoader(doc.LoaderConfig{MinBytes: 16, Logger: logger}),
		Metadata: stages.NewMetadataExtractor(stageCfg, 0),
		Segment:  stages.NewSegmenter(stageCfg, 0),
		Condense: stages.NewCondenser(stageCfg),
		Notifier: h.noted,
		Logger:   logger,
	})
	h.orch.SetDispatcher(func(u Unit) error {
		h.mu.Lock()
		h.units = append(h.units, u)
		h.mu.Unlock()
		return nil
	})
	return h
}

// bookClient scripts a three-stage model: metadata, segmentation over
// five pages, and per-chapter condensation. condenseErr, when set,
// fails condensation for chapters whose prompt contains the key.
func bookClient(condenseErr map[string]error) *llm.MockClient {
	client := llm.NewMockClient()
	client.ResponseFn = func(req *llm.Request) (string, error) {
		switch {
		case strings.HasPrefix(req.Prompt, "Identify the title"):
			return `{"title": "The Fixture Book", "author": "A. Writer"}`, nil
		case strings.HasPrefix(req.Prompt, "This book has"):
			return `[
				{"title": "Preface", "startPage": 1, "endPage": 1, "isEssential": false},
				{"title": "Alpha", "startPage": 2, "endPage": 3, "isEssential": true},
				{"title": "Omega", "startPage": 4, "endPage": 5, "isEssential": true}
			]`, nil
		default:
			for key, err := range condenseErr {
				if strings.Contains(req.Prompt, key) {
					return "", err
				}
			}
			if strings.Contains(req.Prompt, "Alpha") {
				return "Alpha condensed body.", nil
			}
			return "Omega condensed body.", nil
		}
	}
	return client
}

func fixtureBook(t *testing.T) []byte {
	t.Helper()
	return testutil.PDF(t,
		"The Fixture Book by A. Writer",
		"Preface text that nobody reads.",
		"Alpha chapter page one with plenty of words in it.",
		"Omega chapter page one with plenty of words in it.",
		"Omega chapter page two with plenty of words in it.",
	)
}

// startJob uploads the fixture and runs segmentation, returning the
// job and the dispatched chapter units.
func startJob(t *testing.T, h *testHarness) (*book.Job, []Unit) {
	t.Helper()
	ctx := context.Background()

	job, err := h.orch.CreateJob(ctx, fixtureBook(t), book.LevelMedium)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := h.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}
	return job, h.capturedUnits()
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(nil))

	job, units := startJob(t, h)
	if len(units) != 2 {
		t.Fatalf("dispatched units = %d, want 2 essential chapters", len(units))
	}

	for _, u := range units {
		if err := h.orch.CondenseChapter(ctx, u.JobID, u.ChapterID); err != nil {
			t.Fatalf("CondenseChapter() error = %v", err)
		}
	}

	final, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if final.Status != book.JobCompleted {
		t.Fatalf("status = %s (%s), want completed", final.Status, final.ErrorDetail)
	}
	if final.Progress != 100 {
		t.Errorf("progress = %d, want 100", final.Progress)
	}
	if final.Title != "The Fixture Book" || final.Author != "A. Writer" {
		t.Errorf("metadata = %q / %q", final.Title, final.Author)
	}
	if final.PageCount != 5 {
		t.Errorf("page count = %d, want 5", final.PageCount)
	}

	for _, ch := range final.Chapters {
		if !ch.Essential {
			if ch.Status != book.ChapterSkipped {
				t.Errorf("chapter %q status = %s, want skipped", ch.Title, ch.Status)
			}
			continue
		}
		if ch.Status != book.ChapterCompleted {
			t.Errorf("chapter %q status = %s, want completed", ch.Title, ch.Status)
		}
		if ch.OriginalKey == "" || ch.CondensedKey == "" {
			t.Errorf("chapter %q missing artifact keys: %+v", ch.Title, ch)
		}
	}

	if final.OutputKey == "" {
		t.Fatal("output key not set")
	}
	if _, err := h.blobs.Get(ctx, final.OutputKey); err != nil {
		t.Errorf("final document missing from blob store: %v", err)
	}
}

// Chapters complete in arbitrary order; the assembled book must keep
// the original chapter order regardless.
func TestPipelineAssemblyOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(nil))

	job, units := startJob(t, h)

	// Complete the later chapter first.
	for i := len(units) - 1; i >= 0; i-- {
		if err := h.orch.CondenseChapter(ctx, units[i].JobID, units[i].ChapterID); err != nil {
			t.Fatalf("CondenseChapter() error = %v", err)
		}
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}

	output, err := h.blobs.Get(ctx, final.OutputKey)
	if err != nil {
		t.Fatalf("Get(output) error = %v", err)
	}
	text := doc.NewLoader(doc.LoaderConfig{MinBytes: 16}).ExtractText(output)
	alpha := strings.Index(text, "Alpha condensed")
	omega := strings.Index(text, "Omega condensed")
	if alpha < 0 || omega < 0 {
		t.Fatalf("condensed chapter text missing from output: %q", text)
	}
	if alpha > omega {
		t.Error("assembled output is in completion order, want original chapter order")
	}
}

// One chapter failing all its attempts is skipped; the book still ships
// with the surviving chapters.
func TestPipelinePartialFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(map[string]error{"Alpha": llm.ErrUnavailable}))

	job, units := startJob(t, h)
	for _, u := range units {
		if err := h.orch.CondenseChapter(ctx, u.JobID, u.ChapterID); err != nil {
			t.Fatalf("CondenseChapter() error = %v", err)
		}
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobCompleted {
		t.Fatalf("status = %s, want completed despite one failed chapter", final.Status)
	}

	var alpha, omega *book.Chapter
	for i := range final.Chapters {
		switch final.Chapters[i].Title {
		case "Alpha":
			alpha = &final.Chapters[i]
		case "Omega":
			omega = &final.Chapters[i]
		}
	}
	if alpha.Status != book.ChapterSkipped {
		t.Errorf("alpha status = %s, want skipped", alpha.Status)
	}
	if omega.Status != book.ChapterCompleted {
		t.Errorf("omega status = %s, want completed", omega.Status)
	}
}

// Every chapter failing leaves nothing to assemble: the job fails.
func TestPipelineTotalFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(map[string]error{
		"Alpha": llm.ErrUnavailable,
		"Omega": llm.ErrUnavailable,
	}))

	job, units := startJob(t, h)
	for _, u := range units {
		if err := h.orch.CondenseChapter(ctx, u.JobID, u.ChapterID); err != nil {
			t.Fatalf("CondenseChapter() error = %v", err)
		}
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.ErrorDetail, book.ErrNothingToAssemble.Error()) {
		t.Errorf("error detail = %q, want nothing-to-assemble", final.ErrorDetail)
	}
}

func TestPipelineMalformedSegmentation(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient()
	client.ResponseFn = func(req *llm.Request) (string, error) {
		if strings.HasPrefix(req.Prompt, "Identify the title") {
			return `{"title": null, "author": null}`, nil
		}
		return "I'm sorry, I can't identify chapters in this text.", nil
	}
	h := newHarness(t, client)

	job, err := h.orch.CreateJob(ctx, fixtureBook(t), book.LevelLight)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := h.orch.ProcessJob(ctx, job.ID); err == nil {
		t.Fatal("ProcessJob() = nil error, want segmentation failure")
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if len(final.Chapters) != 0 {
		t.Errorf("chapters = %d, want none recorded", len(final.Chapters))
	}
	if len(h.capturedUnits()) != 0 {
		t.Error("chapter units dispatched after failed segmentation")
	}
}

// A book with only front and back matter dispatches nothing and fails
// at assembly, not with a special case.
func TestPipelineZeroEssentialChapters(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient()
	client.ResponseFn = func(req *llm.Request) (string, error) {
		if strings.HasPrefix(req.Prompt, "Identify the title") {
			return `{"title": null, "author": null}`, nil
		}
		return `[{"title": "Index", "startPage": 1, "endPage": 5, "isEssential": false}]`, nil
	}
	h := newHarness(t, client)

	job, err := h.orch.CreateJob(ctx, fixtureBook(t), book.LevelMedium)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := h.orch.ProcessJob(ctx, job.ID); err == nil {
		t.Fatal("ProcessJob() = nil error, want assembly failure")
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.ErrorDetail, book.ErrNothingToAssemble.Error()) {
		t.Errorf("error detail = %q, want nothing-to-assemble", final.ErrorDetail)
	}
}

func TestCancelBeforeSegmentation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(nil))

	job, err := h.orch.CreateJob(ctx, fixtureBook(t), book.LevelMedium)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := h.orch.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := h.orch.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.ErrorDetail, "cancelled") {
		t.Errorf("error detail = %q, want cancellation", final.ErrorDetail)
	}
	if len(h.capturedUnits()) != 0 {
		t.Error("units dispatched for a cancelled job")
	}
}

// Cancellation mid-flight settles the remaining chapters and fails the
// job at fan-in instead of assembling.
func TestCancelDuringCondensation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(nil))

	job, units := startJob(t, h)

	// First chapter completes, then cancellation lands.
	if err := h.orch.CondenseChapter(ctx, units[0].JobID, units[0].ChapterID); err != nil {
		t.Fatalf("CondenseChapter() error = %v", err)
	}
	if err := h.orch.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := h.orch.CondenseChapter(ctx, units[1].JobID, units[1].ChapterID); err != nil {
		t.Fatalf("CondenseChapter() error = %v", err)
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobFailed {
		t.Fatalf("status = %s, want failed (cancelled)", final.Status)
	}
	if ch := final.Chapter(units[1].ChapterID); ch.Status != book.ChapterSkipped {
		t.Errorf("post-cancel chapter status = %s, want skipped", ch.Status)
	}
	if h.blobs.putCount("final") != 0 {
		t.Error("cancelled job produced a final document")
	}
}

// The last two chapters finishing together race into fan-in; exactly
// one may assemble.
func TestFanInExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(nil))

	job, units := startJob(t, h)
	if len(units) != 2 {
		t.Fatalf("dispatched units = %d, want 2", len(units))
	}

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u Unit) {
			defer wg.Done()
			if err := h.orch.CondenseChapter(ctx, u.JobID, u.ChapterID); err != nil {
				t.Errorf("CondenseChapter() error = %v", err)
			}
		}(u)
	}
	wg.Wait()

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if got := h.blobs.putCount("final"); got != 1 {
		t.Errorf("final document stored %d times, want exactly once", got)
	}
}

// Redelivering a unit for an already-settled chapter is a no-op.
func TestCondenseChapterIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(nil))

	_, units := startJob(t, h)
	for _, u := range units {
		if err := h.orch.CondenseChapter(ctx, u.JobID, u.ChapterID); err != nil {
			t.Fatalf("CondenseChapter() error = %v", err)
		}
	}
	// Redeliver both units.
	for _, u := range units {
		if err := h.orch.CondenseChapter(ctx, u.JobID, u.ChapterID); err != nil {
			t.Fatalf("redelivered CondenseChapter() error = %v", err)
		}
	}

	if got := h.blobs.putCount("final"); got != 1 {
		t.Errorf("final document stored %d times after redelivery, want 1", got)
	}
	if got := h.blobs.putCount("condensed"); got != 2 {
		t.Errorf("condensed chapters stored %d times after redelivery, want 2", got)
	}
}

// An inverted span that survives clamping skips the chapter; the rest
// of the book proceeds.
func TestInvalidSpanSkipsChapter(t *testing.T) {
	ctx := context.Background()
	client := llm.NewMockClient()
	client.ResponseFn = func(req *llm.Request) (string, error) {
		switch {
		case strings.HasPrefix(req.Prompt, "Identify the title"):
			return `{"title": null, "author": null}`, nil
		case strings.HasPrefix(req.Prompt, "This book has"):
			return `[
				{"title": "Ghost", "startPage": 0, "endPage": 0, "isEssential": true},
				{"title": "Real", "startPage": 1, "endPage": 5, "isEssential": true}
			]`, nil
		default:
			return "Real condensed body.", nil
		}
	}
	h := newHarness(t, client)

	job, units := startJob(t, h)
	for _, u := range units {
		if err := h.orch.CondenseChapter(ctx, u.JobID, u.ChapterID); err != nil {
			t.Fatalf("CondenseChapter() error = %v", err)
		}
	}

	final, _ := h.store.Get(ctx, job.ID)
	if final.Status != book.JobCompleted {
		t.Fatalf("status = %s (%s), want completed", final.Status, final.ErrorDetail)
	}
	for _, ch := range final.Chapters {
		switch ch.Title {
		case "Ghost":
			if ch.Status != book.ChapterSkipped {
				t.Errorf("ghost chapter status = %s, want skipped", ch.Status)
			}
		case "Real":
			if ch.Status != book.ChapterCompleted {
				t.Errorf("real chapter status = %s, want completed", ch.Status)
			}
		}
	}
}

// Reported progress never regresses across the whole run.
func TestProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, bookClient(map[string]error{"Alpha": llm.ErrUnavailable}))

	_, units := startJob(t, h)
	for _, u := range units {
		if err := h.orch.CondenseChapter(ctx, u.JobID, u.ChapterID); err != nil {
			t.Fatalf("CondenseChapter() error = %v", err)
		}
	}

	events := h.noted.Events()
	if len(events) == 0 {
		t.Fatal("no progress events emitted")
	}
	last := 0
	for i, ev := range events {
		if ev.Percent < last {
			t.Fatalf("event %d: percent regressed from %d to %d (%s)", i, last, ev.Percent, ev.Step)
		}
		last = ev.Percent
	}
	if final := events[len(events)-1]; final.Percent != 100 || final.Status != book.JobCompleted {
		t.Errorf("last event = %+v, want completed at 100", final)
	}
}

// gatedProgressStore blocks the progress write for one chosen percent
// until released, simulating a worker whose write lands late.
type gatedProgressStore struct {
	store.Store
	percent int
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedProgressStore) UpdateProgress(ctx context.Context, jobID string, percent int, step string) (bool, error) {
	if percent == g.percent {
		g.once.Do(func() { close(g.arrived) })
		<-g.release
	}
	return g.Store.UpdateProgress(ctx, jobID, percent, step)
}

// A worker that stalls between computing its percent and persisting it
// must not drag the job backwards: its stale write is dropped once the
// job has moved on, even past completion.
func TestStaleProgressWriteDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	gate := &gatedProgressStore{percent: 57, arrived: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWith(t, bookClient(nil), func(s store.Store) store.Store {
		gate.Store = s
		return gate
	})

	job, units := startJob(t, h)
	if len(units) != 2 {
		t.Fatalf("dispatched units = %d, want 2", len(units))
	}

	// First chapter completes but its 1-of-2 progress write stalls.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := h.orch.CondenseChapter(ctx, units[0].JobID, units[0].ChapterID); err != nil {
			t.Errorf("CondenseChapter() error = %v", err)
		}
	}()
	<-gate.arrived

	// The second chapter finishes and the job assembles to completion
	// while that write is still in flight.
	if err := h.orch.CondenseChapter(ctx, units[1].JobID, units[1].ChapterID); err != nil {
		t.Fatalf("CondenseChapter() error = %v", err)
	}
	close(gate.release)
	wg.Wait()

	final, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if final.Status != book.JobCompleted || final.Progress != 100 || final.Step != "Completed" {
		t.Fatalf("job = %s %d %q, want completed at 100", final.Status, final.Progress, final.Step)
	}

	last := 0
	for i, ev := range h.noted.Events() {
		if ev.Percent < last {
			t.Fatalf("event %d: percent regressed from %d to %d (%s)", i, last, ev.Percent, ev.Step)
		}
		last = ev.Percent
	}
}
