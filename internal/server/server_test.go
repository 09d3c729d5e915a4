package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/abridge/abridge/internal/blob"
	"github.com/abridge/abridge/internal/book"
	"github.com/abridge/abridge/internal/doc"
	"github.com/abridge/abridge/internal/llm"
	"github.com/abridge/abridge/internal/notify"
	"github.com/abridge/abridge/internal/orchestrate"
	"github.com/abridge/abridge/internal/stages"
	"github.com/abridge/abridge/internal/store"
	"github.com/abridge/abridge/internal/testutil"
)

// newTestServer wires a full in-memory stack behind an httptest server.
func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	client := llm.NewMockClient()
	client.ResponseFn = func(req *llm.Request) (string, error) {
		switch {
		case strings.HasPrefix(req.Prompt, "Identify the title"):
			return `{"title": "The Fixture Book", "author": null}`, nil
		case strings.HasPrefix(req.Prompt, "This book has"):
			return `[{"title": "Everything", "startPage": 1, "endPage": 3, "isEssential": true}]`, nil
		default:
			return "The whole book, condensed.", nil
		}
	}

	stageCfg := stages.Config{
		Client: client,
		Policy: llm.RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
		Logger: logger,
	}
	jobs := store.NewMemory()
	blobs := blob.NewMemory()
	orch := orchestrate.New(orchestrate.Config{
		Store:    jobs,
		Blobs:    blobs,
		Loader:   doc.NewLoader(doc.LoaderConfig{MinBytes: 16, Logger: logger}),
		Metadata: stages.NewMetadataExtractor(stageCfg, 0),
		Segment:  stages.NewSegmenter(stageCfg, 0),
		Condense: stages.NewCondenser(stageCfg),
		Notifier: &notify.LogNotifier{Logger: logger},
		Logger:   logger,
	})
	dispatcher := orchestrate.NewDispatcher(orch, 2, logger)

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)
	t.Cleanup(func() {
		dispatcher.Stop()
		cancel()
	})

	s, err := New(Config{
		Orchestrator: orch,
		Dispatcher:   dispatcher,
		Store:        jobs,
		Blobs:        blobs,
		Hub:          notify.NewHub(logger),
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, jobs
}

// uploadBook POSTs a fixture PDF and returns the created job id.
func uploadBook(t *testing.T, ts *httptest.Server, level string) string {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("level", level); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	fw, err := mw.CreateFormFile("file", "book.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	pdf := testutil.PDF(t, "The Fixture Book", "Middle page text.", "Last page text.")
	if _, err := fw.Write(pdf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/jobs", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /api/jobs error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /api/jobs status = %d: %s", resp.StatusCode, raw)
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.JobID == "" {
		t.Fatal("response has no job id")
	}
	return out.JobID
}

// waitSettled polls until the job reaches a terminal status.
func waitSettled(t *testing.T, jobs store.Store, jobID string) *book.Job {
	t.Helper()
	deadline := time.After(8 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("job did not settle in time")
		case <-time.After(10 * time.Millisecond):
		}
		job, err := jobs.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
	}
}

// Every collaborator the handlers dereference must be wired up front;
// a missing dispatcher would otherwise panic on the first upload.
func TestNewRequiresDispatcher(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	if _, err := New(Config{
		Orchestrator: orchestrate.New(orchestrate.Config{Logger: logger}),
		Store:        store.NewMemory(),
		Blobs:        blob.NewMemory(),
		Logger:       logger,
	}); err == nil {
		t.Error("New() without dispatcher = nil error, want error")
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUploadAndStatus(t *testing.T) {
	ts, jobs := newTestServer(t)
	jobID := uploadBook(t, ts, "medium")

	settled := waitSettled(t, jobs, jobID)
	if settled.Status != book.JobCompleted {
		t.Fatalf("status = %s (%s), want completed", settled.Status, settled.ErrorDetail)
	}

	resp, err := http.Get(ts.URL + "/api/jobs/" + jobID)
	if err != nil {
		t.Fatalf("GET status error = %v", err)
	}
	defer resp.Body.Close()
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}

	if status.Status != "completed" || status.Progress != 100 {
		t.Errorf("status = %s at %d%%, want completed at 100%%", status.Status, status.Progress)
	}
	if len(status.Chapters) != 1 || status.Chapters[0].Status != "completed" {
		t.Errorf("chapters = %+v, want one completed chapter", status.Chapters)
	}
	if status.Title != "The Fixture Book" {
		t.Errorf("title = %q", status.Title)
	}
}

func TestUploadRejectsBadLevel(t *testing.T) {
	ts, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("level", "extreme")
	fw, _ := mw.CreateFormFile("file", "book.pdf")
	fw.Write([]byte("%PDF-1.7 stub"))
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/jobs", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	ts, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("level", "light")
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/jobs", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/jobs/no-such-job")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDownload(t *testing.T) {
	ts, jobs := newTestServer(t)
	jobID := uploadBook(t, ts, "heavy")
	waitSettled(t, jobs, jobID)

	resp, err := http.Get(fmt.Sprintf("%s/api/jobs/%s/download", ts.URL, jobID))
	if err != nil {
		t.Fatalf("GET download error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q, want application/pdf", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Error("download body is not a PDF")
	}
}

func TestDownloadBeforeCompletion(t *testing.T) {
	ts, jobs := newTestServer(t)

	// A job record that is still processing.
	job := &book.Job{ID: "in-flight", Status: book.JobProcessing, Level: book.LevelLight}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/jobs/in-flight/download")
	if err != nil {
		t.Fatalf("GET download error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCancelCompletedJob(t *testing.T) {
	ts, jobs := newTestServer(t)
	jobID := uploadBook(t, ts, "light")
	waitSettled(t, jobs, jobID)

	resp, err := http.Post(fmt.Sprintf("%s/api/jobs/%s/cancel", ts.URL, jobID), "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 for terminal job", resp.StatusCode)
	}
}
