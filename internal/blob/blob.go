// Package blob abstracts artifact storage. The pipeline reads the
// source document and writes every intermediate and final artifact
// under a conventional key layout.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates no object exists for the given key.
var ErrNotFound = errors.New("object not found")

// Store is the blob store consumed by the pipeline.
type Store interface {
	// Get returns the object bytes for a key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the object bytes under the key.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PresignedURL returns a time-limited download URL for the key.
	// Stores without URL support return an empty string and no error.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Conventional key layout.

// OriginalKey is the key of the uploaded source document.
func OriginalKey(jobID string) string {
	return fmt.Sprintf("original/%s", jobID)
}

// ChapterKey is the key of one materialized chapter slice.
func ChapterKey(jobID, chapterID string) string {
	return fmt.Sprintf("chapters/%s/%s", jobID, chapterID)
}

// CondensedKey is the key of one condensed-and-rendered chapter.
func CondensedKey(jobID, chapterID string) string {
	return fmt.Sprintf("condensed/%s/%s", jobID, chapterID)
}

// FinalKey is the key of the assembled output document.
func FinalKey(jobID string) string {
	return fmt.Sprintf("final/%s", jobID)
}

// ContentTypePDF is the content type for all document artifacts.
const ContentTypePDF = "application/pdf"
