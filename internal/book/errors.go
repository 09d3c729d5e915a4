package book

import "errors"

// Error kinds for the pipeline. Stages wrap these with context via
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	// ErrInvalidDocument indicates the input bytes are not a PDF
	// (bad magic header or below the minimum plausible size).
	ErrInvalidDocument = errors.New("invalid document")

	// ErrUnsupportedDocument indicates a PDF whose page count cannot
	// be determined or is zero.
	ErrUnsupportedDocument = errors.New("unsupported document")

	// ErrPageRangeInvalid indicates a chapter span that is empty after
	// clamping to document bounds.
	ErrPageRangeInvalid = errors.New("page range invalid")

	// ErrChapterEmpty indicates a materialized chapter yielded no
	// extractable text to condense.
	ErrChapterEmpty = errors.New("chapter empty")

	// ErrAIResponseMalformed indicates the model response contained no
	// well-formed structure where one was required.
	ErrAIResponseMalformed = errors.New("ai response malformed")

	// ErrAITimeout indicates an AI call exceeded its request timeout.
	ErrAITimeout = errors.New("ai request timeout")

	// ErrNothingToAssemble indicates zero chapters reached completed,
	// so no usable output document can be produced.
	ErrNothingToAssemble = errors.New("nothing to assemble")

	// ErrJobCancelled indicates a job-level cancel request was observed.
	ErrJobCancelled = errors.New("job cancelled")
)
