package pipeline

import (
	"errors"
	"fmt"

	"github.com/maauso/outro-api/internal/media"
)

// Error kinds. Every error returned by Service.Run matches exactly one of
// these with errors.Is.
var (
	// ErrValidation is returned before any work starts when the request is incomplete.
	ErrValidation = errors.New("validation error")
	// ErrAcquisition is returned when the source video cannot be materialized.
	ErrAcquisition = errors.New("acquisition error")
	// ErrProbe is returned when the source resolution cannot be read.
	ErrProbe = errors.New("probe error")
	// ErrOutroFetch is returned when the selected outro cannot be downloaded.
	ErrOutroFetch = errors.New("outro fetch error")
	// ErrThumbnailExtraction is returned when no cover frame can be extracted.
	ErrThumbnailExtraction = errors.New("thumbnail extraction error")
	// ErrConcatenation is returned when source and outro cannot be joined.
	ErrConcatenation = errors.New("concatenation error")
	// ErrInternal covers failures outside the named steps, such as reading
	// the finished file or a panic inside a step.
	ErrInternal = errors.New("internal error")
)

// Detail errors wrapped inside a StageError.
var (
	// ErrStepTimeout is returned when a step exceeds the configured step timeout.
	ErrStepTimeout = errors.New("step timed out")
	// ErrQueueWait is returned when the caller gives up while waiting for a
	// concurrency slot.
	ErrQueueWait = errors.New("waiting for a pipeline slot")
	// ErrSourceTooLong is returned when the source exceeds the configured maximum duration.
	ErrSourceTooLong = errors.New("source video exceeds maximum duration")
)

// StageError is a fatal step failure. It matches its Kind and its
// underlying cause with errors.Is.
type StageError struct {
	Stage State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v in %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Kind returns the error kind of err, or nil if err is not a pipeline error.
func Kind(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrValidation) {
		return ErrValidation
	}
	return nil
}

// Details returns a human-readable description of err for callers,
// preferring the last diagnostic line of a failed media tool.
func Details(err error) string {
	if err == nil {
		return ""
	}
	var toolErr *media.ToolError
	if errors.As(err, &toolErr) {
		return fmt.Sprintf("%s: %s", toolErr.Tool, toolErr.Diagnostic())
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}
