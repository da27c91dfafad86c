package dubbing

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every pipeline failure matches exactly one of these with errors.Is.
var (
	ErrAcquisition            = errors.New("media acquisition failed")
	ErrRemoteProcessingFailed = errors.New("remote processing failed")
	ErrMalformedModelOutput   = errors.New("malformed model output")
	ErrNoSegmentsFound        = errors.New("no segments found")
	ErrSynthesis              = errors.New("speech synthesis failed")
	ErrMux                    = errors.New("mux failed")
	ErrDuplicateRequest       = errors.New("duplicate request")

	// ErrTranscriptionTimeout also matches ErrRemoteProcessingFailed.
	ErrTranscriptionTimeout = fmt.Errorf("%w: transcription timed out", ErrRemoteProcessingFailed)
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageAdmit      Stage = "admit"
	StageAcquire    Stage = "acquire"
	StageNormalize  Stage = "normalize"
	StageTranscribe Stage = "transcribe"
	StageParse      Stage = "parse"
	StageSynthesize Stage = "synthesize"
	StageAssemble   Stage = "assemble"
	StageMux        Stage = "mux"
)

// Error is a classified pipeline failure. Diagnostic carries raw detail such as
// the model's unparseable text or an external tool's stderr.
type Error struct {
	Kind       error
	Stage      Stage
	Message    string
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// SegmentError attributes a synthesis failure to one segment.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// Error codes exposed to API clients.
const (
	CodeAcquisitionFailed    = "ACQUISITION_FAILED"
	CodeRemoteProcessing     = "REMOTE_PROCESSING_FAILED"
	CodeTranscriptionTimeout = "TRANSCRIPTION_TIMEOUT"
	CodeMalformedModelOutput = "MALFORMED_MODEL_OUTPUT"
	CodeNoSegmentsFound      = "NO_SEGMENTS_FOUND"
	CodeSynthesisFailed      = "SYNTHESIS_FAILED"
	CodeMuxFailed            = "MUX_FAILED"
	CodeDuplicateRequest     = "DUPLICATE_REQUEST"
	CodeCanceled             = "CANCELED"
	CodeTimeout              = "TIMEOUT"
	CodeDubbingFailed        = "DUBBING_FAILED"
)

// ErrorCode maps an error to its client-facing code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateRequest):
		return CodeDuplicateRequest
	case errors.Is(err, ErrAcquisition):
		return CodeAcquisitionFailed
	case errors.Is(err, ErrTranscriptionTimeout):
		return CodeTranscriptionTimeout
	case errors.Is(err, ErrRemoteProcessingFailed):
		return CodeRemoteProcessing
	case errors.Is(err, ErrMalformedModelOutput):
		return CodeMalformedModelOutput
	case errors.Is(err, ErrNoSegmentsFound):
		return CodeNoSegmentsFound
	case errors.Is(err, ErrSynthesis):
		return CodeSynthesisFailed
	case errors.Is(err, ErrMux):
		return CodeMuxFailed
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeDubbingFailed
	}
}

// Diagnostic returns the raw diagnostic text attached to a pipeline error, if any.
func Diagnostic(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Diagnostic
	}
	return ""
}
