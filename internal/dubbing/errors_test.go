package dubbing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"acquisition", &Error{Kind: ErrAcquisition, Stage: StageAcquire, Message: "x"}, CodeAcquisitionFailed},
		{"remote", &Error{Kind: ErrRemoteProcessingFailed, Stage: StageTranscribe, Message: "x"}, CodeRemoteProcessing},
		{"poll ceiling", &Error{Kind: ErrTranscriptionTimeout, Stage: StageTranscribe, Message: "x"}, CodeTranscriptionTimeout},
		{"malformed", &Error{Kind: ErrMalformedModelOutput, Stage: StageParse, Message: "x"}, CodeMalformedModelOutput},
		{"no segments", &Error{Kind: ErrNoSegmentsFound, Stage: StageParse, Message: "x"}, CodeNoSegmentsFound},
		{"synthesis", &Error{Kind: ErrSynthesis, Stage: StageSynthesize, Message: "x", Err: &SegmentError{Index: 2, Err: errors.New("503")}}, CodeSynthesisFailed},
		{"mux", &Error{Kind: ErrMux, Stage: StageMux, Message: "x"}, CodeMuxFailed},
		{"duplicate", &Error{Kind: ErrDuplicateRequest, Stage: StageAdmit, Message: "x"}, CodeDuplicateRequest},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), CodeCanceled},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"unclassified", errors.New("boom"), CodeDubbingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranscriptionTimeoutIsRemoteFailure(t *testing.T) {
	err := &Error{Kind: ErrTranscriptionTimeout, Stage: StageTranscribe, Message: "gave up"}
	if !errors.Is(err, ErrRemoteProcessingFailed) {
		t.Error("poll ceiling must also match ErrRemoteProcessingFailed")
	}
}

func TestError_UnwrapsKindAndCause(t *testing.T) {
	cause := &SegmentError{Index: 3, Err: errors.New("quota exceeded")}
	err := fmt.Errorf("job: %w", &Error{Kind: ErrSynthesis, Stage: StageSynthesize, Message: "speech synthesis failed", Err: cause})

	if !errors.Is(err, ErrSynthesis) {
		t.Error("expected kind to match")
	}
	var segErr *SegmentError
	if !errors.As(err, &segErr) || segErr.Index != 3 {
		t.Errorf("expected segment 3, got %v", segErr)
	}
	if !strings.Contains(err.Error(), "synthesize: speech synthesis failed: segment 3: quota exceeded") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestDiagnostic(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: ErrMux, Stage: StageMux, Message: "x", Diagnostic: "moov atom not found"})
	if got := Diagnostic(err); got != "moov atom not found" {
		t.Errorf("Diagnostic() = %q", got)
	}
	if got := Diagnostic(errors.New("plain")); got != "" {
		t.Errorf("plain errors carry no diagnostic, got %q", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("  Brazilian Portuguese ")
	if strings.Contains(p, "{{target_language}}") {
		t.Error("placeholder left in prompt")
	}
	if strings.Count(p, "Brazilian Portuguese") != 2 {
		t.Errorf("expected language twice in prompt:\n%s", p)
	}
	if !strings.Contains(p, `"translated_text"`) {
		t.Error("prompt must describe the segment schema")
	}
}
