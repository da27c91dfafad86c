package dubbing

import (
	"context"
	"errors"
	"testing"

	"github.com/knewbitmax/api/internal/media"
)

func TestMuxer_CopiesH264Video(t *testing.T) {
	tools := &fakeMedia{}
	m := NewMuxer(tools)

	src := NormalizedMedia{Path: writeSource(t, "in.mp4"), Probe: canonicalProbe("2")}
	if err := m.Mux(context.Background(), src, "audio.wav", t.TempDir()+"/out.mp4"); err != nil {
		t.Fatalf("Mux failed: %v", err)
	}
	if !tools.copyVideo {
		t.Error("expected video stream copy for h264")
	}
}

func TestMuxer_FailureCarriesStderr(t *testing.T) {
	stderr := "[aac @ 0x1] Too many bits per frame requested\n"
	tools := &fakeMedia{muxErr: &media.CommandError{Tool: "ffmpeg", ExitCode: 1, Stderr: stderr, Err: errors.New("exit status 1")}}
	m := NewMuxer(tools)

	src := NormalizedMedia{Path: "in.mp4", Probe: canonicalProbe("2")}
	err := m.Mux(context.Background(), src, "audio.wav", "out.mp4")
	if !errors.Is(err, ErrMux) {
		t.Fatalf("expected ErrMux, got %v", err)
	}
	if Diagnostic(err) != stderr {
		t.Errorf("expected stderr verbatim, got %q", Diagnostic(err))
	}
	if ErrorCode(err) != CodeMuxFailed {
		t.Errorf("expected %s, got %s", CodeMuxFailed, ErrorCode(err))
	}
}

func TestMuxer_CanceledContext(t *testing.T) {
	tools := &fakeMedia{muxErr: errors.New("signal: killed")}
	m := NewMuxer(tools)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Mux(ctx, NormalizedMedia{Path: "in.mp4"}, "audio.wav", "out.mp4")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
