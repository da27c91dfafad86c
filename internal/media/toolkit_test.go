package media

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRunner struct {
	calls  [][]string
	result CommandResult
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.result, f.err
}

func (f *fakeRunner) lastArgs() string {
	if len(f.calls) == 0 {
		return ""
	}
	return strings.Join(f.calls[len(f.calls)-1], " ")
}

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1280, "height": 720},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "44100", "channels": 2}
  ],
  "format": {"filename": "in.mp4", "nb_streams": 2, "duration": "12.480000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestProbe_ParsesStreams(t *testing.T) {
	r := &fakeRunner{result: CommandResult{Stdout: sampleProbe}}
	tk := NewToolkitWithRunner("", "", "", r)

	res, err := tk.Probe(context.Background(), "in.mp4")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if res.VideoCodec() != "h264" {
		t.Errorf("expected h264, got %q", res.VideoCodec())
	}
	if res.AudioCodec() != "aac" {
		t.Errorf("expected aac, got %q", res.AudioCodec())
	}
	if !res.ContainerIs("mp4") {
		t.Error("expected container to include mp4")
	}
	if res.ContainerIs("matroska") {
		t.Error("did not expect matroska")
	}
	if res.DurationSeconds() != 12.48 {
		t.Errorf("expected duration 12.48, got %v", res.DurationSeconds())
	}
	if !strings.HasPrefix(r.lastArgs(), "ffprobe -v error") {
		t.Errorf("unexpected command: %s", r.lastArgs())
	}
}

func TestProbe_EmptyPath(t *testing.T) {
	tk := NewToolkitWithRunner("", "", "", &fakeRunner{})
	if _, err := tk.Probe(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMux_NonZeroExitCarriesStderr(t *testing.T) {
	stderr := "Stream map '1:a:0' matches no streams.\n"
	r := &fakeRunner{
		result: CommandResult{Stderr: stderr, ExitCode: 1},
		err:    errors.New("exit status 1"),
	}
	tk := NewToolkitWithRunner("/usr/bin/ffmpeg", "", "", r)

	err := tk.Mux(context.Background(), "v.mp4", "a.wav", "out.mp4", true)
	if err == nil {
		t.Fatal("expected error")
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T", err)
	}
	if cmdErr.Stderr != stderr {
		t.Errorf("expected stderr verbatim, got %q", cmdErr.Stderr)
	}
	if cmdErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", cmdErr.ExitCode)
	}
}

func TestMux_VideoCodecSelection(t *testing.T) {
	r := &fakeRunner{}
	tk := NewToolkitWithRunner("", "", "", r)

	if err := tk.Mux(context.Background(), "v.mp4", "a.wav", "out.mp4", true); err != nil {
		t.Fatalf("Mux failed: %v", err)
	}
	if !strings.Contains(r.lastArgs(), "-c:v copy") {
		t.Errorf("expected video copy, got %s", r.lastArgs())
	}
	if !strings.Contains(r.lastArgs(), "-map 0:v:0 -map 1:a:0") {
		t.Errorf("expected stream mapping, got %s", r.lastArgs())
	}
	if !strings.Contains(r.lastArgs(), "-shortest") {
		t.Errorf("expected -shortest, got %s", r.lastArgs())
	}

	if err := tk.Mux(context.Background(), "v.mkv", "a.wav", "out.mp4", false); err != nil {
		t.Fatalf("Mux failed: %v", err)
	}
	if !strings.Contains(r.lastArgs(), "-c:v libx264") {
		t.Errorf("expected libx264 re-encode, got %s", r.lastArgs())
	}
}

func TestConformAudio_Args(t *testing.T) {
	r := &fakeRunner{}
	tk := NewToolkitWithRunner("", "", "", r)

	if err := tk.ConformAudio(context.Background(), "clip.wav", "clip.pcm.wav", 44100); err != nil {
		t.Fatalf("ConformAudio failed: %v", err)
	}
	args := r.lastArgs()
	for _, want := range []string{"-ac 1", "-ar 44100", "-c:a pcm_s16le"} {
		if !strings.Contains(args, want) {
			t.Errorf("expected %q in %s", want, args)
		}
	}
}

func TestDownload_UsesYtDlp(t *testing.T) {
	r := &fakeRunner{}
	tk := NewToolkitWithRunner("", "", "/opt/yt-dlp", r)

	if err := tk.Download(context.Background(), "https://youtu.be/abc", "/tmp/x.mp4"); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	args := r.lastArgs()
	if !strings.HasPrefix(args, "/opt/yt-dlp -f bv+ba/best --merge-output-format mp4") {
		t.Errorf("unexpected command: %s", args)
	}
	if !strings.HasSuffix(args, "https://youtu.be/abc") {
		t.Errorf("expected url last, got %s", args)
	}
}

func TestRun_CancelledContextIsNotCommandError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &fakeRunner{result: CommandResult{ExitCode: -1}, err: errors.New("signal: killed")}
	tk := NewToolkitWithRunner("", "", "", r)

	err := tk.Transcode(ctx, "in.mkv", "out.mp4")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
