package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/knewbitmax/api/internal/config"
	"github.com/knewbitmax/api/internal/dubbing"
	"github.com/knewbitmax/api/internal/media"
)

const testSampleRate = 1000

type stubMedia struct{}

func (stubMedia) Probe(ctx context.Context, path string) (media.ProbeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return media.ProbeResult{}, err
	}
	return media.ProbeResult{
		Streams: []media.Stream{
			{Index: 0, CodecName: "h264", CodecType: "video", Width: 1280, Height: 720},
			{Index: 1, CodecName: "aac", CodecType: "audio", SampleRate: "44100", Channels: 2},
		},
		Format: media.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2", Duration: "2.5"},
	}, nil
}

func (stubMedia) Transcode(ctx context.Context, input, output string) error {
	return copyFile(input, output)
}

func (stubMedia) ConformAudio(ctx context.Context, input, output string, sampleRate int) error {
	return copyFile(input, output)
}

func (stubMedia) Mux(ctx context.Context, video, audio, output string, copyVideo bool) error {
	return os.WriteFile(output, []byte("muxed"), 0o644)
}

type stubModel struct {
	output string
}

func (m *stubModel) Submit(ctx context.Context, path, mimeType string) (dubbing.RemoteFile, error) {
	return dubbing.RemoteFile{Name: "files/cli", State: dubbing.StateActive}, nil
}

func (m *stubModel) Status(ctx context.Context, name string) (dubbing.RemoteFile, error) {
	return dubbing.RemoteFile{Name: name, State: dubbing.StateActive}, nil
}

func (m *stubModel) Generate(ctx context.Context, file dubbing.RemoteFile, prompt string) (string, error) {
	return m.output, nil
}

func (m *stubModel) Delete(ctx context.Context, name string) error { return nil }

type stubTTS struct {
	wav []byte
}

func (s stubTTS) Synthesize(ctx context.Context, text, languageCode, voice string) ([]byte, error) {
	return s.wav, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func toneWAV(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	data := make([]int, testSampleRate/4)
	for i := range data {
		data[i] = 500
	}
	enc := wav.NewEncoder(f, testSampleRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{Data: data, Format: &audio.Format{SampleRate: testSampleRate, NumChannels: 1}, SourceBitDepth: 16}); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	f.Close()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return b
}

const cliTranscript = "```json\n" + `{"segments": [
	{"start": 0.5, "end": 1.25, "original_text": "Hello", "translated_text": "Namaste", "emotion": "happy"}
]}` + "\n```"

func newTestContext(t *testing.T) *commandContext {
	t.Helper()

	cfg := &config.Config{}
	cfg.Media.WorkDir = t.TempDir()
	cfg.Media.SampleRate = testSampleRate
	cfg.TTS.MaxConcurrency = 2
	cfg.Cache.Capacity = 5
	cfg.Dedup.MaxAge = time.Minute
	cfg.Dedup.SweepInterval = time.Minute
	cfg.Gemini.PollInterval = time.Millisecond
	cfg.Gemini.MaxWait = time.Second

	ctx := newCommandContext()
	ctx.configOnce.Do(func() { ctx.config = cfg })
	ctx.media = stubMedia{}
	ctx.transcriber = &stubModel{output: cliTranscript}
	ctx.tts = stubTTS{wav: toneWAV(t)}
	return ctx
}

func runCommand(t *testing.T, ctx *commandContext, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talk.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}

func TestDubCommand_WritesOutput(t *testing.T) {
	ctx := newTestContext(t)
	input := writeVideo(t)

	stdout, stderr, err := runCommand(t, ctx, "dub", input, "--lang", "Hindi", "--code", "hi-IN")
	if err != nil {
		t.Fatalf("dub: %v\nstderr: %s", err, stderr)
	}

	output := strings.TrimSuffix(input, ".mp4") + ".hi-in.mp4"
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("expected output at %s: %v", output, err)
	}
	if string(data) != "muxed" {
		t.Errorf("unexpected output %q", data)
	}
	if !strings.Contains(stdout, "Namaste") || !strings.Contains(stdout, "Wrote "+output) {
		t.Errorf("unexpected stdout:\n%s", stdout)
	}
	if !strings.Contains(stderr, "[100%] Completed") {
		t.Errorf("expected progress on stderr, got:\n%s", stderr)
	}
	if _, err := os.Stat(input); err != nil {
		t.Errorf("input must be kept: %v", err)
	}
}

func TestDubCommand_JSON(t *testing.T) {
	ctx := newTestContext(t)
	input := writeVideo(t)
	output := filepath.Join(t.TempDir(), "out.mp4")

	stdout, _, err := runCommand(t, ctx, "dub", input, "-l", "Hindi", "--code", "hi-IN", "-o", output, "--json")
	if err != nil {
		t.Fatalf("dub: %v", err)
	}

	var body struct {
		Output string `json:"output"`
		Result struct {
			Segments []dubbing.Segment `json:"segments"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(stdout), &body); err != nil {
		t.Fatalf("bad json: %v\n%s", err, stdout)
	}
	if body.Output != output || len(body.Result.Segments) != 1 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestDubCommand_ReportsErrorCode(t *testing.T) {
	ctx := newTestContext(t)
	ctx.transcriber = &stubModel{output: `{"segments": []}`}

	_, _, err := runCommand(t, ctx, "dub", writeVideo(t), "--lang", "Hindi", "--code", "hi-IN")
	if err == nil || !strings.HasPrefix(err.Error(), dubbing.CodeNoSegmentsFound) {
		t.Errorf("expected %s error, got %v", dubbing.CodeNoSegmentsFound, err)
	}
}

func TestDubCommand_RequiresLanguageFlags(t *testing.T) {
	ctx := newTestContext(t)

	_, _, err := runCommand(t, ctx, "dub", writeVideo(t))
	if err == nil || !strings.Contains(err.Error(), "required flag") {
		t.Errorf("expected required flag error, got %v", err)
	}
}

func TestTranscribeCommand_PrintsSegments(t *testing.T) {
	ctx := newTestContext(t)

	stdout, _, err := runCommand(t, ctx, "transcribe", writeVideo(t), "--lang", "Hindi")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	for _, want := range []string{"00:00.500", "00:01.250", "Hello", "Namaste", "happy"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestTranscribeCommand_MalformedOutput(t *testing.T) {
	ctx := newTestContext(t)
	ctx.transcriber = &stubModel{output: "not json at all"}

	_, _, err := runCommand(t, ctx, "transcribe", writeVideo(t), "--lang", "Hindi")
	if dubbing.ErrorCode(err) != dubbing.CodeMalformedModelOutput {
		t.Errorf("expected malformed output error, got %v", err)
	}
}

func TestProbeCommand(t *testing.T) {
	ctx := newTestContext(t)
	input := writeVideo(t)

	stdout, _, err := runCommand(t, ctx, "probe", input, "--json")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(stdout), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if body["canonical"] != true || body["duration"] != 2.5 {
		t.Errorf("unexpected probe output %v", body)
	}

	stdout, _, err = runCommand(t, ctx, "probe", input)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(stdout, "1280x720") || !strings.Contains(stdout, "44100 Hz, 2 ch") {
		t.Errorf("unexpected table:\n%s", stdout)
	}
}

func TestProbeCommand_MissingFile(t *testing.T) {
	ctx := newTestContext(t)

	_, _, err := runCommand(t, ctx, "probe", filepath.Join(t.TempDir(), "missing.mp4"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00.000"},
		{0.5, "00:00.500"},
		{61.25, "01:01.250"},
		{-3, "00:00.000"},
		{3599.9996, "60:00.000"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.seconds); got != tt.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestDefaultOutputPath(t *testing.T) {
	if got := defaultOutputPath("/videos/talk.mkv", "ta-IN"); got != "/videos/talk.ta-in.mp4" {
		t.Errorf("unexpected path %q", got)
	}
}
