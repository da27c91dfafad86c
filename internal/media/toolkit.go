package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/knewbitmax/api/internal/config"
)

// Toolkit wraps the ffmpeg, ffprobe and yt-dlp binaries.
type Toolkit struct {
	ffmpeg  string
	ffprobe string
	ytdlp   string
	runner  Runner
}

// NewToolkit creates a toolkit that shells out to the configured binaries.
func NewToolkit(cfg *config.MediaConfig) *Toolkit {
	return NewToolkitWithRunner(cfg.FFmpegPath, cfg.FFprobePath, cfg.YtDlpPath, ExecRunner{})
}

// NewToolkitWithRunner creates a toolkit with a custom process runner.
func NewToolkitWithRunner(ffmpeg, ffprobe, ytdlp string, runner Runner) *Toolkit {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if strings.TrimSpace(ffprobe) == "" {
		ffprobe = "ffprobe"
	}
	if strings.TrimSpace(ytdlp) == "" {
		ytdlp = "yt-dlp"
	}
	return &Toolkit{ffmpeg: ffmpeg, ffprobe: ffprobe, ytdlp: ytdlp, runner: runner}
}

// Probe inspects a media file and decodes the ffprobe JSON report.
func (t *Toolkit) Probe(ctx context.Context, path string) (ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}

	res, err := run(ctx, t.runner, t.ffprobe,
		"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return ProbeResult{}, err
	}

	var result ProbeResult
	if err := json.Unmarshal([]byte(res.Stdout), &result); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return result, nil
}

// Transcode re-encodes input into an mp4 with h264 video and aac audio.
func (t *Toolkit) Transcode(ctx context.Context, input, output string) error {
	log.Printf("[Media] Transcoding %s → %s", input, output)
	_, err := run(ctx, t.runner, t.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		output,
	)
	return err
}

// ConformAudio converts an audio file to 16-bit mono PCM WAV at sampleRate.
func (t *Toolkit) ConformAudio(ctx context.Context, input, output string, sampleRate int) error {
	_, err := run(ctx, t.runner, t.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vn", "-ac", "1", "-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		output,
	)
	return err
}

// Mux replaces the audio of video with the track in audio. When copyVideo is
// false the video stream is re-encoded to h264.
func (t *Toolkit) Mux(ctx context.Context, video, audio, output string, copyVideo bool) error {
	videoCodec := []string{"-c:v", "copy"}
	if !copyVideo {
		videoCodec = []string{"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p"}
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0", "-map", "1:a:0",
	}
	args = append(args, videoCodec...)
	args = append(args,
		"-c:a", "aac", "-b:a", "128k", "-ac", "2",
		"-shortest",
		"-movflags", "+faststart",
		output,
	)

	log.Printf("[Media] Muxing %s + %s → %s (copy video: %v)", video, audio, output, copyVideo)
	_, err := run(ctx, t.runner, t.ffmpeg, args...)
	return err
}

// Download fetches a remote video with yt-dlp, merging best video and audio into an mp4.
func (t *Toolkit) Download(ctx context.Context, url, output string) error {
	log.Printf("[Media] Downloading %s", url)
	_, err := run(ctx, t.runner, t.ytdlp,
		"-f", "bv+ba/best",
		"--merge-output-format", "mp4",
		"--no-playlist",
		"-o", output,
		url,
	)
	return err
}
