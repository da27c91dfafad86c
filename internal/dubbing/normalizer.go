package dubbing

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/knewbitmax/api/internal/media"
)

// MediaTools is the subset of the media toolkit the pipeline depends on.
type MediaTools interface {
	Probe(ctx context.Context, path string) (media.ProbeResult, error)
	Transcode(ctx context.Context, input, output string) error
	ConformAudio(ctx context.Context, input, output string, sampleRate int) error
	Mux(ctx context.Context, video, audio, output string, copyVideo bool) error
}

// NormalizedMedia describes the canonical input handed to the rest of the pipeline.
type NormalizedMedia struct {
	Path  string
	Probe media.ProbeResult
	// Transcoded is true when Path is a new file owned by the caller.
	Transcoded bool
	Warning    string
}

// Normalizer brings input media to the canonical form: mp4 container, h264 video, aac audio.
type Normalizer struct {
	tools   MediaTools
	workDir string
}

// NewNormalizer creates a normalizer writing transcodes under workDir.
func NewNormalizer(tools MediaTools, workDir string) *Normalizer {
	return &Normalizer{tools: tools, workDir: workDir}
}

// IsCanonical reports whether the probed file is already mp4/h264/aac.
func IsCanonical(path string, probe media.ProbeResult) bool {
	return strings.EqualFold(filepath.Ext(path), ".mp4") &&
		probe.ContainerIs("mp4") &&
		probe.VideoCodec() == "h264" &&
		probe.AudioCodec() == "aac"
}

// Normalize returns input unchanged when it is already canonical. Otherwise it
// transcodes to a new file; when owned is true the pre-transcode file is
// removed once the canonical copy exists. A failed transcode falls back to the
// original input with a warning.
func (n *Normalizer) Normalize(ctx context.Context, input string, owned bool) (NormalizedMedia, error) {
	probe, err := n.tools.Probe(ctx, input)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NormalizedMedia{}, ctxErr
		}
		return NormalizedMedia{}, &Error{
			Kind:    ErrAcquisition,
			Stage:   StageNormalize,
			Message: "input is not readable media",
			Err:     err,
		}
	}
	if !probe.HasVideo() {
		return NormalizedMedia{}, &Error{
			Kind:    ErrAcquisition,
			Stage:   StageNormalize,
			Message: "input has no video stream",
		}
	}

	if IsCanonical(input, probe) {
		return NormalizedMedia{Path: input, Probe: probe}, nil
	}

	f, err := os.CreateTemp(n.workDir, "normalized_*.mp4")
	if err != nil {
		return NormalizedMedia{}, fmt.Errorf("failed to create normalized file: %w", err)
	}
	output := f.Name()
	f.Close()

	if err := n.tools.Transcode(ctx, input, output); err != nil {
		os.Remove(output)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NormalizedMedia{}, ctxErr
		}
		warning := fmt.Sprintf("transcode to canonical form failed, continuing with original input: %v", err)
		log.Printf("[Dubbing] Warning: %s", warning)
		return NormalizedMedia{Path: input, Probe: probe, Warning: warning}, nil
	}

	outProbe, err := n.tools.Probe(ctx, output)
	if err != nil {
		log.Printf("[Dubbing] Warning: failed to probe normalized file, using source metadata: %v", err)
		outProbe = probe
	}

	if owned {
		if err := os.Remove(input); err != nil && !os.IsNotExist(err) {
			log.Printf("[Dubbing] Warning: failed to remove pre-transcode file %s: %v", input, err)
		}
	}

	return NormalizedMedia{Path: output, Probe: outProbe, Transcoded: true}, nil
}
