package dubbing

import (
	"context"
	"errors"

	"github.com/knewbitmax/api/internal/media"
)

// Muxer combines the original video stream with the assembled dubbed audio.
type Muxer struct {
	tools MediaTools
}

func NewMuxer(tools MediaTools) *Muxer {
	return &Muxer{tools: tools}
}

// Mux writes output with the video of source and the audio track at audioPath.
// The video stream is copied when it is already h264.
func (m *Muxer) Mux(ctx context.Context, source NormalizedMedia, audioPath, output string) error {
	copyVideo := source.Probe.VideoCodec() == "h264"

	err := m.tools.Mux(ctx, source.Path, audioPath, output, copyVideo)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var diagnostic string
	var cmdErr *media.CommandError
	if errors.As(err, &cmdErr) {
		diagnostic = cmdErr.Stderr
	}
	return &Error{
		Kind:       ErrMux,
		Stage:      StageMux,
		Message:    "failed to combine video with dubbed audio",
		Diagnostic: diagnostic,
		Err:        err,
	}
}
