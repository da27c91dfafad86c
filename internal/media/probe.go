package media

import (
	"math"
	"strconv"
	"strings"
)

// ProbeResult represents the parsed output of an ffprobe inspection.
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// VideoCodec returns the codec of the first video stream, or "" when there is none.
func (r ProbeResult) VideoCodec() string {
	return r.firstCodec("video")
}

// AudioCodec returns the codec of the first audio stream, or "" when there is none.
func (r ProbeResult) AudioCodec() string {
	return r.firstCodec("audio")
}

// HasVideo reports whether at least one video stream exists.
func (r ProbeResult) HasVideo() bool {
	return r.VideoCodec() != ""
}

// ContainerIs reports whether ffprobe lists name among the demuxer format names.
// ffprobe reports mp4 as "mov,mp4,m4a,3gp,3g2,mj2".
func (r ProbeResult) ContainerIs(name string) bool {
	for _, f := range strings.Split(r.Format.FormatName, ",") {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r ProbeResult) DurationSeconds() float64 {
	d := parseFloat(r.Format.Duration)
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

func (r ProbeResult) firstCodec(kind string) string {
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, kind) {
			return strings.ToLower(s.CodecName)
		}
	}
	return ""
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
