package dubbing

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sort"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	defaultSampleRate = 44100
	fadeInDuration    = 10 // milliseconds
	pcmBitDepth       = 16
	writeChunkSamples = 1 << 16
	maxSample         = math.MaxInt16
	minSample         = math.MinInt16
)

// AudioConformer converts an arbitrary audio file to 16-bit mono PCM WAV.
type AudioConformer interface {
	ConformAudio(ctx context.Context, input, output string, sampleRate int) error
}

// Assembler lays synthesized clips onto a single mono timeline. Gaps are exact
// silence and overlapping clips are mixed additively.
type Assembler struct {
	conformer  AudioConformer
	sampleRate int
	workDir    string
}

// NewAssembler creates an assembler producing PCM at sampleRate.
func NewAssembler(conformer AudioConformer, sampleRate int, workDir string) *Assembler {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &Assembler{conformer: conformer, sampleRate: sampleRate, workDir: workDir}
}

// Assemble writes a WAV at output with every clip placed at round(start*rate).
// The track is at least minDuration seconds and long enough to hold every
// clip and segment end. Clip files and intermediates are removed on every path.
func (a *Assembler) Assemble(ctx context.Context, clips []Clip, minDuration float64, output string) error {
	var intermediates []string
	defer func() {
		removeClips(clips)
		for _, p := range intermediates {
			os.Remove(p)
		}
	}()

	ordered := make([]Clip, len(clips))
	copy(ordered, clips)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Segment.Start != ordered[j].Segment.Start {
			return ordered[i].Segment.Start < ordered[j].Segment.Start
		}
		return ordered[i].Index < ordered[j].Index
	})

	total := a.samplesFor(minDuration)
	for _, clip := range ordered {
		if end := a.samplesFor(clip.Segment.End); end > total {
			total = end
		}
	}
	track := make([]int16, total)

	fade := a.sampleRate * fadeInDuration / 1000
	coveredUntil := 0
	for _, clip := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}

		conformed, err := a.tempPath("conformed_*.wav")
		if err != nil {
			return err
		}
		intermediates = append(intermediates, conformed)

		if err := a.conformer.ConformAudio(ctx, clip.Path, conformed, a.sampleRate); err != nil {
			return fmt.Errorf("failed to conform clip %d: %w", clip.Index, err)
		}
		samples, err := a.readPCM(conformed)
		if err != nil {
			return fmt.Errorf("failed to decode clip %d: %w", clip.Index, err)
		}
		os.Remove(conformed)

		offset := int(math.Round(clip.Segment.Start * float64(a.sampleRate)))
		end := offset + len(samples)
		if end > len(track) {
			track = append(track, make([]int16, end-len(track))...)
		}

		// Fade in only where the clip lands on audio already on the track.
		fadeIn := offset < coveredUntil && audible(track[offset:min(offset+fade, coveredUntil)])
		for j, v := range samples {
			if fadeIn && j < fade {
				v = v * j / fade
			}
			track[offset+j] = clamp(int(track[offset+j]) + v)
		}
		if end > coveredUntil {
			coveredUntil = end
		}
	}
	if len(track) == 0 {
		track = make([]int16, 1)
	}

	if err := a.writePCM(output, track); err != nil {
		return err
	}

	log.Printf("[Dubbing] Assembled %d clip(s) into %.2fs of audio", len(ordered), float64(len(track))/float64(a.sampleRate))
	return nil
}

func audible(samples []int16) bool {
	for _, v := range samples {
		if v != 0 {
			return true
		}
	}
	return false
}

func (a *Assembler) samplesFor(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Ceil(seconds * float64(a.sampleRate)))
}

func (a *Assembler) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(a.workDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}

// readPCM decodes a conformed WAV into mono 16-bit samples.
func (a *Assembler) readPCM(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if int(dec.BitDepth) != pcmBitDepth {
		return nil, fmt.Errorf("unexpected bit depth %d", dec.BitDepth)
	}
	if buf.Format.SampleRate != a.sampleRate {
		return nil, fmt.Errorf("unexpected sample rate %d", buf.Format.SampleRate)
	}

	channels := buf.Format.NumChannels
	if channels <= 1 {
		return buf.Data, nil
	}

	// Downmix interleaved frames.
	frames := len(buf.Data) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return mono, nil
}

// writePCM encodes the track in chunks so no full-width copy of it is made.
func (a *Assembler) writePCM(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output audio: %w", err)
	}

	enc := wav.NewEncoder(f, a.sampleRate, pcmBitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Data:           make([]int, 0, writeChunkSamples),
		Format:         &audio.Format{SampleRate: a.sampleRate, NumChannels: 1},
		SourceBitDepth: pcmBitDepth,
	}
	for from := 0; from < len(samples); from += writeChunkSamples {
		to := min(from+writeChunkSamples, len(samples))
		buf.Data = buf.Data[:0]
		for _, v := range samples[from:to] {
			buf.Data = append(buf.Data, int(v))
		}
		if err := enc.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode audio: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize audio: %w", err)
	}
	return f.Close()
}

func clamp(v int) int16 {
	if v > maxSample {
		return maxSample
	}
	if v < minSample {
		return minSample
	}
	return int16(v)
}
