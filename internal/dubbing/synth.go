package dubbing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// SpeechSynthesizer is the remote voice-synthesis capability. It returns WAV bytes.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, languageCode, voice string) ([]byte, error)
}

const defaultMaxConcurrency = 4

// Synthesizer fans segment synthesis out to the speech service with bounded
// concurrency. Any failure aborts the whole batch.
type Synthesizer struct {
	tts            SpeechSynthesizer
	maxConcurrency int
	workDir        string
}

// NewSynthesizer creates a fan-out synthesizer writing clips under workDir.
func NewSynthesizer(tts SpeechSynthesizer, maxConcurrency int, workDir string) *Synthesizer {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Synthesizer{tts: tts, maxConcurrency: maxConcurrency, workDir: workDir}
}

// SynthesizeAll produces one clip per segment, returned in segment order. It
// waits for every dispatched call before returning. On the first failure the
// remaining calls are cancelled, every clip already written is removed and a
// SynthesisError naming the failing segment is returned.
func (s *Synthesizer) SynthesizeAll(ctx context.Context, segments []Segment, languageCode, voice string) ([]Clip, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	clips := make([]Clip, len(segments))
	sem := make(chan struct{}, s.maxConcurrency)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr *SegmentError
	)

	for i, seg := range segments {
		wg.Add(1)
		go func(i int, seg Segment) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			defer func() { <-sem }()

			path, err := s.synthesizeOne(runCtx, i, seg, languageCode, voice)
			if err != nil {
				once.Do(func() {
					firstErr = &SegmentError{Index: i, Err: err}
					cancel()
				})
				return
			}
			clips[i] = Clip{Segment: seg, Index: i, Path: path}
		}(i, seg)
	}
	wg.Wait()

	if firstErr != nil || ctx.Err() != nil {
		removeClips(clips)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{
			Kind:    ErrSynthesis,
			Stage:   StageSynthesize,
			Message: fmt.Sprintf("speech synthesis failed for segment %d", firstErr.Index),
			Err:     firstErr,
		}
	}

	log.Printf("[Dubbing] Synthesized %d clip(s)", len(clips))
	return clips, nil
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, index int, seg Segment, languageCode, voice string) (string, error) {
	audio, err := s.tts.Synthesize(ctx, seg.TranslatedText, languageCode, voice)
	if err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", errors.New("speech service returned empty audio")
	}

	f, err := os.CreateTemp(s.workDir, fmt.Sprintf("tts_%03d_*.wav", index))
	if err != nil {
		return "", fmt.Errorf("failed to create clip file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write clip: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close clip: %w", err)
	}
	return path, nil
}

func removeClips(clips []Clip) {
	for _, c := range clips {
		if c.Path != "" {
			os.Remove(c.Path)
		}
	}
}
