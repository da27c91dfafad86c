package dubbing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// Request describes one dubbing run.
type Request struct {
	// SourcePath is the local media file to dub.
	SourcePath string
	// SourceID identifies the source for deduplication, such as a URL or upload hash.
	SourceID string
	// OwnsSource allows the pipeline to delete SourcePath once a canonical copy exists.
	OwnsSource     bool
	TargetLanguage string
	LanguageCode   string
	Voice          string
	OutputPath     string
}

// Fingerprint returns the deduplication key for the request.
func (r Request) Fingerprint() string {
	return Fingerprint(r.SourceID, r.TargetLanguage, r.Voice)
}

// Result is the outcome of a successful run.
type Result struct {
	OutputPath     string    `json:"-"`
	Segments       []Segment `json:"segments"`
	CacheHit       bool      `json:"cacheHit"`
	Duration       float64   `json:"duration"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// ProgressFunc receives coarse progress (0-100) and a step description.
type ProgressFunc func(progress int, step string)

// Options configures a Pipeline.
type Options struct {
	WorkDir        string
	SampleRate     int
	MaxConcurrency int
	Driver         DriverConfig
	Clock          Clock
}

// Pipeline runs normalize → transcribe → parse → synthesize → assemble → mux
// for a single request, with the registry guarding against duplicates and the
// cache short-circuiting transcription.
type Pipeline struct {
	registry   *Registry
	cache      *Cache
	normalizer *Normalizer
	driver     *Driver
	synth      *Synthesizer
	assembler  *Assembler
	muxer      *Muxer
	workDir    string
}

// NewPipeline wires the pipeline stages from their capabilities.
func NewPipeline(opts Options, tools MediaTools, transcriber Transcriber, tts SpeechSynthesizer, cache *Cache, registry *Registry) *Pipeline {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Pipeline{
		registry:   registry,
		cache:      cache,
		normalizer: NewNormalizer(tools, opts.WorkDir),
		driver:     NewDriver(transcriber, opts.Driver, opts.Clock),
		synth:      NewSynthesizer(tts, opts.MaxConcurrency, opts.WorkDir),
		assembler:  NewAssembler(tools, opts.SampleRate, opts.WorkDir),
		muxer:      NewMuxer(tools),
		workDir:    opts.WorkDir,
	}
}

// Registry exposes the in-flight registry shared with the job layer.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Run admits the request through the registry and processes it. An identical
// request already in flight fails with ErrDuplicateRequest.
func (p *Pipeline) Run(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	release, ok := p.registry.Hold(req.Fingerprint())
	if !ok {
		return nil, &Error{
			Kind:    ErrDuplicateRequest,
			Stage:   StageAdmit,
			Message: "an identical request is already being processed",
		}
	}
	defer release()

	return p.Process(ctx, req, progress)
}

// Process runs the pipeline without registry admission. Callers that admitted
// the request themselves must release it.
func (p *Pipeline) Process(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	started := time.Now()
	result := &Result{OutputPath: req.OutputPath}

	progress(5, "Hashing media")
	contentHash, err := HashFile(req.SourcePath)
	if err != nil {
		return nil, &Error{Kind: ErrAcquisition, Stage: StageAcquire, Message: "source media is not readable", Err: err}
	}

	progress(10, "Normalizing media")
	norm, err := p.normalizer.Normalize(ctx, req.SourcePath, req.OwnsSource)
	if err != nil {
		return nil, err
	}
	if norm.Transcoded {
		defer os.Remove(norm.Path)
	}
	if norm.Warning != "" {
		result.Warnings = append(result.Warnings, norm.Warning)
	}
	result.Duration = norm.Probe.DurationSeconds()

	segments, hit, err := p.transcribe(ctx, norm, contentHash, req.TargetLanguage, progress)
	if err != nil {
		return nil, err
	}
	result.Segments = segments
	result.CacheHit = hit

	progress(45, fmt.Sprintf("Synthesizing speech for %d segment(s)", len(segments)))
	clips, err := p.synth.SynthesizeAll(ctx, segments, req.LanguageCode, req.Voice)
	if err != nil {
		return nil, err
	}

	progress(75, "Assembling audio timeline")
	audioPath, err := p.tempPath("dubbed_audio_*.wav")
	if err != nil {
		removeClips(clips)
		return nil, err
	}
	defer os.Remove(audioPath)

	if err := p.assembler.Assemble(ctx, clips, result.Duration, audioPath); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Kind: ErrMux, Stage: StageAssemble, Message: "failed to assemble dubbed audio", Err: err}
	}

	progress(90, "Muxing video")
	if err := p.muxer.Mux(ctx, norm, audioPath, req.OutputPath); err != nil {
		os.Remove(req.OutputPath)
		return nil, err
	}

	elapsed := time.Since(started)
	result.ElapsedSeconds = elapsed.Seconds()
	progress(100, "Completed")
	log.Printf("[Dubbing] Finished %s → %s in %v (%d segments, cache hit: %v)",
		req.SourceID, req.OutputPath, elapsed.Round(time.Millisecond), len(segments), hit)
	return result, nil
}

// transcribe returns segments from the cache or the remote model. Only
// successfully parsed, non-empty transcripts are cached.
func (p *Pipeline) transcribe(ctx context.Context, norm NormalizedMedia, contentHash, language string, progress ProgressFunc) ([]Segment, bool, error) {
	key := CacheKey(contentHash, "transcription:"+language)

	if payload, ok := p.cache.Get(key); ok {
		progress(40, "Using cached transcription")
		segments, err := ParseTranscript(payload)
		if err == nil && len(segments) > 0 {
			log.Printf("[Dubbing] Transcription cache hit for %s", contentHash[:12])
			return segments, true, nil
		}
		log.Printf("[Dubbing] Warning: ignoring unusable cache entry for %s", contentHash[:12])
	}

	progress(20, "Transcribing and translating")
	raw, err := p.driver.Transcribe(ctx, norm.Path, "video/mp4", language)
	if err != nil {
		return nil, false, err
	}

	progress(40, "Parsing transcription")
	segments, err := ParseTranscript(raw)
	if err != nil {
		return nil, false, err
	}
	if len(segments) == 0 {
		return nil, false, &Error{
			Kind:       ErrNoSegmentsFound,
			Stage:      StageParse,
			Message:    "no speech segments found in the video",
			Diagnostic: raw,
		}
	}

	payload, err := json.Marshal(map[string][]Segment{"segments": segments})
	if err == nil {
		p.cache.Put(key, string(payload))
	}
	return segments, false, nil
}

func (p *Pipeline) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(p.workDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}
