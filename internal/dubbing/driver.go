package dubbing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// JobState is the lifecycle of a remote transcription job.
type JobState int

const (
	StateUploading JobState = iota
	StateProcessing
	StateActive
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateUploading:
		return "UPLOADING"
	case StateProcessing:
		return "PROCESSING"
	case StateActive:
		return "ACTIVE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateActive || s == StateFailed
}

// ParseRemoteState maps a remote state string to a JobState. Unknown or
// unspecified states are treated as still processing.
func ParseRemoteState(state string) JobState {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "ACTIVE":
		return StateActive
	case "FAILED":
		return StateFailed
	default:
		return StateProcessing
	}
}

// nextState is the transition function of the job state machine. The remote
// side only ever moves forward; an observed UPLOADING after submission counts
// as PROCESSING.
func nextState(current, observed JobState) (JobState, error) {
	if current.Terminal() {
		return current, fmt.Errorf("invalid transition from terminal state %s to %s", current, observed)
	}
	if observed == StateUploading {
		observed = StateProcessing
	}
	return observed, nil
}

// RemoteFile is a handle to media submitted to the transcription service.
type RemoteFile struct {
	Name         string
	URI          string
	MimeType     string
	State        JobState
	ErrorMessage string
}

// Transcriber is the remote speech-understanding capability.
type Transcriber interface {
	Submit(ctx context.Context, path, mimeType string) (RemoteFile, error)
	Status(ctx context.Context, name string) (RemoteFile, error)
	Generate(ctx context.Context, file RemoteFile, prompt string) (string, error)
	Delete(ctx context.Context, name string) error
}

// Clock abstracts time for the polling loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// DriverConfig tunes the polling loop.
type DriverConfig struct {
	PollInterval    time.Duration
	MaxWait         time.Duration
	GenerateTimeout time.Duration
	DeleteTimeout   time.Duration
}

func (c DriverConfig) withDefaults() DriverConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 15 * time.Minute
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 600 * time.Second
	}
	if c.DeleteTimeout <= 0 {
		c.DeleteTimeout = 30 * time.Second
	}
	return c
}

// Driver drives one remote transcription job from upload to generated text.
type Driver struct {
	client Transcriber
	clock  Clock
	cfg    DriverConfig
}

// NewDriver creates a driver. A nil clock uses wall time.
func NewDriver(client Transcriber, cfg DriverConfig, clock Clock) *Driver {
	if clock == nil {
		clock = realClock{}
	}
	return &Driver{client: client, clock: clock, cfg: cfg.withDefaults()}
}

// Transcribe uploads the media, waits until the remote job is ACTIVE and
// returns the model's raw response. The remote file is deleted exactly once
// before returning, whatever the outcome.
func (d *Driver) Transcribe(ctx context.Context, mediaPath, mimeType, targetLanguage string) (string, error) {
	file, err := d.client.Submit(ctx, mediaPath, mimeType)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &Error{
			Kind:    ErrAcquisition,
			Stage:   StageTranscribe,
			Message: "failed to upload media for transcription",
			Err:     err,
		}
	}
	defer d.deleteRemote(ctx, file.Name)

	state, err := nextState(StateUploading, file.State)
	if err != nil {
		return "", err
	}
	log.Printf("[Dubbing] Uploaded %s, state %s", file.Name, state)

	deadline := d.clock.Now().Add(d.cfg.MaxWait)
	attempt := 0
	for state == StateProcessing {
		if !d.clock.Now().Before(deadline) {
			return "", &Error{
				Kind:    ErrTranscriptionTimeout,
				Stage:   StageTranscribe,
				Message: fmt.Sprintf("job %s still processing after %v", file.Name, d.cfg.MaxWait),
			}
		}

		select {
		case <-ctx.Done():
			log.Printf("[Dubbing] Poll (file=%s) — context cancelled", file.Name)
			return "", ctx.Err()
		case <-d.clock.After(d.cfg.PollInterval):
		}

		attempt++
		file, err = d.client.Status(ctx, file.Name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", &Error{
				Kind:    ErrRemoteProcessingFailed,
				Stage:   StageTranscribe,
				Message: "failed to query transcription job status",
				Err:     err,
			}
		}
		if state, err = nextState(state, file.State); err != nil {
			return "", err
		}
		log.Printf("[Dubbing] Poll #%d (file=%s) — state: %s", attempt, file.Name, state)
	}

	if state == StateFailed {
		msg := strings.TrimSpace(file.ErrorMessage)
		if msg == "" {
			msg = "remote processing failed without a message"
		}
		return "", &Error{
			Kind:       ErrRemoteProcessingFailed,
			Stage:      StageTranscribe,
			Message:    msg,
			Diagnostic: file.ErrorMessage,
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, d.cfg.GenerateTimeout)
	defer cancel()

	text, err := d.client.Generate(genCtx, file, BuildPrompt(targetLanguage))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", &Error{
				Kind:    ErrTranscriptionTimeout,
				Stage:   StageTranscribe,
				Message: fmt.Sprintf("generation did not finish within %v", d.cfg.GenerateTimeout),
				Err:     err,
			}
		}
		return "", &Error{
			Kind:    ErrRemoteProcessingFailed,
			Stage:   StageTranscribe,
			Message: "transcription request failed",
			Err:     err,
		}
	}

	return text, nil
}

// deleteRemote runs on a context detached from caller cancellation so the
// remote file is removed even when the run was cancelled.
func (d *Driver) deleteRemote(ctx context.Context, name string) {
	if name == "" {
		return
	}
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.DeleteTimeout)
	defer cancel()

	if err := d.client.Delete(delCtx, name); err != nil {
		log.Printf("[Dubbing] Warning: failed to delete remote file %s: %v", name, err)
	}
}
