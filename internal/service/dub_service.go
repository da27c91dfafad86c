package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/knewbitmax/api/internal/dubbing"
	"github.com/knewbitmax/api/internal/media"
	"github.com/knewbitmax/api/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	TaskTypeDub  = "dub:process"
	QueueDubbing = "dubbing"

	jobTTL = 24 * time.Hour
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrJobNotCompleted     = errors.New("job not completed")
	ErrJobAlreadyCompleted = errors.New("job already completed")
	ErrOutputGone          = errors.New("output no longer available")
)

// Downloader fetches remote media to a local file
type Downloader interface {
	Download(ctx context.Context, url, output string) error
}

// DubServiceConfig holds the filesystem and timing settings of the dub service
type DubServiceConfig struct {
	WorkDir    string
	OutputDir  string
	JobTimeout time.Duration
}

// DubService handles acquisition, synchronous runs and dub job management
type DubService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	inspector   *asynq.Inspector
	pipeline    *dubbing.Pipeline
	downloader  Downloader
	cfg         DubServiceConfig
}

func NewDubService(redisClient *redis.Client, asynqClient *asynq.Client, inspector *asynq.Inspector, pipeline *dubbing.Pipeline, downloader Downloader, cfg DubServiceConfig) *DubService {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "outputs"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 45 * time.Minute
	}
	return &DubService{
		redis:       redisClient,
		asynqClient: asynqClient,
		inspector:   inspector,
		pipeline:    pipeline,
		downloader:  downloader,
		cfg:         cfg,
	}
}

// JobTimeout is the run budget for a single dubbing request
func (s *DubService) JobTimeout() time.Duration {
	return s.cfg.JobTimeout
}

// SaveUpload streams an uploaded file to scratch storage while hashing it.
// The extension of filename is kept so canonical mp4 uploads skip transcoding.
func (s *DubService) SaveUpload(r io.Reader, filename string) (model.DubSource, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || len(ext) > 8 {
		ext = ".bin"
	}

	f, err := os.CreateTemp(s.cfg.WorkDir, "upload_*"+ext)
	if err != nil {
		return model.DubSource{}, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		os.Remove(f.Name())
		return model.DubSource{}, fmt.Errorf("failed to store upload: %w", err)
	}

	return model.DubSource{
		UploadPath: f.Name(),
		UploadHash: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Fingerprint returns the deduplication key of a request
func Fingerprint(src model.DubSource, req *model.DubRequest) string {
	return dubbing.Fingerprint(src.SourceID(), req.TargetLanguage, req.Voice)
}

// Dub runs the full pipeline synchronously and returns the local output path.
// The caller owns the output file. Scratch input is removed on every path.
func (s *DubService) Dub(ctx context.Context, src model.DubSource, req *model.DubRequest) (string, *dubbing.Result, error) {
	defer removeUpload(src)

	release, ok := s.pipeline.Registry().Hold(Fingerprint(src, req))
	if !ok {
		return "", nil, duplicateError()
	}
	defer release()

	output := filepath.Join(s.cfg.WorkDir, "dubbed_"+uuid.New().String()+".mp4")
	result, err := s.process(ctx, src, req.TargetLanguage, req.LangCode, req.Voice, output, nil)
	if err != nil {
		return "", nil, err
	}
	return output, result, nil
}

// StartJob admits the request and queues it for the worker
func (s *DubService) StartJob(ctx context.Context, src model.DubSource, req *model.DubRequest) (*model.DubJobResponse, error) {
	fp := Fingerprint(src, req)
	lease, ok := s.pipeline.Registry().Acquire(fp)
	if !ok {
		removeUpload(src)
		return nil, duplicateError()
	}

	resp, err := s.enqueue(ctx, src, req, fp, lease)
	if err != nil {
		s.pipeline.Registry().ReleaseLease(fp, lease)
		removeUpload(src)
		return nil, err
	}
	return resp, nil
}

func (s *DubService) enqueue(ctx context.Context, src model.DubSource, req *model.DubRequest, fp string, lease uint64) (*model.DubJobResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	payload := &model.DubJobPayload{
		Source:         src,
		TargetLanguage: req.TargetLanguage,
		LangCode:       req.LangCode,
		Voice:          req.Voice,
		Fingerprint:    fp,
		Lease:          lease,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeDub,
		Status:    model.JobStatusQueued,
		Payload:   payloadBytes,
		CreatedAt: now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newDubTask(jobID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(QueueDubbing),
		asynq.MaxRetry(0),
		asynq.Timeout(s.cfg.JobTimeout),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		s.redis.Del(ctx, jobKey(jobID))
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("[Dubbing] Queued job %s (%s → %s)", jobID, src.SourceID(), req.TargetLanguage)

	return &model.DubJobResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// ProcessJob runs an admitted job (called by worker). The fingerprint stays
// held until ReleaseJob.
func (s *DubService) ProcessJob(ctx context.Context, jobID string, payload *model.DubJobPayload, progress dubbing.ProgressFunc) (string, *dubbing.Result, error) {
	output := s.OutputPath(jobID)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	result, err := s.process(ctx, payload.Source, payload.TargetLanguage, payload.LangCode, payload.Voice, output, progress)
	if err != nil {
		return "", nil, err
	}
	return output, result, nil
}

// ReleaseJob frees the job's fingerprint and scratch input. The fingerprint
// is only freed while this job still holds it; once swept, a newer request
// may own it.
func (s *DubService) ReleaseJob(payload *model.DubJobPayload) {
	if !s.pipeline.Registry().ReleaseLease(payload.Fingerprint, payload.Lease) {
		log.Printf("[Dubbing] Fingerprint of %s was no longer held by this job", payload.Source.SourceID())
	}
	removeUpload(payload.Source)
}

// OutputPath is where a job's dubbed video is written
func (s *DubService) OutputPath(jobID string) string {
	return filepath.Join(s.cfg.OutputDir, jobID+".mp4")
}

func (s *DubService) process(ctx context.Context, src model.DubSource, language, langCode, voice, output string, progress dubbing.ProgressFunc) (*dubbing.Result, error) {
	sourcePath, err := s.acquire(ctx, src)
	if err != nil {
		return nil, err
	}
	defer os.Remove(sourcePath)

	return s.pipeline.Process(ctx, dubbing.Request{
		SourcePath:     sourcePath,
		SourceID:       src.SourceID(),
		OwnsSource:     true,
		TargetLanguage: language,
		LanguageCode:   langCode,
		Voice:          voice,
		OutputPath:     output,
	}, progress)
}

// acquire returns a local media path for the source
func (s *DubService) acquire(ctx context.Context, src model.DubSource) (string, error) {
	if src.YoutubeURL == "" {
		if _, err := os.Stat(src.UploadPath); err != nil {
			return "", &dubbing.Error{Kind: dubbing.ErrAcquisition, Stage: dubbing.StageAcquire, Message: "uploaded file is missing", Err: err}
		}
		return src.UploadPath, nil
	}

	output := filepath.Join(s.cfg.WorkDir, "youtube_"+uuid.New().String()+".mp4")
	log.Printf("[Dubbing] Downloading %s", src.YoutubeURL)
	if err := s.downloader.Download(ctx, src.YoutubeURL, output); err != nil {
		os.Remove(output)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var diagnostic string
		var cmdErr *media.CommandError
		if errors.As(err, &cmdErr) {
			diagnostic = cmdErr.Stderr
		}
		return "", &dubbing.Error{
			Kind:       dubbing.ErrAcquisition,
			Stage:      dubbing.StageAcquire,
			Message:    "failed to download video",
			Diagnostic: diagnostic,
			Err:        err,
		}
	}
	return output, nil
}

// GetStatus returns the current status of a dub job
func (s *DubService) GetStatus(ctx context.Context, jobID string) (*model.DubStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.DubStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		ErrorCode:   job.ErrorCode,
		Diagnostic:  job.Diagnostic,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the result of a completed dub job
func (s *DubService) GetResult(ctx context.Context, jobID string) (*model.DubResultResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotCompleted
	}

	var result model.DubResultResponse
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// CancelJob cancels a queued or running dub job. A queued task is deleted
// outright; a running one has its context cancelled by the worker server.
func (s *DubService) CancelJob(ctx context.Context, jobID string) (*model.DubCancelResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return nil, ErrJobAlreadyCompleted
	}

	if err := s.inspector.DeleteTask(QueueDubbing, jobID); err == nil {
		var payload model.DubJobPayload
		if json.Unmarshal(job.Payload, &payload) == nil {
			s.ReleaseJob(&payload)
		}
	} else if err := s.inspector.CancelProcessing(jobID); err != nil {
		log.Printf("[Dubbing] Warning: failed to cancel job %s: %v", jobID, err)
	}

	if err := s.MarkCanceled(ctx, jobID); err != nil {
		return nil, err
	}

	return &model.DubCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  model.JobStatusCanceled,
	}, nil
}

// IsCanceled reports whether the job record was canceled
func (s *DubService) IsCanceled(ctx context.Context, jobID string) bool {
	job, err := s.getJob(ctx, jobID)
	return err == nil && job.Status == model.JobStatusCanceled
}

// DownloadTarget resolves where a finished job's video can be fetched from:
// a remote URL when it was uploaded to storage, otherwise a local path.
func (s *DubService) DownloadTarget(ctx context.Context, jobID string) (localPath, remoteURL string, err error) {
	result, err := s.GetResult(ctx, jobID)
	if err != nil {
		return "", "", err
	}
	if result.StorageKey != "" {
		return "", result.DownloadURL, nil
	}

	path := s.OutputPath(jobID)
	if _, err := os.Stat(path); err != nil {
		return "", "", ErrOutputGone
	}
	return path, "", nil
}

// UpdateJobProgress updates job progress (called by worker)
func (s *DubService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	job.Progress = progress
	job.CurrentStep = step

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// CompleteJob marks job as completed (called by worker)
func (s *DubService) CompleteJob(ctx context.Context, jobID string, result interface{}) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.CurrentStep = "Completed"
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob marks job as failed (called by worker)
func (s *DubService) FailJob(ctx context.Context, jobID, code, errMsg, diagnostic string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	job.ErrorCode = code
	job.Diagnostic = diagnostic
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// MarkCanceled marks job as canceled
func (s *DubService) MarkCanceled(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusCanceled {
		return nil
	}

	job.Status = model.JobStatusCanceled
	job.ErrorCode = dubbing.CodeCanceled
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// Helper methods

func (s *DubService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *DubService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("dub:job:%s", jobID)
}

func duplicateError() error {
	return &dubbing.Error{
		Kind:    dubbing.ErrDuplicateRequest,
		Stage:   dubbing.StageAdmit,
		Message: "an identical request is already being processed",
	}
}

func removeUpload(src model.DubSource) {
	if src.UploadPath == "" {
		return
	}
	if err := os.Remove(src.UploadPath); err != nil && !os.IsNotExist(err) {
		log.Printf("[Dubbing] Warning: failed to remove upload %s: %v", src.UploadPath, err)
	}
}

func newDubTask(jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payload),
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDub, data), nil
}
