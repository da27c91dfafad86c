package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/knewbitmax/api/internal/client"
	"github.com/knewbitmax/api/internal/dubbing"
	"github.com/knewbitmax/api/internal/model"
	"github.com/knewbitmax/api/internal/service"
	"github.com/knewbitmax/api/internal/websocket"
)

// DubWorker processes dub jobs
type DubWorker struct {
	dubService *service.DubService
	storage    client.StorageClient
	hub        *websocket.Hub
}

// NewDubWorker creates a new dub worker. storage may be nil, in which case
// outputs are served from the local output directory.
func NewDubWorker(dubService *service.DubService, storage client.StorageClient, hub *websocket.Hub) *DubWorker {
	return &DubWorker{
		dubService: dubService,
		storage:    storage,
		hub:        hub,
	}
}

// ProcessTask handles dub task processing
func (w *DubWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := taskPayload.JobID
	log.Printf("Starting dub job: %s", jobID)

	var payload model.DubJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, dubbing.CodeDubbingFailed, "Invalid payload", "")
		return fmt.Errorf("failed to unmarshal dub payload: %v: %w", err, asynq.SkipRetry)
	}
	defer w.dubService.ReleaseJob(&payload)

	if w.dubService.IsCanceled(ctx, jobID) {
		log.Printf("Dub job %s was canceled before it started", jobID)
		return nil
	}

	output, result, err := w.dubService.ProcessJob(ctx, jobID, &payload, func(progress int, step string) {
		w.updateProgress(ctx, jobID, progress, step)
	})
	if err != nil {
		return w.handleFailure(ctx, jobID, err)
	}

	resp := &model.DubResultResponse{
		JobID:          jobID,
		DownloadURL:    "/api/dub/jobs/download/" + jobID,
		Segments:       result.Segments,
		CacheHit:       result.CacheHit,
		Duration:       result.Duration,
		ElapsedSeconds: result.ElapsedSeconds,
		Warnings:       result.Warnings,
	}

	if w.storage != nil && w.storage.IsConfigured() {
		w.updateProgress(ctx, jobID, 95, "Uploading dubbed video...")
		key := client.DeliverableKey(jobID)
		url, err := w.storage.UploadFile(ctx, key, output, "video/mp4")
		if err != nil {
			log.Printf("Warning: upload failed for job %s, serving local file: %v", jobID, err)
			resp.Warnings = append(resp.Warnings, "storage upload failed; video served from local output")
		} else {
			resp.DownloadURL = url
			resp.StorageKey = key
			os.Remove(output)
		}
	}

	if err := w.dubService.CompleteJob(ctx, jobID, resp); err != nil {
		w.failJob(ctx, jobID, dubbing.CodeDubbingFailed, "Failed to save result", "")
		return err
	}

	w.hub.BroadcastComplete(jobID, resp)
	log.Printf("Dub job %s completed", jobID)
	return nil
}

func (w *DubWorker) handleFailure(ctx context.Context, jobID string, err error) error {
	if errors.Is(err, context.Canceled) && w.dubService.IsCanceled(context.WithoutCancel(ctx), jobID) {
		log.Printf("Dub job %s canceled", jobID)
		w.hub.BroadcastCanceled(jobID)
		return nil
	}

	code := dubbing.ErrorCode(err)
	log.Printf("Dub job %s failed (%s): %v", jobID, code, err)
	w.failJob(context.WithoutCancel(ctx), jobID, code, err.Error(), dubbing.Diagnostic(err))
	return fmt.Errorf("dub job %s: %v: %w", jobID, err, asynq.SkipRetry)
}

// Helper methods

func (w *DubWorker) updateProgress(ctx context.Context, jobID string, progress int, step string) {
	if err := w.dubService.UpdateJobProgress(ctx, jobID, progress, step); err != nil {
		log.Printf("Failed to update progress for job %s: %v", jobID, err)
	}
	w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
}

func (w *DubWorker) failJob(ctx context.Context, jobID, code, errMsg, diagnostic string) {
	if err := w.dubService.FailJob(ctx, jobID, code, errMsg, diagnostic); err != nil {
		log.Printf("Failed to mark job %s as failed: %v", jobID, err)
	}
	w.hub.BroadcastError(jobID, code, errMsg, diagnostic)
}
