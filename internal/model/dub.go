package model

import (
	"time"

	"github.com/knewbitmax/api/internal/dubbing"
)

// DubRequest holds the non-file form fields of a dubbing request
type DubRequest struct {
	YoutubeURL     string `form:"youtubeUrl" validate:"omitempty,url,max=2048"`
	TargetLanguage string `form:"targetLanguage" validate:"required,min=2,max=64"`
	LangCode       string `form:"langCode" validate:"required,min=2,max=16"`
	Voice          string `form:"voice" validate:"omitempty,max=64"`
}

// DubSource is the acquired input of a dubbing request. Exactly one of
// UploadPath and YoutubeURL is set.
type DubSource struct {
	UploadPath string `json:"uploadPath,omitempty"`
	UploadHash string `json:"uploadHash,omitempty"`
	YoutubeURL string `json:"youtubeUrl,omitempty"`
}

// SourceID identifies the source for request deduplication
func (s DubSource) SourceID() string {
	if s.YoutubeURL != "" {
		return s.YoutubeURL
	}
	return "upload:" + s.UploadHash
}

// DubJobPayload contains the data for a dub job
type DubJobPayload struct {
	Source         DubSource `json:"source"`
	TargetLanguage string    `json:"targetLanguage"`
	LangCode       string    `json:"langCode"`
	Voice          string    `json:"voice,omitempty"`
	Fingerprint    string    `json:"fingerprint"`
	Lease          uint64    `json:"lease"`
}

// DubJobResponse represents the response when a dub job is queued
type DubJobResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// DubStatusResponse represents the status of a dub job
type DubStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error"`
	ErrorCode   string     `json:"errorCode,omitempty"`
	Diagnostic  string     `json:"diagnostic,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// DubResultResponse represents the result of a completed dub job
type DubResultResponse struct {
	JobID          string            `json:"jobId"`
	DownloadURL    string            `json:"downloadUrl"`
	StorageKey     string            `json:"storageKey,omitempty"`
	Segments       []dubbing.Segment `json:"segments"`
	CacheHit       bool              `json:"cacheHit"`
	Duration       float64           `json:"duration"`
	ElapsedSeconds float64           `json:"elapsedSeconds"`
	Warnings       []string          `json:"warnings,omitempty"`
}

// DubCancelResponse represents the response when canceling a dub job
type DubCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}
