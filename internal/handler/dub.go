package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/knewbitmax/api/internal/dubbing"
	"github.com/knewbitmax/api/internal/model"
	"github.com/knewbitmax/api/internal/service"
	"github.com/knewbitmax/api/pkg/response"
)

const (
	outputFilename = "dubbed_video.mp4"

	// duplicateRetryAfter is the Retry-After hint, in seconds, for duplicate requests
	duplicateRetryAfter = 30
	maxDiagnosticLen    = 2000
)

type DubHandler struct {
	service       *service.DubService
	validator     *validator.Validate
	maxUploadSize int64
}

func NewDubHandler(svc *service.DubService, v *validator.Validate, maxUploadSize int64) *DubHandler {
	return &DubHandler{
		service:       svc,
		validator:     v,
		maxUploadSize: maxUploadSize,
	}
}

// Dub handles POST /api/dub
// @Summary      Dub a video
// @Description  Transcribe, translate and re-voice a video, returning the dubbed mp4
// @Tags         Dub
// @Accept       multipart/form-data
// @Produce      video/mp4
// @Param        file           formData file   false "Video file"
// @Param        youtubeUrl     formData string false "YouTube URL"
// @Param        targetLanguage formData string true  "Target language name"
// @Param        langCode       formData string true  "Target language code for speech synthesis"
// @Param        voice          formData string false "Voice name"
// @Success      200 {file}   binary
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Failure      504 {object} response.ErrorResponse
// @Router       /api/dub [post]
func (h *DubHandler) Dub(c *fiber.Ctx) error {
	req, src, ok, err := h.bind(c)
	if !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.service.JobTimeout())
	defer cancel()

	output, result, err := h.service.Dub(ctx, src, req)
	if err != nil {
		return dubError(c, err)
	}

	f, err := os.Open(output)
	if err != nil {
		os.Remove(output)
		return response.ServiceError(c, "Dubbed video is not readable")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		os.Remove(output)
		return response.ServiceError(c, "Dubbed video is not readable")
	}
	// the open handle keeps the data readable until the stream is closed
	os.Remove(output)

	c.Attachment(outputFilename)
	c.Set(fiber.HeaderContentType, "video/mp4")
	c.Set("X-Dub-Segments", strconv.Itoa(len(result.Segments)))
	c.Set("X-Dub-Cache-Hit", strconv.FormatBool(result.CacheHit))
	return c.SendStream(f, int(info.Size()))
}

// Submit handles POST /api/dub/jobs
// @Summary      Queue a dub job
// @Description  Queue an asynchronous dubbing job; progress is available over /ws/jobs/{jobId}
// @Tags         Dub
// @Accept       multipart/form-data
// @Produce      json
// @Success      202 {object} model.DubJobResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/dub/jobs [post]
func (h *DubHandler) Submit(c *fiber.Ctx) error {
	req, src, ok, err := h.bind(c)
	if !ok {
		return err
	}

	result, err := h.service.StartJob(c.UserContext(), src, req)
	if err != nil {
		return dubError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/dub/jobs/status/:jobId
// @Summary      Get dub job status
// @Tags         Dub
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.DubStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/dub/jobs/status/{jobId} [get]
func (h *DubHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, result)
}

// Result handles GET /api/dub/jobs/result/:jobId
// @Summary      Get dub job result
// @Tags         Dub
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.DubResultResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/dub/jobs/result/{jobId} [get]
func (h *DubHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, result)
}

// Download handles GET /api/dub/jobs/download/:jobId
// @Summary      Download dubbed video
// @Tags         Dub
// @Produce      video/mp4
// @Param        jobId path string true "Job ID"
// @Success      200 {file}   binary
// @Success      302
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/dub/jobs/download/{jobId} [get]
func (h *DubHandler) Download(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	localPath, remoteURL, err := h.service.DownloadTarget(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, err)
	}
	if remoteURL != "" {
		return c.Redirect(remoteURL, fiber.StatusFound)
	}
	return c.Download(localPath, outputFilename)
}

// Cancel handles POST /api/dub/jobs/cancel/:jobId
// @Summary      Cancel dub job
// @Tags         Dub
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.DubCancelResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/dub/jobs/cancel/{jobId} [post]
func (h *DubHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.CancelJob(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, result)
}

// bind parses and validates the dub form and stores any uploaded file. When ok
// is false the error response has already been written and err is its result.
func (h *DubHandler) bind(c *fiber.Ctx) (req *model.DubRequest, src model.DubSource, ok bool, err error) {
	fail := func(err error) (*model.DubRequest, model.DubSource, bool, error) {
		return nil, model.DubSource{}, false, err
	}

	req = &model.DubRequest{}
	if err := c.BodyParser(req); err != nil {
		return fail(response.ValidationError(c, "Invalid form data", nil))
	}
	req.YoutubeURL = strings.TrimSpace(req.YoutubeURL)
	req.TargetLanguage = strings.TrimSpace(req.TargetLanguage)
	req.LangCode = strings.TrimSpace(req.LangCode)
	req.Voice = strings.TrimSpace(req.Voice)

	if err := h.validator.Struct(req); err != nil {
		return fail(response.ValidationError(c, "Validation failed", formatValidationErrors(err)))
	}

	file, fileErr := c.FormFile("file")
	hasFile := fileErr == nil
	if hasFile == (req.YoutubeURL != "") {
		return fail(response.ValidationError(c, "Provide exactly one of file or youtubeUrl", nil))
	}

	if !hasFile {
		return req, model.DubSource{YoutubeURL: req.YoutubeURL}, true, nil
	}

	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		return fail(response.ValidationError(c, "File size exceeds upload limit", map[string]interface{}{
			"maxSize":  h.maxUploadSize,
			"fileSize": file.Size,
		}))
	}

	f, err := file.Open()
	if err != nil {
		return fail(response.ValidationError(c, "Uploaded file is not readable", nil))
	}
	defer f.Close()

	src, err = h.service.SaveUpload(f, file.Filename)
	if err != nil {
		log.Printf("[Dubbing] Failed to store upload: %v", err)
		return fail(response.ServiceError(c, "Failed to store upload"))
	}

	return req, src, true, nil
}

// truncateDiagnostic keeps the first limit characters of s without splitting a rune
func truncateDiagnostic(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}

// dubError renders a pipeline failure with its classified status code
func dubError(c *fiber.Ctx, err error) error {
	code := dubbing.ErrorCode(err)

	message := err.Error()
	details := map[string]interface{}{}
	var dubErr *dubbing.Error
	if errors.As(err, &dubErr) {
		message = dubErr.Message
		details["stage"] = dubErr.Stage
		var segErr *dubbing.SegmentError
		if errors.As(err, &segErr) {
			details["segment"] = segErr.Index
		}
	}
	if diagnostic := dubbing.Diagnostic(err); diagnostic != "" {
		text, truncated := truncateDiagnostic(diagnostic, maxDiagnosticLen)
		details["diagnostic"] = text
		if truncated {
			details["diagnosticTruncated"] = true
		}
	}

	var status int
	switch code {
	case dubbing.CodeAcquisitionFailed:
		status = fiber.StatusBadRequest
	case dubbing.CodeDuplicateRequest:
		return response.Conflict(c, code, message, duplicateRetryAfter)
	case dubbing.CodeNoSegmentsFound:
		status = fiber.StatusUnprocessableEntity
	case dubbing.CodeMalformedModelOutput, dubbing.CodeRemoteProcessing, dubbing.CodeSynthesisFailed:
		status = fiber.StatusBadGateway
	case dubbing.CodeTranscriptionTimeout, dubbing.CodeTimeout:
		status = fiber.StatusGatewayTimeout
	default:
		status = fiber.StatusInternalServerError
	}

	if status >= fiber.StatusInternalServerError {
		log.Printf("[Dubbing] Request failed (%s): %v", code, err)
	}
	var body interface{}
	if len(details) > 0 {
		body = details
	}
	return response.Error(c, status, code, message, body)
}

// jobError renders job lookup failures
func jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.Error(c, fiber.StatusConflict, response.CodeJobNotReady, "Job not completed yet", nil)
	case errors.Is(err, service.ErrJobAlreadyCompleted):
		return response.Error(c, fiber.StatusConflict, response.CodeJobFailed, "Job already finished", nil)
	case errors.Is(err, service.ErrOutputGone):
		return response.NotFound(c, "Dubbed video is no longer available")
	}
	return response.ServiceError(c, fmt.Sprintf("job lookup failed: %v", err))
}
