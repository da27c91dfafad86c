package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knewbitmax/api/internal/config"
	"github.com/knewbitmax/api/internal/dubbing"
)

// GeminiClient implements dubbing.Transcriber against the Gemini Files and
// generateContent REST APIs.
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// geminiFile is the file resource returned by the Files API
type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type uploadFileResponse struct {
	File geminiFile `json:"file"`
}

type fileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type contentPart struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"file_data,omitempty"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

// GenerateContentRequest represents the request body for generateContent
type GenerateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

// GenerateContentResponse represents the response from generateContent
type GenerateContentResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// NewGeminiClient creates a new Gemini API client
func NewGeminiClient(cfg *config.GeminiConfig) *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{
			Timeout: 15 * time.Minute,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Submit uploads the media file and returns its remote handle
func (c *GeminiClient) Submit(ctx context.Context, path, mimeType string) (dubbing.RemoteFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return dubbing.RemoteFile{}, fmt.Errorf("failed to open media: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return dubbing.RemoteFile{}, fmt.Errorf("failed to stat media: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/v1beta/files"), f)
	if err != nil {
		return dubbing.RemoteFile{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("Content-Type", mimeType)

	log.Printf("[Gemini API] → upload %s (%d bytes)", path, info.Size())

	var result uploadFileResponse
	if err := c.doRequest(req, &result); err != nil {
		return dubbing.RemoteFile{}, err
	}
	if result.File.Name == "" {
		return dubbing.RemoteFile{}, fmt.Errorf("upload response missing file name")
	}

	return toRemoteFile(result.File), nil
}

// Status fetches the current processing state of an uploaded file
func (c *GeminiClient) Status(ctx context.Context, name string) (dubbing.RemoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v1beta/"+name), nil)
	if err != nil {
		return dubbing.RemoteFile{}, fmt.Errorf("failed to create request: %w", err)
	}

	var file geminiFile
	if err := c.doRequest(req, &file); err != nil {
		return dubbing.RemoteFile{}, err
	}
	return toRemoteFile(file), nil
}

// Generate asks the model to transcribe and translate the referenced file
func (c *GeminiClient) Generate(ctx context.Context, file dubbing.RemoteFile, prompt string) (string, error) {
	body := GenerateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []contentPart{
				{Text: prompt},
				{FileData: &fileData{MimeType: file.MimeType, FileURI: file.URI}},
			},
		}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json"},
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result GenerateContentResponse
	if err := c.doRequest(req, &result); err != nil {
		return "", err
	}

	if len(result.Candidates) == 0 {
		if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", result.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("no candidates in response")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

// Delete removes an uploaded file. Files already gone are not an error.
func (c *GeminiClient) Delete(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/v1beta/"+name), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *GeminiClient) endpoint(path string) string {
	return c.baseURL + path + "?key=" + url.QueryEscape(c.apiKey)
}

// doRequest executes an HTTP request and parses the JSON response
func (c *GeminiClient) doRequest(req *http.Request, result interface{}) error {
	target := req.URL.Path

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Gemini API] ✗ %s %s — request failed: %v", req.Method, target, err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Gemini API] ✗ %s %s — failed to read response: %v", req.Method, target, err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Gemini API] ← %d %s %s (%d bytes)", resp.StatusCode, req.Method, target, len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func toRemoteFile(f geminiFile) dubbing.RemoteFile {
	rf := dubbing.RemoteFile{
		Name:     f.Name,
		URI:      f.URI,
		MimeType: f.MimeType,
		State:    dubbing.ParseRemoteState(f.State),
	}
	if f.Error != nil {
		rf.ErrorMessage = f.Error.Message
	}
	return rf
}
