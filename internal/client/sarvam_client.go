package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/knewbitmax/api/internal/config"
)

// ErrNoAudio is returned when a speech provider answers without audio.
var ErrNoAudio = errors.New("no audio in response")

// SarvamClient implements dubbing.SpeechSynthesizer for the Sarvam text-to-speech API
type SarvamClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	speaker    string
}

// TextToSpeechRequest represents the request body for text-to-speech
type TextToSpeechRequest struct {
	Text               string `json:"text"`
	TargetLanguageCode string `json:"target_language_code"`
	Speaker            string `json:"speaker,omitempty"`
}

// TextToSpeechResponse represents the response from text-to-speech.
// Audios holds base64-encoded WAV data.
type TextToSpeechResponse struct {
	RequestID string   `json:"request_id"`
	Audios    []string `json:"audios"`
}

// NewSarvamClient creates a new Sarvam API client
func NewSarvamClient(cfg *config.SarvamConfig) *SarvamClient {
	return &SarvamClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		speaker: cfg.Speaker,
	}
}

// Synthesize converts text to speech. An empty voice uses the configured speaker.
func (c *SarvamClient) Synthesize(ctx context.Context, text, languageCode, voice string) ([]byte, error) {
	if voice == "" {
		voice = c.speaker
	}

	reqBody := TextToSpeechRequest{
		Text:               text,
		TargetLanguageCode: languageCode,
		Speaker:            strings.ToLower(voice),
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/text-to-speech", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-subscription-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Sarvam API] ✗ POST /text-to-speech — request failed: %v", err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Sarvam API] ← %d POST /text-to-speech — %s", resp.StatusCode, string(respBody))
		return nil, fmt.Errorf("sarvam API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var ttsResp TextToSpeechResponse
	if err := json.Unmarshal(respBody, &ttsResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(ttsResp.Audios) == 0 || ttsResp.Audios[0] == "" {
		return nil, ErrNoAudio
	}

	audio, err := base64.StdEncoding.DecodeString(ttsResp.Audios[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	return audio, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SarvamClient) IsConfigured() bool {
	return c.apiKey != ""
}
