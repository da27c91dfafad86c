package client

import (
	"context"
	"fmt"
	"io"

	"github.com/knewbitmax/api/internal/config"
	"github.com/sashabaranov/go-openai"
)

// OpenAISpeechClient implements dubbing.SpeechSynthesizer with the OpenAI speech endpoint
type OpenAISpeechClient struct {
	client *openai.Client
	apiKey string
	model  string
	voice  string
}

// NewOpenAISpeechClient creates a new OpenAI text-to-speech client
func NewOpenAISpeechClient(cfg *config.OpenAIConfig) *OpenAISpeechClient {
	aiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		aiConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAISpeechClient{
		client: openai.NewClientWithConfig(aiConfig),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		voice:  cfg.Voice,
	}
}

// Synthesize converts text to AAC speech. The language is inferred from the
// text; languageCode is accepted for interface compatibility.
func (c *OpenAISpeechClient) Synthesize(ctx context.Context, text, languageCode, voice string) ([]byte, error) {
	if voice == "" {
		voice = c.voice
	}

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatAac,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}
	return audio, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenAISpeechClient) IsConfigured() bool {
	return c.apiKey != ""
}
