package client

import (
	"strings"

	"github.com/knewbitmax/api/internal/config"
	"github.com/knewbitmax/api/internal/dubbing"
)

// NewSpeechSynthesizer returns the synthesis provider selected by tts.provider
// and whether it has credentials. Sarvam is the default.
func NewSpeechSynthesizer(cfg *config.Config) (dubbing.SpeechSynthesizer, bool) {
	switch strings.ToLower(strings.TrimSpace(cfg.TTS.Provider)) {
	case "openai":
		c := NewOpenAISpeechClient(&cfg.OpenAI)
		return c, c.IsConfigured()
	default:
		c := NewSarvamClient(&cfg.Sarvam)
		return c, c.IsConfigured()
	}
}
