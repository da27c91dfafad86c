package main

import (
	"sync"

	"github.com/knewbitmax/api/internal/client"
	"github.com/knewbitmax/api/internal/config"
	"github.com/knewbitmax/api/internal/dubbing"
	"github.com/knewbitmax/api/internal/media"
)

// commandContext lazily loads configuration and builds the pipeline
// capabilities. Tests preset the capability fields.
type commandContext struct {
	configOnce sync.Once
	config     *config.Config
	configErr  error

	media       dubbing.MediaTools
	transcriber dubbing.Transcriber
	tts         dubbing.SpeechSynthesizer
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) mediaTools(cfg *config.Config) dubbing.MediaTools {
	if c.media == nil {
		c.media = media.NewToolkit(&cfg.Media)
	}
	return c.media
}

func (c *commandContext) transcriberFor(cfg *config.Config) dubbing.Transcriber {
	if c.transcriber == nil {
		c.transcriber = client.NewGeminiClient(&cfg.Gemini)
	}
	return c.transcriber
}

func (c *commandContext) synthesizerFor(cfg *config.Config) dubbing.SpeechSynthesizer {
	if c.tts == nil {
		c.tts, _ = client.NewSpeechSynthesizer(cfg)
	}
	return c.tts
}

func (c *commandContext) driverConfig(cfg *config.Config) dubbing.DriverConfig {
	return dubbing.DriverConfig{
		PollInterval:    cfg.Gemini.PollInterval,
		MaxWait:         cfg.Gemini.MaxWait,
		GenerateTimeout: cfg.Gemini.GenerateTimeout,
	}
}
