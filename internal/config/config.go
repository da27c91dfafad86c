package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Gemini    GeminiConfig
	TTS       TTSConfig
	Sarvam    SarvamConfig
	OpenAI    OpenAIConfig
	Media     MediaConfig
	Cache     CacheConfig
	Dedup     DedupConfig
	Worker    WorkerConfig
	R2        R2Config
}

type ServerConfig struct {
	Port         string
	Env          string
	LogLevel     string
	BodyLimit    int // bytes
	OutputDir    string
	AllowOrigins string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	DubPerHour int
}

// GeminiConfig configures the transcription model (Files API + generateContent).
type GeminiConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	PollInterval    time.Duration
	MaxWait         time.Duration
	GenerateTimeout time.Duration
}

type TTSConfig struct {
	Provider       string // "sarvam" or "openai"
	MaxConcurrency int
}

type SarvamConfig struct {
	APIKey  string
	BaseURL string
	Speaker string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	YtDlpPath   string
	WorkDir     string
	SampleRate  int
}

type CacheConfig struct {
	Capacity int
}

type DedupConfig struct {
	MaxAge        time.Duration
	SweepInterval time.Duration
}

type WorkerConfig struct {
	Concurrency int
	JobTimeout  time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GEMINI_API_KEY")
	readSecret("SARVAM_API_KEY")
	readSecret("OPENAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("server.output_dir", "OUTPUT_DIR")
	_ = v.BindEnv("server.allow_origins", "ALLOW_ORIGINS")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("ratelimit.dub_per_hour", "RATELIMIT_DUB_PER_HOUR")
	_ = v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("gemini.base_url", "GEMINI_BASE_URL")
	_ = v.BindEnv("gemini.model", "GEMINI_MODEL")
	_ = v.BindEnv("gemini.poll_interval", "GEMINI_POLL_INTERVAL")
	_ = v.BindEnv("gemini.max_wait", "GEMINI_MAX_WAIT")
	_ = v.BindEnv("gemini.generate_timeout", "GEMINI_GENERATE_TIMEOUT")
	_ = v.BindEnv("tts.provider", "TTS_PROVIDER")
	_ = v.BindEnv("tts.max_concurrency", "TTS_MAX_CONCURRENCY")
	_ = v.BindEnv("sarvam.api_key", "SARVAM_API_KEY")
	_ = v.BindEnv("sarvam.base_url", "SARVAM_BASE_URL")
	_ = v.BindEnv("sarvam.speaker", "SARVAM_SPEAKER")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("openai.model", "OPENAI_TTS_MODEL")
	_ = v.BindEnv("openai.voice", "OPENAI_TTS_VOICE")
	_ = v.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = v.BindEnv("media.ytdlp_path", "YTDLP_PATH")
	_ = v.BindEnv("media.work_dir", "MEDIA_WORK_DIR")
	_ = v.BindEnv("media.sample_rate", "MEDIA_SAMPLE_RATE")
	_ = v.BindEnv("cache.capacity", "CACHE_CAPACITY")
	_ = v.BindEnv("dedup.max_age", "DEDUP_MAX_AGE")
	_ = v.BindEnv("dedup.sweep_interval", "DEDUP_SWEEP_INTERVAL")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.job_timeout", "WORKER_JOB_TIMEOUT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 500)
	v.SetDefault("server.output_dir", "outputs")
	v.SetDefault("server.allow_origins", "*")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.dub_per_hour", 10)

	// Gemini defaults
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.poll_interval", 10*time.Second)
	v.SetDefault("gemini.max_wait", 15*time.Minute)
	v.SetDefault("gemini.generate_timeout", 600*time.Second)

	// Speech synthesis defaults
	v.SetDefault("tts.provider", "sarvam")
	v.SetDefault("tts.max_concurrency", 4)
	v.SetDefault("sarvam.base_url", "https://api.sarvam.ai")
	v.SetDefault("sarvam.speaker", "karun")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "tts-1")
	v.SetDefault("openai.voice", "nova")

	// Media toolkit defaults
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.ytdlp_path", "yt-dlp")
	v.SetDefault("media.work_dir", os.TempDir())
	v.SetDefault("media.sample_rate", 44100)

	v.SetDefault("cache.capacity", 50)
	v.SetDefault("dedup.max_age", 30*time.Minute)
	v.SetDefault("dedup.sweep_interval", time.Minute)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.job_timeout", 45*time.Minute)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			Env:          v.GetString("server.env"),
			LogLevel:     v.GetString("server.log_level"),
			BodyLimit:    v.GetInt("server.body_limit_mb") * 1024 * 1024,
			OutputDir:    v.GetString("server.output_dir"),
			AllowOrigins: v.GetString("server.allow_origins"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			DubPerHour: v.GetInt("ratelimit.dub_per_hour"),
		},
		Gemini: GeminiConfig{
			APIKey:          v.GetString("gemini.api_key"),
			BaseURL:         strings.TrimRight(v.GetString("gemini.base_url"), "/"),
			Model:           v.GetString("gemini.model"),
			PollInterval:    v.GetDuration("gemini.poll_interval"),
			MaxWait:         v.GetDuration("gemini.max_wait"),
			GenerateTimeout: v.GetDuration("gemini.generate_timeout"),
		},
		TTS: TTSConfig{
			Provider:       strings.ToLower(v.GetString("tts.provider")),
			MaxConcurrency: v.GetInt("tts.max_concurrency"),
		},
		Sarvam: SarvamConfig{
			APIKey:  v.GetString("sarvam.api_key"),
			BaseURL: strings.TrimRight(v.GetString("sarvam.base_url"), "/"),
			Speaker: v.GetString("sarvam.speaker"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("openai.api_key"),
			BaseURL: v.GetString("openai.base_url"),
			Model:   v.GetString("openai.model"),
			Voice:   v.GetString("openai.voice"),
		},
		Media: MediaConfig{
			FFmpegPath:  v.GetString("media.ffmpeg_path"),
			FFprobePath: v.GetString("media.ffprobe_path"),
			YtDlpPath:   v.GetString("media.ytdlp_path"),
			WorkDir:     v.GetString("media.work_dir"),
			SampleRate:  v.GetInt("media.sample_rate"),
		},
		Cache: CacheConfig{
			Capacity: v.GetInt("cache.capacity"),
		},
		Dedup: DedupConfig{
			MaxAge:        v.GetDuration("dedup.max_age"),
			SweepInterval: v.GetDuration("dedup.sweep_interval"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			JobTimeout:  v.GetDuration("worker.job_timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
