package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/knewbitmax/api/internal/dubbing"
	"github.com/knewbitmax/api/internal/handler"
	"github.com/knewbitmax/api/internal/media"
	"github.com/knewbitmax/api/internal/middleware"
	"github.com/knewbitmax/api/internal/service"
	"github.com/knewbitmax/api/internal/websocket"
	"github.com/knewbitmax/api/internal/worker"
)

const (
	testRedisAddr  = "localhost:6379"
	testRedisDB    = 15 // use DB 15 for tests to avoid collision
	testSampleRate = 1000
	dubbedBytes    = "dubbed-mp4-bytes"
)

const twoSegments = `{"segments": [
	{"start": 0.5, "end": 1.0, "original_text": "Hello", "translated_text": "Namaste", "emotion": "happy"},
	{"start": 1.5, "end": 2.0, "original_text": "Bye", "translated_text": "Alvida"}
]}`

// fakeMedia stands in for ffmpeg/ffprobe/yt-dlp
type fakeMedia struct {
	downloadErr error
}

func (f *fakeMedia) Probe(ctx context.Context, path string) (media.ProbeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return media.ProbeResult{}, err
	}
	return media.ProbeResult{
		Streams: []media.Stream{
			{Index: 0, CodecName: "h264", CodecType: "video"},
			{Index: 1, CodecName: "aac", CodecType: "audio"},
		},
		Format: media.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2", Duration: "3.0"},
	}, nil
}

func (f *fakeMedia) Transcode(ctx context.Context, input, output string) error {
	return copyFile(input, output)
}

func (f *fakeMedia) ConformAudio(ctx context.Context, input, output string, sampleRate int) error {
	return copyFile(input, output)
}

func (f *fakeMedia) Mux(ctx context.Context, video, audio, output string, copyVideo bool) error {
	return os.WriteFile(output, []byte(dubbedBytes), 0o644)
}

func (f *fakeMedia) Download(ctx context.Context, url, output string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return os.WriteFile(output, []byte("downloaded:"+url), 0o644)
}

// fakeModel is an always-ACTIVE transcription service returning a fixed answer
type fakeModel struct {
	mu     sync.Mutex
	output string
	calls  int
}

func (m *fakeModel) Submit(ctx context.Context, path, mimeType string) (dubbing.RemoteFile, error) {
	return dubbing.RemoteFile{Name: "files/e2e", URI: "https://files/e2e", MimeType: mimeType, State: dubbing.StateActive}, nil
}

func (m *fakeModel) Status(ctx context.Context, name string) (dubbing.RemoteFile, error) {
	return dubbing.RemoteFile{Name: name, State: dubbing.StateActive}, nil
}

func (m *fakeModel) Generate(ctx context.Context, file dubbing.RemoteFile, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.output, nil
}

func (m *fakeModel) Delete(ctx context.Context, name string) error {
	return nil
}

// fakeTTS returns a short tone
type fakeTTS struct {
	wav []byte
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, languageCode, voice string) ([]byte, error) {
	return f.wav, nil
}

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	model     *fakeModel
	media     *fakeMedia
	registry  *dubbing.Registry
	service   *service.DubService
	worker    *worker.DubWorker
	inspector *asynq.Inspector
}

// setupApp creates a Fiber app wired like main.go but with fake media tools,
// transcription model and speech synthesis. Redis must be running on localhost.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: testRedisAddr,
		DB:   testRedisDB,
	})
	t.Cleanup(func() { redisClient.Close() })

	redisOpt := asynq.RedisClientOpt{Addr: testRedisAddr, DB: testRedisDB}
	asynqClient := asynq.NewClient(redisOpt)
	t.Cleanup(func() { asynqClient.Close() })
	inspector := asynq.NewInspector(redisOpt)
	t.Cleanup(func() { inspector.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := websocket.NewHub()
	go hub.Run(ctx)

	fm := &fakeMedia{}
	model := &fakeModel{output: twoSegments}
	tts := &fakeTTS{wav: toneWAV(t, 0.3)}

	workDir := t.TempDir()
	registry := dubbing.NewRegistry(time.Minute, time.Minute)
	pipeline := dubbing.NewPipeline(dubbing.Options{
		WorkDir:        workDir,
		SampleRate:     testSampleRate,
		MaxConcurrency: 2,
		Driver:         dubbing.DriverConfig{PollInterval: time.Millisecond, MaxWait: time.Second},
	}, fm, model, tts, dubbing.NewCache(10), registry)

	dubService := service.NewDubService(redisClient, asynqClient, inspector, pipeline, fm, service.DubServiceConfig{
		WorkDir:    workDir,
		OutputDir:  t.TempDir(),
		JobTimeout: time.Minute,
	})
	dubHandler := handler.NewDubHandler(dubService, validator.New(), 1024*1024)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 4 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini":  true,
				"tts":     true,
				"storage": false,
				"redis":   true,
			},
		})
	})

	// Use very high rate limits so tests don't get blocked
	dub := app.Group("/api/dub")
	dub.Post("/", rateLimiter.DubLimit(10000), dubHandler.Dub)
	dub.Post("/jobs", rateLimiter.DubLimit(10000), dubHandler.Submit)
	dub.Get("/jobs/status/:jobId", dubHandler.Status)
	dub.Get("/jobs/result/:jobId", dubHandler.Result)
	dub.Get("/jobs/download/:jobId", dubHandler.Download)
	dub.Post("/jobs/cancel/:jobId", dubHandler.Cancel)

	return &testApp{
		app:       app,
		model:     model,
		media:     fm,
		registry:  registry,
		service:   dubService,
		worker:    worker.NewDubWorker(dubService, nil, hub),
		inspector: inspector,
	}
}

// toneWAV encodes a mono 16-bit tone at the test sample rate
func toneWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "tone_*.wav")
	if err != nil {
		t.Fatalf("failed to create wav: %v", err)
	}
	defer f.Close()

	data := make([]int, int(seconds*testSampleRate))
	for i := range data {
		data[i] = 800
	}
	enc := wav.NewEncoder(f, testSampleRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{Data: data, Format: &audio.Format{SampleRate: testSampleRate, NumChannels: 1}, SourceBitDepth: 16}); err != nil {
		t.Fatalf("failed to write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to close wav: %v", err)
	}

	b, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("failed to read wav: %v", err)
	}
	return b
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// dubForm describes a multipart dub request
type dubForm struct {
	fields   map[string]string
	filename string
	content  []byte
}

// doForm posts a multipart form to path.
func doForm(t *testing.T, app *fiber.App, path string, form dubForm) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range form.fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if form.filename != "" {
		part, err := w.CreateFormFile("file", form.filename)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		part.Write(form.content)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	errBody, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", body)
	}
	code, _ := errBody["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
