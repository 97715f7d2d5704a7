package httptransport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cosyvoice-gateway/internal/domain/audio"
	"cosyvoice-gateway/internal/domain/eventbus"
	"cosyvoice-gateway/internal/domain/synth"
	"cosyvoice-gateway/internal/domain/voice"
	"cosyvoice-gateway/internal/platform/config"
	"cosyvoice-gateway/internal/platform/logging"
)

type stubEngine struct {
	pcm   []byte
	calls int
}

func (e *stubEngine) Synthesize(ctx context.Context, req synth.EngineRequest) (synth.FrameStream, error) {
	e.calls++
	return &stubStream{pcm: e.pcm}, nil
}

func (e *stubEngine) Ping(ctx context.Context) error { return nil }

func (e *stubEngine) CloneVoice(ctx context.Context, name string, sample []byte) (string, error) {
	return "spk_" + name, nil
}

func (e *stubEngine) DeleteVoice(ctx context.Context, speakerRef string) error { return nil }

// unreachableEngine simulates a sidecar that is down: every synthesis
// attempt fails before producing a single frame.
type unreachableEngine struct {
	stubEngine
}

func (e *unreachableEngine) Synthesize(ctx context.Context, req synth.EngineRequest) (synth.FrameStream, error) {
	return nil, errors.New("connection refused")
}

type stubStream struct {
	pcm  []byte
	done bool
}

func (s *stubStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.pcm, nil
}

func (s *stubStream) Format() synth.PCMFormat {
	return synth.PCMFormat{SampleRate: 22050, Channels: 1, BitsPerSample: 16}
}

func (s *stubStream) Close() error { return nil }

func testConfig(authEnabled bool) *config.Config {
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Synthesis.DefaultFormat = "wav"
	cfg.Synthesis.StreamingEnabled = true
	cfg.Auth.Enabled = authEnabled
	if authEnabled {
		cfg.Auth.APIKey = "sk-test"
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, engine synth.EngineClient) http.Handler {
	t.Helper()

	logger, err := logging.New(logging.Config{Level: "error"})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}

	registryOpts := voice.Options{Logger: logger, SampleDir: t.TempDir(), MaxSampleSeconds: 30}
	if cloner, ok := engine.(voice.Cloner); ok {
		registryOpts.Cloner = cloner
	}
	registry, err := voice.NewRegistry(context.Background(), registryOpts)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}

	cache := synth.NewCache(cfg.Cache.Enabled, cfg.Cache.MaxEntries, cfg.Cache.MaxBytes)
	bus := eventbus.New()
	orchestrator := synth.NewOrchestrator(synth.Options{
		Registry:         registry,
		Cache:            cache,
		Admission:        synth.NewAdmission(cfg.Synthesis.ConcurrentRequests, time.Second, logger),
		Engine:           engine,
		Encoder:          audio.NewEncoder("", logger),
		Bus:              bus,
		Logger:           logger,
		MaxTextLength:    cfg.Synthesis.MaxTextLength,
		JobTimeout:       time.Minute,
		StreamingEnabled: cfg.Synthesis.StreamingEnabled,
	})

	router, err := Build(Options{Config: cfg, Logger: logger})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	service, err := NewService(cfg, orchestrator, registry, cache, engine, bus, logger)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := service.Register(context.Background(), router); err != nil {
		t.Fatalf("register routes: %v", err)
	}
	return router.Engine
}

func speechBody(t *testing.T, fields map[string]interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func decodeError(t *testing.T, body *bytes.Buffer) apiError {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body.String())
	}
	return envelope.Error
}

func TestSpeechEndpointWAV(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{pcm: make([]byte, 2048)})

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/speech", speechBody(t, map[string]interface{}{
		"model":           "tts-1",
		"input":           "你好",
		"voice":           "alloy",
		"response_format": "wav",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "speech.wav") {
		t.Fatalf("content disposition %s", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")) {
		t.Fatal("response is not a wav file")
	}
}

func TestSpeechDefaultsApplied(t *testing.T) {
	engine := &stubEngine{pcm: make([]byte, 512)}
	handler := newTestServer(t, testConfig(false), engine)

	// Voice and format omitted: config defaults (alloy, wav) apply.
	req := httptest.NewRequest(http.MethodPost, "/v1/audio/speech", speechBody(t, map[string]interface{}{
		"input": "默认参数",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type %s", ct)
	}
}

func TestSpeechValidationErrors(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{pcm: make([]byte, 64)})

	cases := []struct {
		name   string
		body   map[string]interface{}
		status int
	}{
		{"empty input", map[string]interface{}{"voice": "alloy"}, http.StatusBadRequest},
		{"unknown model", map[string]interface{}{"model": "gpt-9", "input": "hi"}, http.StatusBadRequest},
		{"unknown voice", map[string]interface{}{"input": "hi", "voice": "nobody"}, http.StatusNotFound},
		{"unknown format", map[string]interface{}{"input": "hi", "response_format": "ogg"}, http.StatusBadRequest},
		{"speed out of range", map[string]interface{}{"input": "hi", "speed": 9.0}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/audio/speech", speechBody(t, tc.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("status %d want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
			apiErr := decodeError(t, rec.Body)
			if apiErr.Message == "" {
				t.Fatal("error envelope missing message")
			}
			if apiErr.Type != "invalid_request_error" {
				t.Fatalf("error type %s", apiErr.Type)
			}
		})
	}
}

func TestStreamEndpointWAV(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{pcm: make([]byte, 4096)})

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/stream", speechBody(t, map[string]interface{}{
		"input":           "流式",
		"voice":           "alloy",
		"response_format": "wav",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")) {
		t.Fatal("stream is not wav data")
	}
	if rec.Body.Len() != 44+4096 {
		t.Fatalf("unexpected stream length %d", rec.Body.Len())
	}
}

func TestSpeechStreamField(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{pcm: make([]byte, 1024)})

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/speech", speechBody(t, map[string]interface{}{
		"input":           "走流式",
		"response_format": "wav",
		"stream":          true,
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 44+1024 {
		t.Fatalf("unexpected streamed length %d", rec.Body.Len())
	}
}

func TestStreamUnknownVoiceFailsBeforeHeaders(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{pcm: make([]byte, 64)})

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/stream", speechBody(t, map[string]interface{}{
		"input": "hi",
		"voice": "nobody",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStreamEngineFailureKeepsErrorEnvelope(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &unreachableEngine{})

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/stream", speechBody(t, map[string]interface{}{
		"input":           "hi",
		"voice":           "alloy",
		"response_format": "wav",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	// The failure happens before any audio byte, so the response must be the
	// JSON envelope with no leftover audio headers.
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content type %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "" {
		t.Fatalf("unexpected content disposition %s", cd)
	}
	apiErr := decodeError(t, rec.Body)
	if apiErr.Type != "server_error" || apiErr.Code != "engine" {
		t.Fatalf("unexpected error payload: %+v", apiErr)
	}
}

func TestListVoices(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/v1/voices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var payload struct {
		Voices []voiceView `json:"voices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Voices) != 6 {
		t.Fatalf("expected 6 built-in voices, got %d", len(payload.Voices))
	}
	if payload.Voices[0].Name != "alloy" || payload.Voices[0].Kind != "built-in" {
		t.Fatalf("unexpected first voice: %+v", payload.Voices[0])
	}
}

func TestModelsListing(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var payload struct {
		Object string      `json:"object"`
		Data   []modelView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Object != "list" || len(payload.Data) != 2 {
		t.Fatalf("unexpected listing: %+v", payload)
	}
	if payload.Data[0].ID != ModelID {
		t.Fatalf("primary model %s", payload.Data[0].ID)
	}
}

func TestDeleteBuiltInVoice(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/voice/alloy", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleting a built-in should 404, got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	handler := newTestServer(t, testConfig(true), &stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/v1/voices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key should 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/voices", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad key should 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/voices", nil)
	req.Header.Set("Authorization", "Bearer sk-test")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid key should pass, got %d", rec.Code)
	}

	// Health stays reachable without credentials.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusUnauthorized {
		t.Fatal("health endpoint must not require auth")
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" || payload["engine"] != "ok" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}

// cloneSample builds a short PCM wav for upload tests.
func cloneSample(seconds float64) []byte {
	sampleRate := 22050
	dataLen := int(seconds * float64(sampleRate*2))

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen+36))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

func cloneRequest(t *testing.T, name string, sample []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("speaker_name", name); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.WriteField("description", "uploaded in test"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile("voice_sample", "sample.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(sample); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/voice/clone", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCloneVoiceEndToEnd(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{pcm: make([]byte, 128)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, cloneRequest(t, "narrator", cloneSample(2.0)))
	if rec.Code != http.StatusOK {
		t.Fatalf("clone status %d: %s", rec.Code, rec.Body.String())
	}

	// The cloned voice is immediately usable for synthesis.
	req := httptest.NewRequest(http.MethodPost, "/v1/audio/speech", speechBody(t, map[string]interface{}{
		"input": "hello", "voice": "narrator", "response_format": "wav",
	}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cloned voice synthesis status %d: %s", rec.Code, rec.Body.String())
	}

	// And deletable.
	req = httptest.NewRequest(http.MethodDelete, "/v1/voice/narrator", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCloneVoiceRejectsMissingFields(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("description", "no name, no sample")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/voice/clone", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCloneVoiceRejectsOverlongSample(t *testing.T) {
	handler := newTestServer(t, testConfig(false), &stubEngine{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, cloneRequest(t, "marathon", cloneSample(31.0)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCachedSpeechSkipsEngine(t *testing.T) {
	engine := &stubEngine{pcm: make([]byte, 256)}
	handler := newTestServer(t, testConfig(false), engine)

	body := map[string]interface{}{"input": "缓存命中", "voice": "alloy", "response_format": "wav"}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/audio/speech", speechBody(t, body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status %d", i, rec.Code)
		}
		if i == 1 && rec.Header().Get("X-Cache") != "HIT" {
			t.Fatal("second request should be a cache hit")
		}
	}
	if engine.calls != 1 {
		t.Fatalf("engine called %d times, want 1", engine.calls)
	}
}
