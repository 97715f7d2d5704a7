// Package cosyvoice speaks the HTTP protocol of the CosyVoice engine
// sidecar: JSON in, raw PCM frames out. The engine owns model weights and
// text normalization; this client only moves bytes.
package cosyvoice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"cosyvoice-gateway/internal/domain/synth"
	"cosyvoice-gateway/internal/platform/config"
	platformerrors "cosyvoice-gateway/internal/platform/errors"
	"cosyvoice-gateway/internal/platform/logging"
)

const defaultFrameBytes = 8192

// Client implements the engine contract over HTTP. It doubles as the voice
// cloner since both concerns live on the same sidecar.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pingWait   time.Duration
	frameBytes int
	logger     *logging.Logger
}

// NewClient builds a client from engine configuration. The underlying HTTP
// client carries no global timeout so long synthesis streams are governed by
// the request context alone.
func NewClient(cfg config.EngineConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.DefaultLogger
	}
	frameBytes := cfg.FrameBytes
	if frameBytes <= 0 {
		frameBytes = defaultFrameBytes
	}
	pingWait := cfg.Timeout
	if pingWait <= 0 {
		pingWait = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{},
		pingWait:   pingWait,
		frameBytes: frameBytes,
		logger:     logger,
	}
}

type synthesizePayload struct {
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker"`
	Language  string  `json:"language,omitempty"`
	Speed     float64 `json:"speed"`
	Streaming bool    `json:"streaming"`
}

// Synthesize opens the engine's frame stream for one request. The response
// body is raw little-endian 16-bit PCM; format parameters arrive in response
// headers.
func (c *Client) Synthesize(ctx context.Context, req synth.EngineRequest) (synth.FrameStream, error) {
	const op = "cosyvoice.synthesize"

	body, err := sonic.Marshal(synthesizePayload{
		Text:      req.Text,
		Speaker:   req.SpeakerRef,
		Language:  req.Language,
		Speed:     req.Speed,
		Streaming: req.Streaming,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindEngine, op, "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindEngine, op, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindEngine, op, "engine unreachable", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(op, resp)
	}

	format, err := formatFromHeaders(resp.Header)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &frameStream{
		body:         resp.Body,
		format:       format,
		frameBytes:   c.frameBytes,
		speedApplied: resp.Header.Get("X-Speed-Applied") != "false",
	}, nil
}

// Ping verifies the engine answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	const op = "cosyvoice.ping"

	ctx, cancel := context.WithTimeout(ctx, c.pingWait)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindEngine, op, "build request", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindEngine, op, "engine unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return platformerrors.New(platformerrors.KindEngine, op,
			fmt.Sprintf("engine health returned %d", resp.StatusCode))
	}
	return nil
}

type cloneResponse struct {
	SpeakerRef string `json:"speaker_ref"`
}

// CloneVoice registers reference audio with the engine and returns the
// engine-side speaker reference.
func (c *Client) CloneVoice(ctx context.Context, name string, sample []byte) (string, error) {
	const op = "cosyvoice.clone"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEngine, op, "build form", err)
	}
	part, err := mw.CreateFormFile("sample", "sample.wav")
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEngine, op, "build form", err)
	}
	if _, err := part.Write(sample); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEngine, op, "build form", err)
	}
	if err := mw.Close(); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEngine, op, "build form", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clone", &buf)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEngine, op, "build request", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEngine, op, "engine unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(op, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEngine, op, "read response", err)
	}
	var out cloneResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindEngine, op, "decode response", err)
	}
	if out.SpeakerRef == "" {
		return "", platformerrors.New(platformerrors.KindEngine, op, "engine returned empty speaker reference")
	}
	return out.SpeakerRef, nil
}

// DeleteVoice drops a cloned speaker on the engine side.
func (c *Client) DeleteVoice(ctx context.Context, speakerRef string) error {
	const op = "cosyvoice.delete_voice"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/voices/"+url.PathEscape(speakerRef), nil)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindEngine, op, "build request", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindEngine, op, "engine unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.statusError(op, resp)
	}
	return nil
}

// statusError folds a non-200 engine reply into a platform error, keeping
// the start of the body for diagnosis.
func (c *Client) statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return platformerrors.New(platformerrors.KindEngine, op,
		fmt.Sprintf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
}

func formatFromHeaders(h http.Header) (synth.PCMFormat, error) {
	const op = "cosyvoice.format"

	format := synth.PCMFormat{SampleRate: 22050, Channels: 1, BitsPerSample: 16}
	if v := h.Get("X-Sample-Rate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return synth.PCMFormat{}, platformerrors.New(platformerrors.KindEngine, op,
				fmt.Sprintf("bad X-Sample-Rate %q", v))
		}
		format.SampleRate = rate
	}
	if v := h.Get("X-Channels"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil || ch <= 0 {
			return synth.PCMFormat{}, platformerrors.New(platformerrors.KindEngine, op,
				fmt.Sprintf("bad X-Channels %q", v))
		}
		format.Channels = ch
	}
	return format, nil
}

// frameStream adapts the chunked response body to the frame contract.
type frameStream struct {
	body         io.ReadCloser
	format       synth.PCMFormat
	frameBytes   int
	speedApplied bool
	done         bool
}

func (s *frameStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	frame := make([]byte, s.frameBytes)
	n, err := io.ReadFull(s.body, frame)
	if err == io.EOF {
		s.done = true
		return nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		// Final short frame.
		s.done = true
		return frame[:n], nil
	}
	if err != nil {
		s.done = true
		return nil, err
	}
	return frame[:n], nil
}

func (s *frameStream) Format() synth.PCMFormat { return s.format }

// SpeedApplied reports whether the engine already applied the requested
// speed factor to the stream.
func (s *frameStream) SpeedApplied() bool { return s.speedApplied }

func (s *frameStream) Close() error { return s.body.Close() }
