package httptransport

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"cosyvoice-gateway/internal/domain/audio"
	"cosyvoice-gateway/internal/domain/synth"
	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

// speechRequest mirrors the OpenAI audio/speech request body.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	// Stream requests chunked delivery on the speech endpoint, same
	// behavior as POST /v1/audio/stream.
	Stream bool `json:"stream"`
}

func (s *Service) synthRequest(c *gin.Context) (synth.Request, audio.Format, bool, bool) {
	var body speechRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondMessage(c, http.StatusBadRequest, "invalid request body")
		return synth.Request{}, "", false, false
	}

	if body.Model != "" && body.Model != ModelID && body.Model != ModelAliasID {
		RespondMessage(c, http.StatusBadRequest, fmt.Sprintf("unknown model %q", body.Model))
		return synth.Request{}, "", false, false
	}

	if body.Voice == "" {
		body.Voice = s.config.Synthesis.DefaultVoice
	}
	if body.ResponseFormat == "" {
		body.ResponseFormat = s.config.Synthesis.DefaultFormat
	}

	format, err := audio.ParseFormat(body.ResponseFormat)
	if err != nil {
		RespondError(c, err)
		return synth.Request{}, "", false, false
	}

	return synth.Request{
		Text:   body.Input,
		Voice:  body.Voice,
		Format: string(format),
		Speed:  body.Speed,
	}, format, body.Stream, true
}

// handleSpeech serves POST /v1/audio/speech: the complete encoded file in
// one response, or chunked delivery when the body sets stream.
func (s *Service) handleSpeech(c *gin.Context) {
	req, format, stream, ok := s.synthRequest(c)
	if !ok {
		return
	}
	if stream {
		s.streamResponse(c, req, format)
		return
	}

	result, err := s.orchestrator.Synthesize(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="speech.%s"`, format))
	if result.FromCache {
		c.Header("X-Cache", "HIT")
	}
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

// handleStream serves POST /v1/audio/stream: encoded chunks are flushed as
// the engine produces frames. Formats without a progressive encoder fall
// back to buffered delivery over the same route.
func (s *Service) handleStream(c *gin.Context) {
	req, format, _, ok := s.synthRequest(c)
	if !ok {
		return
	}
	s.streamResponse(c, req, format)
}

func (s *Service) streamResponse(c *gin.Context, req synth.Request, format audio.Format) {
	// Validate cheaply before committing response headers; the orchestrator
	// repeats these checks but can no longer fail them.
	if _, err := s.registry.Resolve(req.Voice); err != nil {
		RespondError(c, err)
		return
	}
	if req.Text == "" {
		RespondError(c, platformerrors.New(platformerrors.KindValidation, "http.stream", "input text required"))
		return
	}

	// Audio headers are set by the writer on the first encoded byte, so a
	// failure before any output still sends the error envelope as JSON.
	w := &flushWriter{c: c, format: format}
	written, err := s.orchestrator.SynthesizeStream(c.Request.Context(), req, w)
	if err != nil {
		if written == 0 {
			RespondError(c, err)
			return
		}
		// Mid-stream failure: bytes are already on the wire, so the only
		// honest signal left is dropping the connection without a clean
		// terminal chunk.
		s.logger.Warn("[HTTP] stream aborted after %d bytes: %v", written, err)
		_ = c.Error(err)
		if conn, _, hijackErr := c.Writer.Hijack(); hijackErr == nil {
			_ = conn.Close()
		}
		c.Abort()
	}
}

// flushWriter pushes each encoded chunk to the client immediately. The audio
// content headers go out with the first chunk; until then the response stays
// uncommitted and free to carry an error body instead.
type flushWriter struct {
	c       *gin.Context
	format  audio.Format
	started bool
}

func (f *flushWriter) Write(p []byte) (int, error) {
	if !f.started {
		f.c.Header("Content-Type", audio.ContentType(f.format))
		f.c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="speech.%s"`, f.format))
		f.started = true
	}
	n, err := f.c.Writer.Write(p)
	if err == nil {
		f.c.Writer.Flush()
	}
	return n, err
}
