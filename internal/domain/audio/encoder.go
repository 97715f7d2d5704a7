package audio

import (
	"context"
	"io"

	"cosyvoice-gateway/internal/platform/logging"
)

// StreamEncoder accepts PCM frames and emits encoded audio progressively.
// Close finalizes the output and must be called on every path.
type StreamEncoder interface {
	Write(frame []byte) error
	Close() error
}

// Encoder converts raw engine PCM into the requested response format. WAV is
// written natively; mp3/flac/aac go through ffmpeg, mirroring the reference
// deployment.
type Encoder struct {
	ffmpegPath string
	logger     *logging.Logger
}

// NewEncoder constructs an encoder. ffmpegPath defaults to "ffmpeg" on PATH.
func NewEncoder(ffmpegPath string, logger *logging.Logger) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &Encoder{ffmpegPath: ffmpegPath, logger: logger}
}

// Encode produces the complete encoded file from buffered PCM.
func (e *Encoder) Encode(ctx context.Context, pcm []byte, info PCMInfo, f Format) ([]byte, error) {
	if f == FormatWAV {
		return encodeWAV(pcm, info)
	}
	return transcode(ctx, e.ffmpegPath, pcm, info, f)
}

// NewStream returns a progressive encoder writing to w. Only call for
// formats where CanStream reports true.
func (e *Encoder) NewStream(ctx context.Context, w io.Writer, info PCMInfo, f Format) (StreamEncoder, error) {
	if f == FormatWAV {
		return &wavStream{w: w, info: info}, nil
	}
	return newFFmpegStream(ctx, e.ffmpegPath, w, info, f)
}
