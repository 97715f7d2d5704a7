package audio

import (
	"fmt"

	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

// Format is a supported response container/codec.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatAAC  Format = "aac"
)

// PCMInfo describes raw sample data handed to the encoder.
type PCMInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ParseFormat validates a requested response format. Rejection happens at
// request-validation time, before any synthesis work.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatWAV, FormatMP3, FormatFLAC, FormatAAC:
		return Format(s), nil
	case "":
		return FormatMP3, nil
	default:
		return "", platformerrors.New(platformerrors.KindFormat, "audio.parse_format",
			fmt.Sprintf("unsupported response format %q", s))
	}
}

// ContentType maps a format to its HTTP media type.
func ContentType(f Format) string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatFLAC:
		return "audio/flac"
	case FormatAAC:
		return "audio/aac"
	default:
		return "audio/mpeg"
	}
}

// CanStream reports whether the format admits progressive encoding. FLAC
// needs header finalization and AAC is written as a finalized file, so both
// fall back to buffered encoding even when streaming was requested.
func CanStream(f Format) bool {
	return f == FormatWAV || f == FormatMP3
}
