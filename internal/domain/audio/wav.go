package audio

import (
	"bytes"
	"encoding/binary"
	"io"
)

// writeWAVHeader emits a 44-byte PCM wav header. dataLen of streamMaxSize
// produces a header usable for progressive output where the final length is
// unknown; most players tolerate the oversized declaration.
const streamMaxSize = 0xFFFFFFFF - 44

func writeWAVHeader(w io.Writer, info PCMInfo, dataLen uint32) error {
	byteRate := uint32(info.SampleRate * info.Channels * info.BitsPerSample / 8)
	blockAlign := uint16(info.Channels * info.BitsPerSample / 8)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, dataLen+36)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(info.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(info.SampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(info.BitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)

	_, err := w.Write(buf.Bytes())
	return err
}

// encodeWAV produces a complete wav file from buffered PCM.
func encodeWAV(pcm []byte, info PCMInfo) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(pcm) + 44)
	if err := writeWAVHeader(&out, info, uint32(len(pcm))); err != nil {
		return nil, err
	}
	out.Write(pcm)
	return out.Bytes(), nil
}

// wavStream writes a streamable wav: header first, then raw frames as they
// arrive.
type wavStream struct {
	w          io.Writer
	info       PCMInfo
	headerDone bool
}

func (s *wavStream) Write(frame []byte) error {
	if !s.headerDone {
		if err := writeWAVHeader(s.w, s.info, streamMaxSize); err != nil {
			return err
		}
		s.headerDone = true
	}
	_, err := s.w.Write(frame)
	return err
}

func (s *wavStream) Close() error {
	if !s.headerDone {
		// Emit a valid, empty wav even when the engine produced no frames.
		if err := writeWAVHeader(s.w, s.info, 0); err != nil {
			return err
		}
		s.headerDone = true
	}
	return nil
}
