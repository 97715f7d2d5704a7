package voice

import (
	"bytes"
	"encoding/binary"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"

	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

// SampleInfo summarises a validated clone sample.
type SampleInfo struct {
	Format     string
	SampleRate int
	Channels   int
	Duration   float64
}

// ValidateSample checks that uploaded reference audio is usable before any
// registry or engine state changes: non-empty, decodable as wav or mp3, and
// within the duration bound.
func ValidateSample(data []byte, maxSeconds float64) (SampleInfo, error) {
	const op = "voice.validate_sample"

	if len(data) == 0 {
		return SampleInfo{}, platformerrors.New(platformerrors.KindSample, op, "empty sample")
	}

	var (
		info SampleInfo
		err  error
	)
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		info, err = inspectWAV(data)
	default:
		info, err = inspectMP3(data)
	}
	if err != nil {
		return SampleInfo{}, err
	}

	if maxSeconds > 0 && info.Duration > maxSeconds {
		return SampleInfo{}, platformerrors.New(platformerrors.KindSample, op, "sample too long")
	}
	if info.Duration <= 0 {
		return SampleInfo{}, platformerrors.New(platformerrors.KindSample, op, "sample contains no audio")
	}
	return info, nil
}

// inspectWAV walks RIFF chunks looking for fmt and data. Only PCM payloads
// are accepted since the engine resamples from raw audio.
func inspectWAV(data []byte) (SampleInfo, error) {
	const op = "voice.inspect_wav"

	if len(data) < 44 || string(data[8:12]) != "WAVE" {
		return SampleInfo{}, platformerrors.New(platformerrors.KindSample, op, "malformed wav header")
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		dataLen       int
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkLen > len(data) {
			chunkLen = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return SampleInfo{}, platformerrors.New(platformerrors.KindSample, op, "short fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return SampleInfo{}, platformerrors.New(platformerrors.KindSample, op, "wav sample must be PCM")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			dataLen = chunkLen
		}

		if chunkLen%2 == 1 {
			chunkLen++
		}
		offset = body + chunkLen
	}

	if sampleRate <= 0 || channels <= 0 || bitsPerSample <= 0 || dataLen <= 0 {
		return SampleInfo{}, platformerrors.New(platformerrors.KindSample, op, "wav sample missing fmt or data")
	}

	bytesPerSecond := sampleRate * channels * bitsPerSample / 8
	return SampleInfo{
		Format:     "wav",
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   float64(dataLen) / float64(bytesPerSecond),
	}, nil
}

func inspectMP3(data []byte) (SampleInfo, error) {
	const op = "voice.inspect_mp3"

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return SampleInfo{}, platformerrors.Wrap(platformerrors.KindSample, op, "undecodable sample", err)
	}

	// Decoded output is 16-bit stereo at the source rate.
	total, err := io.Copy(io.Discard, decoder)
	if err != nil {
		return SampleInfo{}, platformerrors.Wrap(platformerrors.KindSample, op, "decode failed", err)
	}

	rate := decoder.SampleRate()
	if rate <= 0 {
		return SampleInfo{}, platformerrors.New(platformerrors.KindSample, op, "invalid sample rate")
	}
	return SampleInfo{
		Format:     "mp3",
		SampleRate: rate,
		Channels:   2,
		Duration:   float64(total) / float64(rate*4),
	}, nil
}
