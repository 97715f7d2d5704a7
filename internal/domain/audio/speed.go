package audio

import "encoding/binary"

// ApplySpeed resamples 16-bit PCM in the time domain to change playback
// speed. This is the fallback path for engines that did not apply the speed
// themselves; it shifts pitch along with tempo and is documented as lower
// fidelity than engine-side adjustment.
func ApplySpeed(pcm []byte, info PCMInfo, speed float64) []byte {
	if speed == 1.0 || speed <= 0 || info.BitsPerSample != 16 || info.Channels <= 0 {
		return pcm
	}

	frameSize := info.Channels * 2
	frames := len(pcm) / frameSize
	if frames < 2 {
		return pcm
	}

	outFrames := int(float64(frames) / speed)
	if outFrames < 1 {
		outFrames = 1
	}

	out := make([]byte, outFrames*frameSize)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * speed
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= frames {
			next = frames - 1
		}

		for ch := 0; ch < info.Channels; ch++ {
			a := int16(binary.LittleEndian.Uint16(pcm[idx*frameSize+ch*2:]))
			b := int16(binary.LittleEndian.Uint16(pcm[next*frameSize+ch*2:]))
			sample := int16(float64(a) + (float64(b)-float64(a))*frac)
			binary.LittleEndian.PutUint16(out[i*frameSize+ch*2:], uint16(sample))
		}
	}
	return out
}
