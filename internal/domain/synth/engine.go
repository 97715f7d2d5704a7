package synth

import "context"

// PCMFormat describes the raw audio the engine produces.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond returns the raw data rate for duration accounting.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// FrameStream is a finite, cancellable lazy sequence of PCM frames. Next
// blocks until the engine yields the next frame, returns io.EOF after the
// final frame, and any other error terminates the stream. A stream is not
// restartable once consumed; Close releases engine-side resources and is safe
// to call on any path.
type FrameStream interface {
	Next() ([]byte, error)
	Format() PCMFormat
	Close() error
}

// EngineRequest carries the resolved synthesis parameters across the engine
// boundary. Text has already been validated and the voice resolved.
type EngineRequest struct {
	Text       string
	SpeakerRef string
	Language   string
	Speed      float64
	Streaming  bool
}

// EngineClient is the contract to the external synthesis engine. The engine
// owns model weights, device placement and text normalization; this layer
// only consumes frames.
type EngineClient interface {
	Synthesize(ctx context.Context, req EngineRequest) (FrameStream, error)
	Ping(ctx context.Context) error
}
