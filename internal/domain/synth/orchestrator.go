package synth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"cosyvoice-gateway/internal/domain/audio"
	"cosyvoice-gateway/internal/domain/eventbus"
	"cosyvoice-gateway/internal/domain/voice"
	platformerrors "cosyvoice-gateway/internal/platform/errors"
	"cosyvoice-gateway/internal/platform/logging"
	"cosyvoice-gateway/internal/platform/observability"
)

const (
	minSpeed = 0.25
	maxSpeed = 4.0
)

// Request is one validated-pending synthesis request from the API layer.
type Request struct {
	Text   string
	Voice  string
	Format string
	Speed  float64
}

// Result is a complete synthesis outcome.
type Result struct {
	Data        []byte
	Format      audio.Format
	ContentType string
	FromCache   bool
}

// Options wires the orchestrator's collaborators. All shared state (registry,
// cache) is injected; nothing here reaches for process-wide singletons.
type Options struct {
	Registry  *voice.Registry
	Cache     *Cache
	Admission *Admission
	Engine    EngineClient
	Encoder   *audio.Encoder
	Bus       *eventbus.Bus
	Logger    *logging.Logger

	MaxTextLength    int
	JobTimeout       time.Duration
	StreamingEnabled bool
}

// Orchestrator drives a request through voice resolution, cache, admission,
// the engine frame stream and the encoder.
type Orchestrator struct {
	registry  *voice.Registry
	cache     *Cache
	admission *Admission
	engine    EngineClient
	encoder   *audio.Encoder
	flights   *flightGroup
	bus       *eventbus.Bus
	logger    *logging.Logger

	maxTextLength    int
	jobTimeout       time.Duration
	streamingEnabled bool
}

// NewOrchestrator constructs the coordinator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger
	}
	return &Orchestrator{
		registry:         opts.Registry,
		cache:            opts.Cache,
		admission:        opts.Admission,
		engine:           opts.Engine,
		encoder:          opts.Encoder,
		flights:          newFlightGroup(),
		bus:              opts.Bus,
		logger:           opts.Logger,
		maxTextLength:    opts.MaxTextLength,
		jobTimeout:       opts.JobTimeout,
		streamingEnabled: opts.StreamingEnabled,
	}
}

// resolved carries a request after validation and voice resolution.
type resolved struct {
	req    Request
	entry  voice.Entry
	format audio.Format
	key    CacheKey
}

// prepare validates the request shape and resolves the voice. Everything
// here fails before any resource commitment.
func (o *Orchestrator) prepare(req Request) (resolved, error) {
	const op = "synth.validate"

	if req.Text == "" {
		return resolved{}, platformerrors.New(platformerrors.KindValidation, op, "input text required")
	}
	if o.maxTextLength > 0 && len([]rune(req.Text)) > o.maxTextLength {
		return resolved{}, platformerrors.New(platformerrors.KindValidation, op,
			fmt.Sprintf("input text too long, maximum %d characters", o.maxTextLength))
	}

	if req.Speed == 0 {
		req.Speed = 1.0
	}
	if req.Speed < minSpeed || req.Speed > maxSpeed {
		return resolved{}, platformerrors.New(platformerrors.KindValidation, op,
			fmt.Sprintf("speed must be between %.2f and %.1f", minSpeed, maxSpeed))
	}

	format, err := audio.ParseFormat(req.Format)
	if err != nil {
		return resolved{}, err
	}

	entry, err := o.registry.Resolve(req.Voice)
	if err != nil {
		return resolved{}, err
	}

	return resolved{
		req:    req,
		entry:  entry,
		format: format,
		key:    Key(req.Text, entry.SpeakerRef, entry.Language, string(format), req.Speed),
	}, nil
}

// Synthesize serves a buffered request: the full encoded payload is returned
// at once.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (Result, error) {
	r, err := o.prepare(req)
	if err != nil {
		return Result{}, err
	}

	if data, ok := o.cache.Lookup(r.key); ok {
		o.bus.Publish(eventbus.EventCacheHit, eventbus.SynthesisEventData{
			Voice: req.Voice, Format: string(r.format), TextLength: len(req.Text), Bytes: len(data),
		})
		return Result{Data: data, Format: r.format, ContentType: audio.ContentType(r.format), FromCache: true}, nil
	}

	f, leader := o.flights.begin(r.key)
	if !leader {
		data, err := o.flights.wait(ctx, f)
		if err != nil {
			return Result{}, err
		}
		return Result{Data: data, Format: r.format, ContentType: audio.ContentType(r.format)}, nil
	}

	data, err := o.runBuffered(ctx, r)
	o.flights.finish(r.key, f, data, err)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: data, Format: r.format, ContentType: audio.ContentType(r.format)}, nil
}

// runBuffered executes the admitted synthesis job and encodes the complete
// result. Only called by the flight leader.
func (o *Orchestrator) runBuffered(ctx context.Context, r resolved) ([]byte, error) {
	job, err := o.admission.Admit(ctx, r.key)
	if err != nil {
		return nil, err
	}
	defer job.Release()

	jobCtx := ctx
	if o.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}

	_, spanEnd := observability.StartSpan(jobCtx, "synth", "buffered")
	start := time.Now()

	pcm, info, err := o.collectFrames(jobCtx, r, false)
	if err != nil {
		spanEnd(err)
		o.publishFailure(job.ID, r, err)
		return nil, err
	}

	data, err := o.encoder.Encode(jobCtx, pcm, info, r.format)
	if err != nil {
		spanEnd(err)
		o.publishFailure(job.ID, r, err)
		return nil, err
	}

	o.cache.Insert(r.key, data)
	spanEnd(nil)

	elapsed := time.Since(start)
	o.logger.Info("[TTS] synthesized %d chars -> %d bytes (%s, %.2fs)",
		len(r.req.Text), len(data), r.format, elapsed.Seconds())
	o.bus.Publish(eventbus.EventSynthesisCompleted, eventbus.SynthesisEventData{
		JobID: job.ID, Voice: r.req.Voice, Format: string(r.format),
		TextLength: len(r.req.Text), Bytes: len(data), Seconds: elapsed.Seconds(),
	})
	return data, nil
}

// SynthesizeStream serves a streaming request, writing encoded chunks to w
// as frames arrive. It returns the number of bytes already written alongside
// any error: a non-zero count with an error means the client saw a truncated
// stream and the connection must be terminated abnormally.
func (o *Orchestrator) SynthesizeStream(ctx context.Context, req Request, w io.Writer) (int64, error) {
	r, err := o.prepare(req)
	if err != nil {
		return 0, err
	}

	// Formats without progressive encoders fall back to buffered delivery,
	// as does a deployment with streaming disabled.
	if !o.streamingEnabled || !audio.CanStream(r.format) {
		res, err := o.Synthesize(ctx, req)
		if err != nil {
			return 0, err
		}
		n, err := w.Write(res.Data)
		return int64(n), err
	}

	if data, ok := o.cache.Lookup(r.key); ok {
		o.bus.Publish(eventbus.EventCacheHit, eventbus.SynthesisEventData{
			Voice: req.Voice, Format: string(r.format), TextLength: len(req.Text), Bytes: len(data), Streamed: true,
		})
		n, err := w.Write(data)
		return int64(n), err
	}

	f, leader := o.flights.begin(r.key)
	if !leader {
		// A duplicate of an in-flight request attaches to its result rather
		// than invoking the engine again; output arrives in one write once
		// the leader completes.
		data, err := o.flights.wait(ctx, f)
		if err != nil {
			return 0, err
		}
		n, err := w.Write(data)
		return int64(n), err
	}

	cw := &countingWriter{w: w}
	data, err := o.runStreaming(ctx, r, cw)
	o.flights.finish(r.key, f, data, err)
	return cw.n, err
}

// runStreaming executes the admitted job, encoding progressively to w while
// teeing the encoded output for the cache and any attached duplicates.
func (o *Orchestrator) runStreaming(ctx context.Context, r resolved, w io.Writer) ([]byte, error) {
	job, err := o.admission.Admit(ctx, r.key)
	if err != nil {
		return nil, err
	}
	defer job.Release()

	jobCtx := ctx
	if o.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}

	_, spanEnd := observability.StartSpan(jobCtx, "synth", "streaming")
	start := time.Now()

	stream, err := o.engine.Synthesize(jobCtx, EngineRequest{
		Text:       r.req.Text,
		SpeakerRef: r.entry.SpeakerRef,
		Language:   r.entry.Language,
		Speed:      r.req.Speed,
		Streaming:  true,
	})
	if err != nil {
		err = platformerrors.Wrap(platformerrors.KindEngine, "synth.stream", "engine synthesize failed", err)
		spanEnd(err)
		o.publishFailure(job.ID, r, err)
		return nil, err
	}
	defer stream.Close()

	info := pcmInfo(stream.Format())

	var tee bytes.Buffer
	enc, err := o.encoder.NewStream(jobCtx, io.MultiWriter(w, &tee), info, r.format)
	if err != nil {
		spanEnd(err)
		o.publishFailure(job.ID, r, err)
		return nil, err
	}

	speedApplied := engineAppliedSpeed(stream)
	firstFrame := true
	for {
		frame, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = enc.Close()
			err = o.mapStreamErr(jobCtx, err)
			spanEnd(err)
			o.publishFailure(job.ID, r, err)
			return nil, err
		}

		if !speedApplied {
			frame = audio.ApplySpeed(frame, info, r.req.Speed)
		}
		if firstFrame {
			o.logger.Debug("[TTS] first frame after %.0fms", time.Since(start).Seconds()*1000)
			firstFrame = false
		}
		if err := enc.Write(frame); err != nil {
			err = platformerrors.Wrap(platformerrors.KindEngine, "synth.stream", "stream write failed", err)
			spanEnd(err)
			o.publishFailure(job.ID, r, err)
			return nil, err
		}
	}

	if err := enc.Close(); err != nil {
		spanEnd(err)
		o.publishFailure(job.ID, r, err)
		return nil, err
	}

	data := append([]byte(nil), tee.Bytes()...)
	o.cache.Insert(r.key, data)
	spanEnd(nil)

	elapsed := time.Since(start)
	o.logger.Info("[TTS] streamed %d chars -> %d bytes (%s, %.2fs)",
		len(r.req.Text), len(data), r.format, elapsed.Seconds())
	o.bus.Publish(eventbus.EventSynthesisCompleted, eventbus.SynthesisEventData{
		JobID: job.ID, Voice: r.req.Voice, Format: string(r.format),
		TextLength: len(r.req.Text), Bytes: len(data), Seconds: elapsed.Seconds(), Streamed: true,
	})
	return data, nil
}

// collectFrames drains the engine's frame sequence into memory.
func (o *Orchestrator) collectFrames(ctx context.Context, r resolved, streaming bool) ([]byte, audio.PCMInfo, error) {
	stream, err := o.engine.Synthesize(ctx, EngineRequest{
		Text:       r.req.Text,
		SpeakerRef: r.entry.SpeakerRef,
		Language:   r.entry.Language,
		Speed:      r.req.Speed,
		Streaming:  streaming,
	})
	if err != nil {
		return nil, audio.PCMInfo{}, platformerrors.Wrap(platformerrors.KindEngine, "synth.collect", "engine synthesize failed", err)
	}
	defer stream.Close()

	info := pcmInfo(stream.Format())
	speedApplied := engineAppliedSpeed(stream)

	var pcm bytes.Buffer
	for {
		frame, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, info, o.mapStreamErr(ctx, err)
		}
		pcm.Write(frame)
	}

	out := pcm.Bytes()
	if !speedApplied {
		out = audio.ApplySpeed(out, info, r.req.Speed)
	}
	return out, info, nil
}

func (o *Orchestrator) mapStreamErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return platformerrors.Wrap(platformerrors.KindTimeout, "synth.frames", "synthesis deadline exceeded", err)
	}
	if ctx.Err() == context.Canceled {
		// The caller went away; this is a disconnect, not a deadline.
		return platformerrors.Wrap(platformerrors.KindCanceled, "synth.frames", "synthesis cancelled by caller", err)
	}
	return platformerrors.Wrap(platformerrors.KindEngine, "synth.frames", "engine stream failed", err)
}

func (o *Orchestrator) publishFailure(jobID string, r resolved, err error) {
	if platformerrors.IsKind(err, platformerrors.KindCanceled) {
		// A disconnect is not a synthesis failure; keep it out of the stats.
		o.logger.Debug("[TTS] job %s cancelled by caller", jobID)
		return
	}
	o.bus.Publish(eventbus.EventSynthesisFailed, eventbus.SynthesisEventData{
		JobID: jobID, Voice: r.req.Voice, Format: string(r.format),
		TextLength: len(r.req.Text), Error: err.Error(),
	})
}

// engineAppliedSpeed asks the stream whether the engine already applied the
// speed factor. Streams without the capability are assumed to have applied
// it, keeping the higher-fidelity default.
func engineAppliedSpeed(stream FrameStream) bool {
	if s, ok := stream.(interface{ SpeedApplied() bool }); ok {
		return s.SpeedApplied()
	}
	return true
}

func pcmInfo(f PCMFormat) audio.PCMInfo {
	return audio.PCMInfo{
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		BitsPerSample: f.BitsPerSample,
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
