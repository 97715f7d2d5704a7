package synth

import (
	"context"
	"sync"

	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

// flight is one in-progress synthesis shared by every caller that resolved
// to the same cache key. The leader fills data/err and closes done; waiters
// observe the same terminal outcome.
type flight struct {
	done chan struct{}
	data []byte
	err  error
}

// flightGroup de-duplicates concurrent synthesis of identical keys so the
// engine runs at most once per key at a time.
type flightGroup struct {
	mu       sync.Mutex
	inflight map[CacheKey]*flight
}

func newFlightGroup() *flightGroup {
	return &flightGroup{inflight: make(map[CacheKey]*flight)}
}

// begin registers interest in key. The first caller becomes the leader and
// must call finish exactly once; later callers wait on the returned flight.
func (g *flightGroup) begin(key CacheKey) (*flight, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if f, ok := g.inflight[key]; ok {
		return f, false
	}
	f := &flight{done: make(chan struct{})}
	g.inflight[key] = f
	return f, true
}

// finish publishes the terminal outcome and unblocks all waiters.
func (g *flightGroup) finish(key CacheKey, f *flight, data []byte, err error) {
	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()

	f.data = data
	f.err = err
	close(f.done)
}

// wait blocks until the leader finishes or the waiter's own context ends.
func (g *flightGroup) wait(ctx context.Context, f *flight) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		kind := platformerrors.KindTimeout
		if ctx.Err() == context.Canceled {
			kind = platformerrors.KindCanceled
		}
		return nil, platformerrors.Wrap(kind, "synth.flight_wait",
			"gave up waiting on duplicate request", ctx.Err())
	}
}
