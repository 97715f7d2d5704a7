package synth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	platformerrors "cosyvoice-gateway/internal/platform/errors"
	"cosyvoice-gateway/internal/platform/logging"
)

// Job is one admitted unit of synthesis work. It owns a concurrency slot
// until Release is called; Release is idempotent and runs on every exit path.
type Job struct {
	ID       string
	Key      CacheKey
	admitted time.Time
	release  func()
	once     sync.Once
}

// Release returns the job's concurrency slot. Safe to call more than once.
func (j *Job) Release() {
	if j == nil {
		return
	}
	j.once.Do(j.release)
}

// Admission bounds the number of concurrent synthesis jobs. Overflow policy:
// callers queue in FIFO order (semaphore waiter order) up to the configured
// wait timeout, then receive a capacity error. Cache hits never pass through
// here; this is the only place total engine load is bounded.
type Admission struct {
	sem          *semaphore.Weighted
	queueTimeout time.Duration
	logger       *logging.Logger
}

// NewAdmission creates a controller with the given slot count and queue wait
// timeout.
func NewAdmission(slots int, queueTimeout time.Duration, logger *logging.Logger) *Admission {
	if slots <= 0 {
		slots = 1
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &Admission{
		sem:          semaphore.NewWeighted(int64(slots)),
		queueTimeout: queueTimeout,
		logger:       logger,
	}
}

// Admit blocks until a slot is free or the queue timeout elapses. The
// caller's context cancels the wait as well.
func (a *Admission) Admit(ctx context.Context, key CacheKey) (*Job, error) {
	const op = "synth.admit"

	waitCtx := ctx
	if a.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.queueTimeout)
		defer cancel()
	}

	if err := a.sem.Acquire(waitCtx, 1); err != nil {
		switch ctx.Err() {
		case context.Canceled:
			// The client went away while queued; not a capacity problem.
			return nil, platformerrors.Wrap(platformerrors.KindCanceled, op, "request cancelled while queued", ctx.Err())
		case context.DeadlineExceeded:
			return nil, platformerrors.Wrap(platformerrors.KindTimeout, op, "request timed out while queued", ctx.Err())
		}
		return nil, platformerrors.Wrap(platformerrors.KindCapacity, op, "synthesis capacity exhausted", err)
	}

	job := &Job{
		ID:       uuid.NewString(),
		Key:      key,
		admitted: time.Now(),
		release:  func() { a.sem.Release(1) },
	}
	return job, nil
}

// Age reports how long the job has held its slot.
func (j *Job) Age() time.Duration {
	return time.Since(j.admitted)
}
