package synth

import (
	"context"
	"testing"
	"time"

	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

func TestAdmitWithinCapacity(t *testing.T) {
	a := NewAdmission(2, time.Second, nil)

	job1, err := a.Admit(context.Background(), Key("a", "s", "", "wav", 1))
	if err != nil {
		t.Fatalf("first admit failed: %v", err)
	}
	job2, err := a.Admit(context.Background(), Key("b", "s", "", "wav", 1))
	if err != nil {
		t.Fatalf("second admit failed: %v", err)
	}
	job1.Release()
	job2.Release()
}

func TestAdmitCapacityExhausted(t *testing.T) {
	a := NewAdmission(1, 20*time.Millisecond, nil)

	job, err := a.Admit(context.Background(), Key("a", "s", "", "wav", 1))
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	defer job.Release()

	_, err = a.Admit(context.Background(), Key("b", "s", "", "wav", 1))
	if !platformerrors.IsKind(err, platformerrors.KindCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestAdmitQueuedUntilSlotFrees(t *testing.T) {
	a := NewAdmission(1, time.Second, nil)

	job, err := a.Admit(context.Background(), Key("a", "s", "", "wav", 1))
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		queued, err := a.Admit(context.Background(), Key("b", "s", "", "wav", 1))
		if err == nil {
			queued.Release()
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	job.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("queued admit failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued caller never admitted")
	}
}

func TestAdmitCancelledWhileQueued(t *testing.T) {
	a := NewAdmission(1, time.Minute, nil)

	job, err := a.Admit(context.Background(), Key("a", "s", "", "wav", 1))
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	defer job.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = a.Admit(ctx, Key("b", "s", "", "wav", 1))
	if !platformerrors.IsKind(err, platformerrors.KindCanceled) {
		t.Fatalf("cancellation while queued should report a disconnect, got %v", err)
	}
}

func TestAdmitDeadlineWhileQueued(t *testing.T) {
	a := NewAdmission(1, time.Minute, nil)

	job, err := a.Admit(context.Background(), Key("a", "s", "", "wav", 1))
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	defer job.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = a.Admit(ctx, Key("b", "s", "", "wav", 1))
	if !platformerrors.IsKind(err, platformerrors.KindTimeout) {
		t.Fatalf("caller deadline while queued should be a timeout, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := NewAdmission(1, 20*time.Millisecond, nil)

	job, err := a.Admit(context.Background(), Key("a", "s", "", "wav", 1))
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	job.Release()
	job.Release()

	// Double release must not have minted an extra slot.
	second, err := a.Admit(context.Background(), Key("b", "s", "", "wav", 1))
	if err != nil {
		t.Fatalf("admit after release failed: %v", err)
	}
	defer second.Release()

	_, err = a.Admit(context.Background(), Key("c", "s", "", "wav", 1))
	if !platformerrors.IsKind(err, platformerrors.KindCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
}
