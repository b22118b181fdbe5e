package coroutine

import (
	"context"
	"testing"
	"time"
)

func TestPullReturnsNilBeforeCancellation(t *testing.T) {
	ctx := context.Background()
	if err := Pull(ctx); err != nil {
		t.Fatalf("Pull() error = %v, want nil", err)
	}
}

func TestPullReturnsInterruptedAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Pull(ctx); err != ErrInterrupted {
		t.Fatalf("Pull() error = %v, want ErrInterrupted", err)
	}
}

func TestSleepReturnsNilAfterDuration(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected Sleep to block for at least the requested duration")
	}
}

func TestSleepReturnsInterruptedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Second); err != ErrInterrupted {
		t.Fatalf("Sleep() error = %v, want ErrInterrupted", err)
	}
}
