package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"optionflow-scanner/internal/errs"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	l := New(1000, 3, 30*time.Second, time.Minute)

	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d while closed: %v", i, err)
		}
		l.RecordFailure()
	}

	err := l.Acquire(context.Background())
	var open *errs.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitOpenError after %d failures, got %v", 3, err)
	}
	if l.State() != "open" {
		t.Errorf("expected state open, got %s", l.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	l := New(1000, 1, 30*time.Second, 10*time.Millisecond)
	l.RecordFailure()
	if l.State() != "open" {
		t.Fatalf("expected open after 1 failure, got %s", l.State())
	}

	time.Sleep(20 * time.Millisecond)

	// One probe is admitted; a concurrent second caller is rejected.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("half-open probe should be admitted: %v", err)
	}
	var open *errs.CircuitOpenError
	if err := l.Acquire(context.Background()); !errors.As(err, &open) {
		t.Fatalf("second caller during half-open probe should be rejected, got %v", err)
	}

	l.RecordSuccess()
	if l.State() != "closed" {
		t.Errorf("successful probe should close the breaker, got %s", l.State())
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("acquire after close: %v", err)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	l := New(1000, 1, 30*time.Second, 10*time.Millisecond)
	l.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}
	l.RecordFailure()
	if l.State() != "open" {
		t.Errorf("failed probe should re-open immediately, got %s", l.State())
	}
}

func TestTokenBucketPacesAcquires(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-sensitive")
	}
	// 5 tokens/second with a full burst of 5: acquiring 10 tokens
	// must take at least ~1 second for the refill.
	l := New(5, 100, 30*time.Second, time.Minute)
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("10 acquires at 5/s with burst 5 finished in %s, expected >= ~1s", elapsed)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := New(1, 100, 30*time.Second, time.Minute)
	// Drain the burst token.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("initial acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Error("expected a context error when no token arrives in time")
	}
}
