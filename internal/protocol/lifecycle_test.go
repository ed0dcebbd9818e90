package protocol

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLifecycle_BeginEnd(t *testing.T) {
	var l lifecycle

	if l.isRunning() {
		t.Fatal("fresh lifecycle should not be running")
	}
	if !l.begin() {
		t.Fatal("first begin should succeed")
	}
	if l.begin() {
		t.Fatal("second begin should fail while running")
	}
	if !l.isRunning() {
		t.Fatal("expected running after begin")
	}

	l.end()
	l.end() // idempotent
	if l.isRunning() {
		t.Fatal("expected stopped after end")
	}

	if !l.begin() {
		t.Fatal("begin after end should succeed")
	}
	l.end()
}

func TestLifecycle_LoopRunsAndStops(t *testing.T) {
	var l lifecycle
	l.begin()

	var runs atomic.Int32
	l.loop(context.Background(), 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("loop ran %d times, want at least 2", runs.Load())
	}

	l.end()
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Error("loop kept running after end")
	}
}

func TestLifecycle_LoopStopsOnContextCancel(t *testing.T) {
	var l lifecycle
	l.begin()
	defer l.end()

	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	l.loop(ctx, time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	time.Sleep(20 * time.Millisecond)
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Error("loop kept running after context cancel")
	}
}

func TestLifecycle_LoopBacksOffOnError(t *testing.T) {
	var l lifecycle
	l.begin()
	defer l.end()

	var runs atomic.Int32
	l.loop(context.Background(), time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("pass failed")
	})

	// First failure schedules the 1s backoff step, so within a short
	// window only the initial pass and at most one retry happen.
	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got > 2 {
		t.Errorf("loop ran %d times under constant failure, want <= 2 (backoff)", got)
	}
}
