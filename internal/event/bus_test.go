package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func startedBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBus(nil)
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(bus.Stop)
	return bus
}

func TestBus_EmitDeliversToSubscriber(t *testing.T) {
	bus := startedBus(t)

	var got atomic.Int32
	bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		got.Add(1)
		return nil
	})

	bus.Emit(New(TypeDeviceFound, nil))
	waitFor(t, time.Second, func() bool { return got.Load() == 1 })
}

func TestBus_NoSubscribersIsNoOp(t *testing.T) {
	bus := startedBus(t)

	bus.Emit(New(TypeDeviceFound, nil))
	bus.EmitSync(context.Background(), New(TypeDeviceFound, nil))
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := startedBus(t)

	var found, changed atomic.Int32
	bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		found.Add(1)
		return nil
	})
	bus.Subscribe(TypeDeviceStateChanged, func(ctx context.Context, e Event) error {
		changed.Add(1)
		return nil
	})

	bus.Emit(New(TypeDeviceFound, nil))
	bus.Emit(New(TypeDeviceFound, nil))

	waitFor(t, time.Second, func() bool { return found.Load() == 2 })
	if changed.Load() != 0 {
		t.Errorf("state_changed handler invoked %d times, want 0", changed.Load())
	}
}

func TestBus_DuplicateSubscribeInvokedTwice(t *testing.T) {
	bus := startedBus(t)

	var count atomic.Int32
	handler := func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	}
	bus.Subscribe(TypeDeviceFound, handler)
	bus.Subscribe(TypeDeviceFound, handler)

	bus.Emit(New(TypeDeviceFound, nil))
	waitFor(t, time.Second, func() bool { return count.Load() == 2 })
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := startedBus(t)

	var count atomic.Int32
	sub := bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	})

	bus.Unsubscribe(sub)
	if n := bus.SubscriberCount(TypeDeviceFound); n != 0 {
		t.Fatalf("SubscriberCount = %d after unsubscribe, want 0", n)
	}

	bus.EmitSync(context.Background(), New(TypeDeviceFound, nil))
	if count.Load() != 0 {
		t.Errorf("handler invoked %d times after unsubscribe, want 0", count.Load())
	}
}

func TestBus_UnsubscribeUnknownIsNoOp(t *testing.T) {
	bus := NewBus(nil)

	bus.Unsubscribe(nil)
	bus.Unsubscribe(&Subscription{id: "missing", eventType: TypeDeviceFound})

	sub := bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error { return nil })
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub) // second removal of the same handle
}

func TestBus_HandlerErrorDoesNotAffectOthers(t *testing.T) {
	bus := startedBus(t)

	var healthy atomic.Int32
	bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		return errors.New("handler failure")
	})
	bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		healthy.Add(1)
		return nil
	})

	bus.Emit(New(TypeDeviceFound, nil))
	waitFor(t, time.Second, func() bool { return healthy.Load() == 1 })
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := startedBus(t)

	var healthy atomic.Int32
	bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		healthy.Add(1)
		return nil
	})

	bus.Emit(New(TypeDeviceFound, nil))
	waitFor(t, time.Second, func() bool { return healthy.Load() == 1 })

	// The bus keeps working after the panic.
	bus.Emit(New(TypeDeviceFound, nil))
	waitFor(t, time.Second, func() bool { return healthy.Load() == 2 })
}

func TestBus_FIFOOrderPerType(t *testing.T) {
	bus := startedBus(t)

	var mu sync.Mutex
	var order []int
	bus.Subscribe(TypeDeviceStateChanged, func(ctx context.Context, e Event) error {
		mu.Lock()
		order = append(order, e.Data["seq"].(int))
		mu.Unlock()
		return nil
	})

	const n = 20
	for i := 0; i < n; i++ {
		bus.Emit(New(TypeDeviceStateChanged, map[string]any{"seq": i}))
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range order {
		if seq != i {
			t.Fatalf("order[%d] = %d, want %d (got %v)", i, seq, i, order)
		}
	}
}

func TestBus_EmitSyncCompletesBeforeReturn(t *testing.T) {
	bus := NewBus(nil) // not started: sync path needs no worker

	var count atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(TypeCommandSent, func(ctx context.Context, e Event) error {
			time.Sleep(10 * time.Millisecond)
			count.Add(1)
			return nil
		})
	}

	bus.EmitSync(context.Background(), New(TypeCommandSent, nil))
	if count.Load() != 3 {
		t.Errorf("count = %d immediately after EmitSync, want 3", count.Load())
	}
}

func TestBus_EmitBeforeStartDispatchedAfterStart(t *testing.T) {
	bus := NewBus(nil)

	var count atomic.Int32
	bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	})

	bus.Emit(New(TypeDeviceFound, nil))
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer bus.Stop()

	waitFor(t, time.Second, func() bool { return count.Load() == 1 })
}

func TestBus_DoubleStartFails(t *testing.T) {
	bus := startedBus(t)
	if err := bus.Start(context.Background()); err == nil {
		t.Error("expected error starting a running bus")
	}
}

func TestBus_StopIsIdempotent(t *testing.T) {
	bus := NewBus(nil)
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	bus.Stop()
	bus.Stop()

	if bus.Running() {
		t.Error("expected bus stopped")
	}
}

func TestBus_RestartAfterStop(t *testing.T) {
	bus := NewBus(nil)

	var count atomic.Int32
	bus.Subscribe(TypeDeviceFound, func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	})

	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	bus.Stop()

	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	defer bus.Stop()

	bus.Emit(New(TypeDeviceFound, nil))
	waitFor(t, time.Second, func() bool { return count.Load() >= 1 })
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := startedBus(t)

	var count atomic.Int32
	bus.Subscribe(TypeDeviceStateChanged, func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	})

	const emitters, perEmitter = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perEmitter; j++ {
				bus.Emit(New(TypeDeviceStateChanged, nil))
			}
		}()
	}
	wg.Wait()

	waitFor(t, 3*time.Second, func() bool {
		return count.Load() == emitters*perEmitter
	})
}
