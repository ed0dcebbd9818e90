package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handler processes a single event. Handlers run concurrently with other
// handlers for the same event; a handler error or panic is logged and
// never affects sibling handlers or the bus itself.
type Handler func(ctx context.Context, e Event) error

// Logger is the minimal logging interface the bus needs.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	id        string
	eventType Type
}

// EventType returns the type this subscription listens for.
func (s *Subscription) EventType() Type {
	return s.eventType
}

type subscriber struct {
	id      string
	handler Handler
}

// Bus is an asynchronous publish/subscribe event bus.
//
// Emitted events are queued in FIFO order and dispatched by a single
// worker goroutine. All handlers for one event run concurrently; the
// worker waits for them to finish before dequeuing the next event, so
// events of the same type observe queue order.
//
// The queue is unbounded: Emit never blocks and never drops.
type Bus struct {
	logger Logger

	mu       sync.RWMutex
	handlers map[Type][]subscriber

	queueMu sync.Mutex
	queue   []Event
	notify  chan struct{}

	runMu    sync.Mutex
	running  bool
	done     chan struct{}
	stopOnce *sync.Once
	wg       sync.WaitGroup
}

// NewBus creates an event bus. A nil logger disables logging.
func NewBus(logger Logger) *Bus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[Type][]subscriber),
		notify:   make(chan struct{}, 1),
	}
}

// Subscribe registers a handler for an event type and returns a handle for
// unsubscribing. Subscribing the same function twice registers it twice:
// it will be invoked once per registration.
func (b *Bus) Subscribe(eventType Type, handler Handler) *Subscription {
	sub := &Subscription{id: uuid.NewString(), eventType: eventType}

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], subscriber{
		id:      sub.id,
		handler: handler,
	})
	b.mu.Unlock()

	b.logger.Debug("handler subscribed", "event_type", string(eventType))
	return sub
}

// Unsubscribe removes a previously registered handler. Passing nil or an
// already removed subscription is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.handlers[sub.eventType] = append(subs[:i], subs[i+1:]...)
			b.logger.Debug("handler unsubscribed", "event_type", string(sub.eventType))
			return
		}
	}
}

// Emit enqueues an event for asynchronous dispatch. It never blocks.
// Events emitted before Start are dispatched once the bus starts.
func (b *Bus) Emit(e Event) {
	b.queueMu.Lock()
	b.queue = append(b.queue, e)
	b.queueMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// EmitSync dispatches an event inline, bypassing the queue, and returns
// once every handler has completed. Handler failures are logged, not
// returned.
func (b *Bus) EmitSync(ctx context.Context, e Event) {
	b.dispatch(ctx, e)
}

// Start launches the dispatch worker. Starting an already running bus is
// an error. The worker runs until Stop is called or ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.running {
		return fmt.Errorf("event bus already running")
	}
	b.running = true
	b.done = make(chan struct{})
	b.stopOnce = &sync.Once{}

	b.wg.Add(1)
	go b.worker(ctx, b.done)

	b.logger.Info("event bus started")
	return nil
}

// Stop halts the dispatch worker. The in-flight event's handlers are
// allowed to finish; events still queued are not dispatched but remain
// queued for a later Start. Stop is idempotent.
func (b *Bus) Stop() {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if !b.running {
		return
	}
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
	b.running = false

	b.logger.Info("event bus stopped")
}

// Running reports whether the dispatch worker is active.
func (b *Bus) Running() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running
}

// SubscriberCount returns the number of handlers registered for a type.
func (b *Bus) SubscriberCount(eventType Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// worker dequeues events one at a time and dispatches each fully before
// moving to the next.
func (b *Bus) worker(ctx context.Context, done <-chan struct{}) {
	defer b.wg.Done()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-b.notify:
			for {
				e, ok := b.dequeue()
				if !ok {
					break
				}
				b.dispatch(ctx, e)

				select {
				case <-done:
					return
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

func (b *Bus) dequeue() (Event, bool) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	if len(b.queue) == 0 {
		return Event{}, false
	}
	e := b.queue[0]
	b.queue = b.queue[1:]
	return e, true
}

// dispatch invokes all handlers for the event concurrently and waits for
// them to complete. With no subscribers it returns immediately.
func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.handlers[e.Type]))
	copy(subs, b.handlers[e.Type])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s subscriber) {
			defer wg.Done()
			b.safeHandle(ctx, s.handler, e)
		}(s)
	}
	wg.Wait()
}

// safeHandle runs one handler, containing panics and logging failures so
// one handler can never take down its siblings or the worker.
func (b *Bus) safeHandle(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", string(e.Type),
				"event_id", e.ID,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	if err := h(ctx, e); err != nil {
		b.logger.Error("event handler failed",
			"event_type", string(e.Type),
			"event_id", e.ID,
			"error", err,
		)
	}
}
