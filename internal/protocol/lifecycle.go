package protocol

import (
	"context"
	"sync"
	"time"
)

// loopBackoff is the delay ladder applied after consecutive loop errors.
// A successful pass resets to the configured interval.
var loopBackoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// lifecycle provides shared start/stop bookkeeping and periodic loop
// management for handlers. Zero value is ready to use.
type lifecycle struct {
	mu      sync.RWMutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// begin transitions to running and returns false if already running.
func (l *lifecycle) begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return false
	}
	l.running = true
	l.done = make(chan struct{})
	return true
}

// end stops all loops and waits for them to exit. Safe to call twice.
func (l *lifecycle) end() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.done)
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *lifecycle) isRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// loop runs fn every interval until Stop or ctx cancellation. When fn
// returns an error the next delay follows the backoff ladder instead of
// the interval; a success resets it.
func (l *lifecycle) loop(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error) {
	l.mu.RLock()
	done := l.done
	l.mu.RUnlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		failures := 0
		timer := time.NewTimer(0) // first pass immediately
		defer timer.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			if err := fn(ctx); err != nil {
				if failures < len(loopBackoff) {
					failures++
				}
				timer.Reset(loopBackoff[failures-1])
				continue
			}
			failures = 0
			timer.Reset(interval)
		}
	}()
}
