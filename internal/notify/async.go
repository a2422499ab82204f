package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDrainTimeout bounds how long Close waits for queued messages.
const DefaultDrainTimeout = 5 * time.Second

// Async decouples callers from a slow Sink. Send enqueues and returns
// immediately; a single worker delivers messages in order. When the queue
// is full the message is dropped and logged.
type Async struct {
	sink    Sink
	queue   chan string
	timeout time.Duration
	drain   time.Duration
	logger  *slog.Logger

	// ctx is cancelled when the drain deadline passes. The in-flight
	// delivery is aborted and whatever is still queued is dropped.
	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsync starts the worker. Call Close to drain and stop it.
func NewAsync(sink Sink, queueSize int, logger *slog.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		sink:    sink,
		queue:   make(chan string, queueSize),
		timeout: 10 * time.Second,
		drain:   DefaultDrainTimeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// WithDrainTimeout sets how long Close may spend delivering queued messages.
// It must be called before the dispatcher is shared.
func (a *Async) WithDrainTimeout(d time.Duration) *Async {
	if d > 0 {
		a.drain = d
	}
	return a
}

// Send enqueues message. It reports false if the message was dropped
// because the queue is full or the dispatcher is closed.
func (a *Async) Send(message string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}

	select {
	case a.queue <- message:
		return true
	default:
		a.logger.Warn("notification queue full, dropping message")
		return false
	}
}

// Notify implements Sink so an Async can be passed where a Sink is expected.
// It never returns an error.
func (a *Async) Notify(_ context.Context, message string) error {
	a.Send(message)
	return nil
}

// Close stops accepting messages and delivers the ones already queued. If
// that takes longer than the drain timeout, the remaining messages are
// dropped and Close returns once the worker has stopped.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(a.drain)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		a.cancel()
		<-done
	}
	a.cancel()
}

func (a *Async) run() {
	defer a.wg.Done()
	dropped := 0
	for msg := range a.queue {
		if a.ctx.Err() != nil {
			dropped++
			continue
		}
		ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
		if err := a.sink.Notify(ctx, msg); err != nil {
			a.logger.Warn("notification not delivered", slog.String("error", err.Error()))
		}
		cancel()
	}
	if dropped > 0 {
		a.logger.Warn("drain timeout reached, dropping queued notifications", slog.Int("count", dropped))
	}
}
