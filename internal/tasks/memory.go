package tasks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBrokerClosed is returned by a closed MemoryBroker.
var ErrBrokerClosed = errors.New("broker closed")

// DeadLetter is a task the runner gave up on.
type DeadLetter struct {
	Task  Task
	Cause string
}

// MemoryBroker is an in-process Broker for single-node deployments and tests.
// Scheduled tasks live in timers and are lost on restart.
type MemoryBroker struct {
	queue chan Task
	quit  chan struct{}

	mu          sync.Mutex
	closed      bool
	timers      map[*time.Timer]struct{}
	deadLetters []DeadLetter
}

func NewMemoryBroker(queueSize int) *MemoryBroker {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &MemoryBroker{
		queue:  make(chan Task, queueSize),
		quit:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, t Task) error {
	select {
	case <-b.quit:
		return ErrBrokerClosed
	default:
	}

	select {
	case b.queue <- t:
		return nil
	case <-b.quit:
		return ErrBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Schedule(_ context.Context, t Task, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()
		_ = b.Publish(context.Background(), t)
	})
	b.timers[timer] = struct{}{}
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, handle func(context.Context, Task) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.quit:
			return ErrBrokerClosed
		case t := <-b.queue:
			_ = handle(ctx, t)
		}
	}
}

func (b *MemoryBroker) DeadLetter(_ context.Context, t Task, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deadLetters = append(b.deadLetters, DeadLetter{Task: t, Cause: cause.Error()})
	return nil
}

// DeadLetters returns a copy of the parked tasks.
func (b *MemoryBroker) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// Pending reports queued plus scheduled tasks.
func (b *MemoryBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) + len(b.timers)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for timer := range b.timers {
		timer.Stop()
	}
	b.timers = nil
	close(b.quit)
	return nil
}
