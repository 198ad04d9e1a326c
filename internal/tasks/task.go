// Package tasks runs named units of work off the request path. Tasks travel
// through a Broker, are looked up in an explicit Registry and execute on a
// fixed pool of workers under soft and hard time limits.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSoftTimeLimit is the cancellation cause seen by a handler whose soft
	// time limit elapsed.
	ErrSoftTimeLimit = errors.New("soft time limit exceeded")
	// ErrHardTimeLimit is reported when the runner gave up waiting on a handler.
	ErrHardTimeLimit = errors.New("hard time limit exceeded")
	ErrUnknownTask   = errors.New("unknown task")
)

// Task is the envelope carried by the broker.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewTask marshals payload into a fresh envelope.
func NewTask(name string, payload interface{}) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:         uuid.New(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Handler executes one task. Payload decoding is the handler's job.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Broker moves tasks between producers and workers.
type Broker interface {
	Publish(ctx context.Context, t Task) error
	// Schedule publishes t once at has passed.
	Schedule(ctx context.Context, t Task, at time.Time) error
	// Consume blocks, passing each task to handle, until ctx is done. A task is
	// acknowledged once handle returns.
	Consume(ctx context.Context, handle func(context.Context, Task) error) error
	// DeadLetter parks a task whose handler failed.
	DeadLetter(ctx context.Context, t Task, cause error) error
	Close() error
}

// Enqueuer is what services use to hand work to the runner.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload interface{}) error
	EnqueueIn(ctx context.Context, name string, payload interface{}, delay time.Duration) error
}
