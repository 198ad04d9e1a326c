package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/config"
)

var _ Enqueuer = (*Runner)(nil)

// Runner consumes tasks from a broker on a fixed number of workers.
type Runner struct {
	registry *Registry
	broker   Broker
	logger   *logrus.Logger
	defaults Limits

	workerCount int
	workers     []*Worker
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	executions *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

type Worker struct {
	id     int
	runner *Runner
	logger *logrus.Entry
}

func NewRunner(cfg config.TasksConfig, registry *Registry, broker Broker, logger *logrus.Logger, reg prometheus.Registerer) *Runner {
	workerCount := cfg.Workers
	if workerCount <= 0 {
		workerCount = 1
	}

	r := &Runner{
		registry:    registry,
		broker:      broker,
		logger:      logger,
		defaults:    Limits{Soft: cfg.SoftTimeLimit, Hard: cfg.HardTimeLimit},
		workerCount: workerCount,
	}

	r.executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_executions_total",
		Help: "Task executions by task name and outcome",
	}, []string{"task", "outcome"})

	r.durations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Task execution time",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"task"})

	r.executions = registerCollector(reg, r.executions, logger).(*prometheus.CounterVec)
	r.durations = registerCollector(reg, r.durations, logger).(*prometheus.HistogramVec)

	r.workers = make([]*Worker, workerCount)
	for i := 0; i < workerCount; i++ {
		r.workers[i] = &Worker{
			id:     i + 1,
			runner: r,
			logger: logger.WithField("worker_id", i+1),
		}
	}

	return r
}

// registerCollector registers c, returning the already registered collector
// when an identical one exists.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector, logger *logrus.Logger) prometheus.Collector {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		logger.WithError(err).Warn("Failed to register task metric")
	}
	return c
}

func (r *Runner) Enqueue(ctx context.Context, name string, payload interface{}) error {
	t, err := NewTask(name, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	if err := r.broker.Publish(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", name, err)
	}

	r.logger.WithFields(logrus.Fields{
		"task":    name,
		"task_id": t.ID,
	}).Debug("Task enqueued")
	return nil
}

func (r *Runner) EnqueueIn(ctx context.Context, name string, payload interface{}, delay time.Duration) error {
	t, err := NewTask(name, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	if err := r.broker.Schedule(ctx, t, time.Now().Add(delay)); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	r.logger.WithFields(logrus.Fields{
		"task":    name,
		"task_id": t.ID,
		"delay":   delay,
	}).Debug("Task scheduled")
	return nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cancel != nil {
		return errors.New("task runner already started")
	}

	ctx, r.cancel = context.WithCancel(ctx)

	for _, worker := range r.workers {
		r.wg.Add(1)
		go worker.start(ctx, &r.wg)
	}

	r.logger.WithFields(logrus.Fields{
		"worker_count": r.workerCount,
		"tasks":        r.registry.Names(),
	}).Info("Task runner started")
	return nil
}

// Stop cancels consumption and waits for in-flight tasks to return.
func (r *Runner) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.logger.Info("Stopping task runner")

	r.cancel()
	r.wg.Wait()

	r.logger.Info("Task runner stopped")
	return nil
}

func (w *Worker) start(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	w.logger.Debug("Worker started")
	for {
		err := w.runner.broker.Consume(ctx, w.process)
		if ctx.Err() != nil {
			w.logger.Debug("Worker stopped")
			return
		}
		if err != nil {
			w.logger.WithError(err).Error("Task consumer failed, restarting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// process never returns the handler error to the broker: failed tasks are
// dead-lettered and acknowledged.
func (w *Worker) process(ctx context.Context, t Task) error {
	err := w.runner.Execute(ctx, t)
	if err == nil {
		return nil
	}

	if dlqErr := w.runner.broker.DeadLetter(context.WithoutCancel(ctx), t, err); dlqErr != nil {
		w.logger.WithError(dlqErr).WithField("task_id", t.ID).Error("Failed to dead-letter task")
	}
	return nil
}

// Execute runs t synchronously under its time limits. The soft limit cancels
// the handler's context with ErrSoftTimeLimit as cause; once the hard limit
// passes the runner stops waiting and returns ErrHardTimeLimit.
func (r *Runner) Execute(ctx context.Context, t Task) error {
	reg, ok := r.registry.lookup(t.Name)
	if !ok {
		r.executions.WithLabelValues(t.Name, "unknown").Inc()
		r.logger.WithField("task", t.Name).Error("No handler registered for task")
		return fmt.Errorf("%w: %s", ErrUnknownTask, t.Name)
	}

	limits := reg.limits
	if limits.Soft <= 0 {
		limits.Soft = r.defaults.Soft
	}
	if limits.Hard <= 0 {
		limits.Hard = r.defaults.Hard
	}

	logger := r.logger.WithFields(logrus.Fields{
		"task":    t.Name,
		"task_id": t.ID,
	})

	handlerCtx, cancel := context.WithTimeoutCause(ctx, limits.Soft, ErrSoftTimeLimit)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("task %s panicked: %v", t.Name, p)
			}
		}()
		done <- reg.handler(handlerCtx, t.Payload)
	}()

	hard := time.NewTimer(limits.Hard)
	defer hard.Stop()

	var err error
	select {
	case err = <-done:
	case <-hard.C:
		err = ErrHardTimeLimit
		logger.WithField("hard_limit", limits.Hard).Error("Task exceeded hard time limit, abandoning it")
	}

	elapsed := time.Since(start)
	r.durations.WithLabelValues(t.Name).Observe(elapsed.Seconds())

	if err != nil {
		r.executions.WithLabelValues(t.Name, "failed").Inc()
		logger.WithError(err).WithField("duration", elapsed).Error("Task failed")
		return err
	}

	r.executions.WithLabelValues(t.Name, "succeeded").Inc()
	logger.WithField("duration", elapsed).Debug("Task succeeded")
	return nil
}
