package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/tasks"
)

// Scheduler holds tasks until their due time and hands them back to publish.
type Scheduler interface {
	Schedule(ctx context.Context, t tasks.Task, at time.Time) error
	Run(ctx context.Context, publish func(context.Context, tasks.Task) error) error
}

// KafkaBroker carries tasks over a Kafka topic. Failed tasks go to a
// dead-letter topic; delayed tasks wait in the Scheduler.
type KafkaBroker struct {
	writer    *kafka.Writer
	reader    *kafka.Reader
	dlqWriter *kafka.Writer
	scheduler Scheduler
	brokers   []string
	topic     string
	logger    *logrus.Logger

	stopScheduler context.CancelFunc
	schedulerDone chan struct{}
}

var _ tasks.Broker = (*KafkaBroker)(nil)

func NewKafkaBroker(cfg config.KafkaConfig, scheduler Scheduler, logger *logrus.Logger) (*KafkaBroker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka broker list is empty")
	}

	b := &KafkaBroker{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.TasksTopic,
			Balancer:     &kafka.Hash{}, // Key by task id
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.TasksTopic,
			GroupID:        cfg.ConsumerGroup,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			CommitInterval: 0,    // commit synchronously after each task
			StartOffset:    kafka.FirstOffset,
		}),
		dlqWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DeadLetter,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		scheduler: scheduler,
		brokers:   cfg.Brokers,
		topic:     cfg.TasksTopic,
		logger:    logger,
	}

	if scheduler != nil {
		ctx, cancel := context.WithCancel(context.Background())
		b.stopScheduler = cancel
		b.schedulerDone = make(chan struct{})
		go func() {
			defer close(b.schedulerDone)
			if err := scheduler.Run(ctx, b.Publish); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Task scheduler stopped")
			}
		}()
	}

	return b, nil
}

func encodeTask(t tasks.Task) (kafka.Message, error) {
	value, err := json.Marshal(t)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal task: %w", err)
	}

	return kafka.Message{
		Key:   []byte(t.ID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "task_id", Value: []byte(t.ID.String())},
			{Key: "task_name", Value: []byte(t.Name)},
			{Key: "timestamp", Value: []byte(t.EnqueuedAt.Format(time.RFC3339))},
		},
	}, nil
}

func (b *KafkaBroker) Publish(ctx context.Context, t tasks.Task) error {
	message, err := encodeTask(t)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.writer.WriteMessages(ctx, message); err != nil {
		b.logger.WithError(err).WithField("task_id", t.ID).Error("Failed to publish task to Kafka")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"task_id":   t.ID,
		"task_name": t.Name,
		"topic":     b.topic,
	}).Debug("Task published to Kafka")

	return nil
}

func (b *KafkaBroker) Schedule(ctx context.Context, t tasks.Task, at time.Time) error {
	if b.scheduler == nil || !at.After(time.Now()) {
		return b.Publish(ctx, t)
	}
	return b.scheduler.Schedule(ctx, t, at)
}

// Consume fetches one message at a time and commits its offset after handle
// returns, so a crash mid-task redelivers it.
func (b *KafkaBroker) Consume(ctx context.Context, handle func(context.Context, tasks.Task) error) error {
	for {
		message, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read message from Kafka: %w", err)
		}

		var t tasks.Task
		if err := json.Unmarshal(message.Value, &t); err != nil {
			b.logger.WithError(err).WithField("offset", message.Offset).Error("Failed to unmarshal Kafka message")
			if dlqErr := b.writeDLQ(ctx, message.Key, message.Value, "", err); dlqErr != nil {
				b.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
		} else if err := handle(ctx, t); err != nil {
			b.logger.WithError(err).WithField("task_id", t.ID).Warn("Task handler returned an error")
		}

		if err := b.reader.CommitMessages(context.WithoutCancel(ctx), message); err != nil {
			b.logger.WithError(err).WithField("offset", message.Offset).Error("Failed to commit Kafka offset")
		}
	}
}

func (b *KafkaBroker) DeadLetter(ctx context.Context, t tasks.Task, cause error) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ task: %w", err)
	}
	return b.writeDLQ(ctx, []byte(t.ID.String()), value, t.Name, cause)
}

func (b *KafkaBroker) writeDLQ(ctx context.Context, key, original []byte, taskName string, cause error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(original),
		"error":            cause.Error(),
		"dlq_timestamp":    time.Now(),
	}
	if !json.Valid(original) {
		dlqMessage["original_message"] = string(original)
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   key,
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "task_name", Value: []byte(taskName)},
			{Key: "original_topic", Value: []byte(b.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}

	if err := b.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"task_name": taskName,
		"error":     cause.Error(),
	}).Warn("Task sent to DLQ")

	return nil
}

// Ping checks that the tasks topic is reachable.
func (b *KafkaBroker) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial Kafka: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(b.topic); err != nil {
		return fmt.Errorf("failed to read partitions for %s: %w", b.topic, err)
	}
	return nil
}

func (b *KafkaBroker) Close() error {
	var errors []error

	if b.stopScheduler != nil {
		b.stopScheduler()
		<-b.schedulerDone
	}

	if err := b.writer.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close producer: %w", err))
	}

	if err := b.reader.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close consumer: %w", err))
	}

	if err := b.dlqWriter.Close(); err != nil {
		errors = append(errors, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors closing task broker: %v", errors)
	}

	return nil
}

// RegisterMetrics exposes the consumer lag of the tasks topic as a gauge.
func (b *KafkaBroker) RegisterMetrics(reg prometheus.Registerer) error {
	lag := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "task_broker_consumer_lag",
		Help: "Messages on the tasks topic not yet read by this consumer",
	}, func() float64 {
		return float64(b.reader.Stats().Lag)
	})

	if err := reg.Register(lag); err != nil {
		return fmt.Errorf("failed to register task broker metrics: %w", err)
	}
	return nil
}
