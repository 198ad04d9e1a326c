package messaging

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/tasks"
)

func TestEncodeTask(t *testing.T) {
	task, err := tasks.NewTask("products.process_csv_import", map[string]string{
		"job_id":    "5f0c1f3e-7d1c-4b2a-9f51-3c7f1f0a2b11",
		"file_path": "/tmp/csv_import_x_products.csv",
	})
	require.NoError(t, err)

	message, err := encodeTask(task)
	require.NoError(t, err)

	assert.Equal(t, task.ID.String(), string(message.Key))

	headers := map[string]string{}
	for _, h := range message.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "products.process_csv_import", headers["task_name"])
	assert.Equal(t, task.ID.String(), headers["task_id"])

	var decoded tasks.Task
	require.NoError(t, json.Unmarshal(message.Value, &decoded))
	assert.Equal(t, task.ID, decoded.ID)
	assert.Equal(t, task.Name, decoded.Name)
	assert.JSONEq(t, string(task.Payload), string(decoded.Payload))
}

func TestNewKafkaBroker_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaBroker(config.KafkaConfig{TasksTopic: "tasks"}, nil, quietLogger())
	assert.Error(t, err)
}

func TestKafkaBroker_RegisterMetrics(t *testing.T) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{"127.0.0.1:9092"},
		Topic:   "tasks",
	})
	defer reader.Close()
	broker := &KafkaBroker{reader: reader, logger: quietLogger()}

	reg := prometheus.NewRegistry()
	require.NoError(t, broker.RegisterMetrics(reg))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "task_broker_consumer_lag"))

	// A second registration on the same registry is rejected
	assert.Error(t, broker.RegisterMetrics(reg))
}
