package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/tasks"
)

// Task names
const (
	TaskProcessCSVImport = "products.process_csv_import"
	TaskTriggerWebhooks  = "products.trigger_webhooks_for_event"
	TaskDeliverWebhook   = "products.deliver_webhook"
)

// ImportTask is the payload of TaskProcessCSVImport.
type ImportTask struct {
	JobID    uuid.UUID `json:"job_id"`
	FilePath string    `json:"file_path"`
}

// RegisterTasks binds the importer and webhook task handlers. Imports get
// their own time limits; the other tasks use the runner defaults.
func RegisterTasks(registry *tasks.Registry, cfg config.TasksConfig, importer *CSVImporter, intake *FileIntake, dispatcher *WebhookDispatcher) {
	registry.Register(TaskProcessCSVImport, func(ctx context.Context, raw json.RawMessage) error {
		var task ImportTask
		if err := json.Unmarshal(raw, &task); err != nil {
			return fmt.Errorf("invalid import task payload: %w", err)
		}
		defer intake.Remove(task.FilePath)
		return importer.Run(ctx, task.JobID, task.FilePath)
	}, tasks.Limits{Soft: cfg.ImportSoftTimeLimit, Hard: cfg.ImportHardTimeLimit})

	registry.Register(TaskTriggerWebhooks, func(ctx context.Context, raw json.RawMessage) error {
		var req FanOutRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("invalid fan-out payload: %w", err)
		}
		_, err := dispatcher.FanOut(ctx, req)
		return err
	}, tasks.Limits{})

	registry.Register(TaskDeliverWebhook, func(ctx context.Context, raw json.RawMessage) error {
		var req DeliveryRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("invalid delivery payload: %w", err)
		}
		return dispatcher.HandleDelivery(ctx, req)
	}, tasks.Limits{})
}
