package models

import "time"

// EventType names a webhook event.
type EventType string

const (
	EventProductCreated  EventType = "product.created"
	EventProductUpdated  EventType = "product.updated"
	EventProductDeleted  EventType = "product.deleted"
	EventImportCompleted EventType = "import.completed"
	EventImportFailed    EventType = "import.failed"
)

// EventTypes lists every event a webhook may subscribe to.
var EventTypes = []EventType{
	EventProductCreated,
	EventProductUpdated,
	EventProductDeleted,
	EventImportCompleted,
	EventImportFailed,
}

func (e EventType) Valid() bool {
	for _, known := range EventTypes {
		if e == known {
			return true
		}
	}
	return false
}

type Webhook struct {
	Base
	URL       string    `json:"url" db:"url"`
	EventType EventType `json:"event_type" db:"event_type"`
	Secret    *string   `json:"-" db:"secret"`
}

func (w *Webhook) Enabled() bool {
	return w.IsActive()
}

// WebhookView is the API representation of a subscription. The secret is never
// echoed back.
type WebhookView struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	EventType EventType `json:"event_type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

func (w *Webhook) View() WebhookView {
	return WebhookView{
		ID:        w.ID.String(),
		URL:       w.URL,
		EventType: w.EventType,
		Enabled:   w.Enabled(),
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// WebhookInput is the request body for webhook create and update. Enabled is
// decoded leniently: booleans and the strings "true", "1", "yes" all count.
type WebhookInput struct {
	URL       string   `json:"url"`
	EventType string   `json:"event_type"`
	Secret    *string  `json:"secret"`
	Enabled   FlexBool `json:"enabled"`
}

// WebhookFilter narrows webhook listings. The registry treats nil Enabled as
// "enabled only"; repositories treat it as "any state".
type WebhookFilter struct {
	EventType EventType
	Enabled   *bool
}

// WebhookList is the listing envelope.
type WebhookList struct {
	Results    []WebhookView `json:"results"`
	TotalCount int           `json:"total_count"`
}

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome struct {
	Success      bool     `json:"success"`
	StatusCode   *int     `json:"status_code"`
	ResponseTime *float64 `json:"response_time"`
	ResponseBody *string  `json:"response_body,omitempty"`
	Error        string   `json:"error,omitempty"`
}
