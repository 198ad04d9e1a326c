package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/pkg/models"
)

const webhookColumns = "id, url, event_type, secret, state, created_at, updated_at"

var errDuplicateWebhook = apperrors.NewFieldValidation(map[string]string{
	"url": "Webhook with this URL and event type already exists",
})

type webhookRepo struct {
	db Querier
}

func scanWebhook(row pgx.Row) (*models.Webhook, error) {
	var w models.Webhook
	err := row.Scan(&w.ID, &w.URL, &w.EventType, &w.Secret, &w.State, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *webhookRepo) Get(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	row := r.db.QueryRow(ctx, "SELECT "+webhookColumns+" FROM webhooks WHERE id = $1", id)
	w, err := scanWebhook(row)
	if err != nil {
		return nil, notFoundOr(err, "webhook", id)
	}
	return w, nil
}

func (r *webhookRepo) Create(ctx context.Context, w *models.Webhook) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO webhooks (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.URL, w.EventType, w.Secret, w.State, w.CreatedAt, w.UpdatedAt)
	if isUniqueViolation(err, "webhooks_url_event_type_key") {
		return errDuplicateWebhook
	}
	if err != nil {
		return fmt.Errorf("failed to insert webhook: %w", err)
	}
	return nil
}

func (r *webhookRepo) Update(ctx context.Context, w *models.Webhook) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE webhooks
		SET url = $2, event_type = $3, secret = $4, state = $5, updated_at = $6
		WHERE id = $1`,
		w.ID, w.URL, w.EventType, w.Secret, w.State, w.UpdatedAt)
	if isUniqueViolation(err, "webhooks_url_event_type_key") {
		return errDuplicateWebhook
	}
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("webhook", w.ID)
	}
	return nil
}

func (r *webhookRepo) List(ctx context.Context, filter models.WebhookFilter) ([]*models.Webhook, error) {
	var clauses []string
	var args []interface{}

	if filter.EventType != "" {
		args = append(args, filter.EventType)
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, models.StateFromBool(*filter.Enabled))
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)))
	}

	query := "SELECT " + webhookColumns + " FROM webhooks"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []*models.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (r *webhookRepo) SetState(ctx context.Context, id uuid.UUID, state models.LifecycleState, now time.Time) error {
	tag, err := r.db.Exec(ctx, "UPDATE webhooks SET state = $2, updated_at = $3 WHERE id = $1", id, state, now)
	if err != nil {
		return fmt.Errorf("failed to change webhook state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("webhook", id)
	}
	return nil
}
