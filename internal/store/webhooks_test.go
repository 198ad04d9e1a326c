package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/pkg/models"
)

var webhookCols = []string{"id", "url", "event_type", "secret", "state", "created_at", "updated_at"}

func TestWebhookRepo_List(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewPG(mockDB).Webhooks()
	now := time.Now().UTC()
	enabled := true

	mockDB.ExpectQuery("FROM webhooks WHERE event_type = \\$1 AND state = \\$2 ORDER BY").
		WithArgs(models.EventProductCreated, models.StateActive).
		WillReturnRows(pgxmock.NewRows(webhookCols).
			AddRow(uuid.New(), "https://a.example/hook", models.EventProductCreated, strPtr("s"), models.StateActive, now, now))

	hooks, err := repo.List(context.Background(), models.WebhookFilter{EventType: models.EventProductCreated, Enabled: &enabled})
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.True(t, hooks[0].Enabled())

	mockDB.ExpectQuery("SELECT (.+) FROM webhooks ORDER BY created_at DESC").
		WillReturnRows(pgxmock.NewRows(webhookCols))

	hooks, err = repo.List(context.Background(), models.WebhookFilter{})
	require.NoError(t, err)
	assert.NotNil(t, hooks)
	assert.Empty(t, hooks)

	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestWebhookRepo_CreateDuplicate(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	w := &models.Webhook{Base: models.NewBase(time.Now()), URL: "https://a.example/hook", EventType: models.EventImportFailed}
	mockDB.ExpectExec("INSERT INTO webhooks").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "webhooks_url_event_type_key"})

	err = NewPG(mockDB).Webhooks().Create(context.Background(), w)
	var ve *apperrors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "url")
	require.NoError(t, mockDB.ExpectationsWereMet())
}
