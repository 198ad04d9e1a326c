package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	s := NewPG(mockDB)
	now := time.Now().UTC()
	id := uuid.New()

	t.Run("commits on success", func(t *testing.T) {
		mockDB.ExpectBegin()
		mockDB.ExpectExec("UPDATE import_jobs SET total_records").
			WithArgs(id, 5, now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockDB.ExpectCommit()

		err := s.WithinTx(context.Background(), func(r Repositories) error {
			return r.ImportJobs().SetTotal(context.Background(), id, 5, now)
		})
		require.NoError(t, err)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		mockDB.ExpectBegin()
		mockDB.ExpectRollback()

		err := s.WithinTx(context.Background(), func(Repositories) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
	})

	require.NoError(t, mockDB.ExpectationsWereMet())
}
