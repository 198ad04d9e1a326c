package store

import (
	"context"
	"fmt"
)

// PG implements Store on top of a pgx pool or transaction.
type PG struct {
	db Querier
}

func NewPG(db Querier) *PG {
	return &PG{db: db}
}

func (s *PG) Products() Products {
	return &productRepo{db: s.db}
}

func (s *PG) Webhooks() Webhooks {
	return &webhookRepo{db: s.db}
}

func (s *PG) ImportJobs() ImportJobs {
	return &importJobRepo{db: s.db}
}

func (s *PG) WithinTx(ctx context.Context, fn func(Repositories) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&PG{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *PG) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}
