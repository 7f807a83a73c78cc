package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgContactCounter updates contact usage stats. Missing contacts are
// not an error; the recipient may have been entered as a raw number.
type PgContactCounter struct {
	pool *pgxpool.Pool
}

func NewPgContactCounter(pool *pgxpool.Pool) *PgContactCounter {
	return &PgContactCounter{pool: pool}
}

func (r *PgContactCounter) IncrementTransactionCount(ctx context.Context, ownerID, phoneHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET transaction_count = transaction_count + 1,
		    last_used_at = NOW()
		WHERE owner_id = $1 AND phone_hash = $2`,
		ownerID, phoneHash)
	if err != nil {
		return fmt.Errorf("increment contact count: %w", err)
	}
	return nil
}
