package sequence

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxStore implements TxRepository on top of a pgx transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps tx.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// IncrementSequence bumps the counter row, creating it on first use. The row
// lock taken by the upsert serializes concurrent allocations for one company.
func (s *TxStore) IncrementSequence(ctx context.Context, companyID int64, name string) (int64, error) {
	var value int64
	err := s.tx.QueryRow(ctx, `INSERT INTO sequences (company_id, name, value) VALUES ($1, $2, 1)
ON CONFLICT (company_id, name) DO UPDATE SET value = sequences.value + 1, updated_at = NOW()
RETURNING value`, companyID, name).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}
