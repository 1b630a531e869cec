package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository lists accounts outside of posting transactions.
type Repository interface {
	List(ctx context.Context, companyID int64) ([]Account, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pool-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT id, company_id, number, label, created_at FROM accounts WHERE company_id=$1 ORDER BY number`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Number, &a.Label, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TxStore implements TxRepository on top of a pgx transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps tx.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

func (s *TxStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := s.tx.QueryRow(ctx, `SELECT id, company_id, number, label, created_at FROM accounts WHERE id=$1`, id).
		Scan(&a.ID, &a.CompanyID, &a.Number, &a.Label, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (s *TxStore) FindAccountByNumber(ctx context.Context, companyID int64, number string) (Account, error) {
	var a Account
	err := s.tx.QueryRow(ctx, `SELECT id, company_id, number, label, created_at FROM accounts WHERE company_id=$1 AND number=$2`, companyID, number).
		Scan(&a.ID, &a.CompanyID, &a.Number, &a.Label, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// InsertAccount skips the insert on a number clash so the surrounding
// transaction stays usable for the follow-up lookup.
func (s *TxStore) InsertAccount(ctx context.Context, account Account) (Account, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO accounts (company_id, number, label) VALUES ($1,$2,$3)
ON CONFLICT (company_id, number) DO NOTHING RETURNING id, created_at`,
		account.CompanyID, account.Number, account.Label).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountExists
		}
		return Account{}, err
	}
	return account, nil
}

func (s *TxStore) MaxAccountNumberWithPrefix(ctx context.Context, companyID int64, prefix string) (string, bool, error) {
	var number *string
	err := s.tx.QueryRow(ctx, `SELECT MAX(number) FROM accounts WHERE company_id=$1 AND number LIKE $2 AND length(number)=6`,
		companyID, prefix+"%").Scan(&number)
	if err != nil {
		return "", false, err
	}
	if number == nil {
		return "", false, nil
	}
	return *number, true, nil
}
