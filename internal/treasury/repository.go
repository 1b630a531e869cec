package treasury

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/platform/db"
)

const movementColumns = `id, company_id, money_account_id, date, amount, direction, kind, voucher_ref,
COALESCE(description, ''), invoice_id, incoming_invoice_id, COALESCE(counterpart_account, ''),
vat_breakdown, journal_entry_id, COALESCE(created_by, 0), created_at`

// PgRepository persists treasury data with pgx.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx runs fn inside one repeatable read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxStore(tx))
	})
}

type (
	ledgerStore  = ledger.TxStore
	accountStore = accounts.TxStore
)

type txStore struct {
	*ledgerStore
	*accountStore
	tx pgx.Tx
}

func newTxStore(tx pgx.Tx) *txStore {
	return &txStore{ledgerStore: ledger.NewTxStore(tx), accountStore: accounts.NewTxStore(tx), tx: tx}
}

func (s *txStore) GetMoneyAccount(ctx context.Context, id int64) (MoneyAccount, error) {
	return s.loadMoneyAccount(ctx, `SELECT id, company_id, type, name, COALESCE(currency, ''), opening_balance, ledger_account_id
FROM money_accounts WHERE id=$1`, id)
}

// LockMoneyAccount takes the row lock that serializes the cash guard with
// concurrent outflows on the same holding.
func (s *txStore) LockMoneyAccount(ctx context.Context, id int64) (MoneyAccount, error) {
	return s.loadMoneyAccount(ctx, `SELECT id, company_id, type, name, COALESCE(currency, ''), opening_balance, ledger_account_id
FROM money_accounts WHERE id=$1 FOR UPDATE`, id)
}

func (s *txStore) loadMoneyAccount(ctx context.Context, query string, id int64) (MoneyAccount, error) {
	var a MoneyAccount
	err := s.tx.QueryRow(ctx, query, id).
		Scan(&a.ID, &a.CompanyID, &a.Type, &a.Name, &a.Currency, &a.OpeningBalance, &a.LedgerAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MoneyAccount{}, ErrMoneyAccountNotFound
		}
		return MoneyAccount{}, err
	}
	return a, nil
}

func (s *txStore) LinkMoneyAccountLedger(ctx context.Context, moneyAccountID, ledgerAccountID int64) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE money_accounts SET ledger_account_id=$2, updated_at=NOW() WHERE id=$1`, moneyAccountID, ledgerAccountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrMoneyAccountNotFound
	}
	return nil
}

func (s *txStore) MovementTotals(ctx context.Context, moneyAccountID int64, before *time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var in, out decimal.Decimal
	err := s.tx.QueryRow(ctx, `SELECT
COALESCE(SUM(CASE WHEN direction='IN' THEN amount END), 0),
COALESCE(SUM(CASE WHEN direction='OUT' THEN amount END), 0)
FROM money_movements WHERE money_account_id=$1 AND ($2::timestamptz IS NULL OR date < $2)`, moneyAccountID, before).Scan(&in, &out)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return in, out, nil
}

// ListMovements returns movements dated in [from, to) ordered by date then id.
func (s *txStore) ListMovements(ctx context.Context, moneyAccountID int64, from, to time.Time) ([]Movement, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+movementColumns+` FROM money_movements
WHERE money_account_id=$1 AND date >= $2 AND date < $3 ORDER BY date, id`, moneyAccountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	vat, err := json.Marshal(m.VATBreakdown)
	if err != nil {
		return Movement{}, err
	}
	err = s.tx.QueryRow(ctx, `INSERT INTO money_movements (company_id, money_account_id, date, amount, direction, kind, voucher_ref,
description, invoice_id, incoming_invoice_id, counterpart_account, vat_breakdown, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id, created_at`,
		m.CompanyID, m.MoneyAccountID, m.Date, m.Amount, m.Direction, m.Kind, m.VoucherRef, m.Description,
		m.InvoiceID, m.IncomingInvoiceID, nullString(m.CounterpartAccount), vat, nullInt(m.CreatedBy)).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_money_movements_voucher") {
			return Movement{}, ErrVoucherExists
		}
		return Movement{}, err
	}
	return m, nil
}

func (s *txStore) SetMovementJournal(ctx context.Context, movementIDs []int64, entryID int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE money_movements SET journal_entry_id=$2 WHERE id = ANY($1)`, movementIDs, entryID)
	return err
}

func (s *txStore) InvoiceParty(ctx context.Context, invoiceID int64) (accounts.Party, error) {
	party := accounts.Party{Kind: accounts.PartyClient}
	err := s.tx.QueryRow(ctx, `SELECT c.id, c.name FROM invoices i JOIN clients c ON c.id = i.client_id WHERE i.id=$1`, invoiceID).
		Scan(&party.ID, &party.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return accounts.Party{}, ErrInvoiceNotFound
	}
	return party, err
}

func (s *txStore) IncomingInvoiceParty(ctx context.Context, incomingInvoiceID int64) (accounts.Party, error) {
	party := accounts.Party{Kind: accounts.PartySupplier}
	err := s.tx.QueryRow(ctx, `SELECT p.id, p.name FROM incoming_invoices i JOIN suppliers p ON p.id = i.supplier_id WHERE i.id=$1`, incomingInvoiceID).
		Scan(&party.ID, &party.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return accounts.Party{}, ErrInvoiceNotFound
	}
	return party, err
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var vat []byte
	err := row.Scan(&m.ID, &m.CompanyID, &m.MoneyAccountID, &m.Date, &m.Amount, &m.Direction, &m.Kind, &m.VoucherRef,
		&m.Description, &m.InvoiceID, &m.IncomingInvoiceID, &m.CounterpartAccount, &vat, &m.JournalEntryID, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	if len(vat) > 0 {
		if err := json.Unmarshal(vat, &m.VATBreakdown); err != nil {
			return Movement{}, err
		}
	}
	return m, nil
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
