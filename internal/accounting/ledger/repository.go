package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/sequence"
	"github.com/odyssey-erp/ledgerpay/internal/platform/db"
)

const legColumns = `id, company_id, date, amount, direction, kind, account_id, label,
invoice_id, incoming_invoice_id, movement_id, cost_center_id, journal_entry_id`

const journalColumns = `id, company_id, number, date, source_type, source_id, description, status, COALESCE(posted_by, 0), posted_at`

// Repository provides pool level access to journals.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// ListJournals returns the latest entries of a company.
func (r *Repository) ListJournals(ctx context.Context, companyID int64, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+journalColumns+` FROM journal_entries
WHERE company_id=$1 ORDER BY date DESC, id DESC LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetJournal loads one entry with its legs.
func (r *Repository) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	var entry JournalEntry
	err := r.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournalWithLegs(ctx, id)
		return err
	})
	return entry, err
}

// JournalTotals sums the attached legs of every stored entry.
func (r *Repository) JournalTotals(ctx context.Context) ([]UnbalancedJournal, error) {
	rows, err := r.pool.Query(ctx, `SELECT je.id, je.company_id, je.number,
COALESCE(SUM(CASE WHEN l.direction='DEBIT' THEN l.amount END), 0),
COALESCE(SUM(CASE WHEN l.direction='CREDIT' THEN l.amount END), 0)
FROM journal_entries je
LEFT JOIN ledger_legs l ON l.journal_entry_id = je.id
GROUP BY je.id, je.company_id, je.number
ORDER BY je.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedJournal
	for rows.Next() {
		var row UnbalancedJournal
		if err := rows.Scan(&row.ID, &row.CompanyID, &row.Number, &row.Debit, &row.Credit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// TxStore implements TxRepository on a pgx transaction.
type TxStore struct {
	*sequence.TxStore
	tx pgx.Tx
}

// NewTxStore wraps tx.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{TxStore: sequence.NewTxStore(tx), tx: tx}
}

func (s *TxStore) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, number, date, source_type, source_id, description, status, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		entry.CompanyID, entry.Number, entry.Date, entry.SourceType, entry.SourceID, entry.Description,
		entry.Status, nullInt(entry.PostedBy), entry.PostedAt).Scan(&entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *TxStore) InsertLegs(ctx context.Context, legs []Leg) ([]Leg, error) {
	out := make([]Leg, 0, len(legs))
	for _, leg := range legs {
		err := s.tx.QueryRow(ctx, `INSERT INTO ledger_legs (company_id, date, amount, direction, kind, account_id, label,
invoice_id, incoming_invoice_id, movement_id, cost_center_id, journal_entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
			leg.CompanyID, leg.Date, leg.Amount, leg.Direction, leg.Kind, leg.AccountID, leg.Label,
			leg.InvoiceID, leg.IncomingInvoiceID, leg.MovementID, leg.CostCenterID, leg.JournalEntryID).Scan(&leg.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, leg)
	}
	return out, nil
}

// GetLegs locks and returns the requested legs.
func (s *TxStore) GetLegs(ctx context.Context, ids []int64) ([]Leg, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+legColumns+` FROM ledger_legs WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLegs(rows)
}

func (s *TxStore) AttachLegs(ctx context.Context, entryID int64, legIDs []int64) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE ledger_legs SET journal_entry_id=$1 WHERE id = ANY($2) AND journal_entry_id IS NULL`, entryID, legIDs)
	if err != nil {
		return err
	}
	if int(cmd.RowsAffected()) != len(legIDs) {
		return ErrLegAlreadyAttached
	}
	return nil
}

func (s *TxStore) GetJournalWithLegs(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanJournal(s.tx.QueryRow(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id=$1`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	rows, err := s.tx.Query(ctx, `SELECT `+legColumns+` FROM ledger_legs WHERE journal_entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	entry.Legs, err = scanLegs(rows)
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *TxStore) FindJournalBySource(ctx context.Context, companyID int64, sourceType string, sourceID uuid.UUID) (JournalEntry, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `SELECT id FROM journal_entries WHERE company_id=$1 AND source_type=$2 AND source_id=$3
ORDER BY id DESC LIMIT 1`, companyID, sourceType, sourceID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	return s.GetJournalWithLegs(ctx, id)
}

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var entry JournalEntry
	err := row.Scan(&entry.ID, &entry.CompanyID, &entry.Number, &entry.Date, &entry.SourceType, &entry.SourceID,
		&entry.Description, &entry.Status, &entry.PostedBy, &entry.PostedAt)
	return entry, err
}

func scanLegs(rows pgx.Rows) ([]Leg, error) {
	var legs []Leg
	for rows.Next() {
		var leg Leg
		if err := rows.Scan(&leg.ID, &leg.CompanyID, &leg.Date, &leg.Amount, &leg.Direction, &leg.Kind, &leg.AccountID, &leg.Label,
			&leg.InvoiceID, &leg.IncomingInvoiceID, &leg.MovementID, &leg.CostCenterID, &leg.JournalEntryID); err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
