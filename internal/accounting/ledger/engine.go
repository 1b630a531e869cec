package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/sequence"
)

// JournalPrefix prefixes journal entry numbers.
const JournalPrefix = "JE"

// TxRepository exposes the ledger operations available inside a transaction.
type TxRepository interface {
	sequence.TxRepository
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertLegs(ctx context.Context, legs []Leg) ([]Leg, error)
	GetLegs(ctx context.Context, ids []int64) ([]Leg, error)
	AttachLegs(ctx context.Context, entryID int64, legIDs []int64) error
	GetJournalWithLegs(ctx context.Context, entryID int64) (JournalEntry, error)
	FindJournalBySource(ctx context.Context, companyID int64, sourceType string, sourceID uuid.UUID) (JournalEntry, error)
}

// UnbalancedJournal reports a stored entry whose legs do not balance.
type UnbalancedJournal struct {
	ID        int64           `json:"id"`
	CompanyID int64           `json:"company_id"`
	Number    string          `json:"number"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// IntegrityReader scans stored journal totals.
type IntegrityReader interface {
	JournalTotals(ctx context.Context) ([]UnbalancedJournal, error)
}

// PostingObserver receives a notification for every journal entry created.
type PostingObserver interface {
	ObserveJournal(sourceType string, legs int)
}

// Engine validates balance and materializes journal entries.
type Engine struct {
	sequences *sequence.Allocator
	logger    *slog.Logger
	observer  PostingObserver
	now       func() time.Time
}

// NewEngine constructs the ledger engine.
func NewEngine(sequences *sequence.Allocator, logger *slog.Logger) *Engine {
	if sequences == nil {
		sequences = sequence.NewAllocator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{sequences: sequences, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// WithObserver installs a posting observer such as the metrics collector.
func (e *Engine) WithObserver(observer PostingObserver) {
	e.observer = observer
}

// FinalizeBatch checks the drafted legs, numbers a new POSTED entry and writes
// it together with its legs. Nothing is written when a check fails.
func (e *Engine) FinalizeBatch(ctx context.Context, tx TxRepository, batch *Batch, in EntryInput) (JournalEntry, error) {
	if batch == nil || batch.Len() == 0 {
		return JournalEntry{}, ErrEmptyJournal
	}
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	legs := batch.Legs()
	for idx, leg := range legs {
		if err := validateLeg(idx, leg); err != nil {
			return JournalEntry{}, err
		}
		if leg.CompanyID != in.CompanyID {
			return JournalEntry{}, ErrCompanyMismatch
		}
	}
	totals := ComputeDebitCredit(legs)
	if err := e.checkBalance(totals, in); err != nil {
		return JournalEntry{}, err
	}
	entry, err := e.insertEntry(ctx, tx, in)
	if err != nil {
		return JournalEntry{}, err
	}
	for i := range legs {
		legs[i].JournalEntryID = &entry.ID
	}
	inserted, err := tx.InsertLegs(ctx, legs)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Legs = inserted
	e.posted(entry, totals)
	return entry, nil
}

// StorePending persists the drafted legs without a journal entry. They are
// attached later through CreateJournalEntry.
func (e *Engine) StorePending(ctx context.Context, tx TxRepository, batch *Batch) ([]Leg, error) {
	if batch == nil || batch.Len() == 0 {
		return nil, ErrEmptyJournal
	}
	legs := batch.Legs()
	for idx, leg := range legs {
		if err := validateLeg(idx, leg); err != nil {
			return nil, err
		}
	}
	return tx.InsertLegs(ctx, legs)
}

// CreateJournalEntry attaches already persisted, unattached legs to a freshly
// numbered entry once their balance is confirmed.
func (e *Engine) CreateJournalEntry(ctx context.Context, tx TxRepository, legIDs []int64, in EntryInput) (JournalEntry, error) {
	if len(legIDs) == 0 {
		return JournalEntry{}, ErrEmptyJournal
	}
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	legs, err := tx.GetLegs(ctx, legIDs)
	if err != nil {
		return JournalEntry{}, err
	}
	if len(legs) != len(legIDs) {
		return JournalEntry{}, ErrLegNotFound
	}
	for _, leg := range legs {
		if leg.JournalEntryID != nil {
			return JournalEntry{}, fmt.Errorf("%w: leg %d", ErrLegAlreadyAttached, leg.ID)
		}
		if leg.CompanyID != in.CompanyID {
			return JournalEntry{}, ErrCompanyMismatch
		}
	}
	totals := ComputeDebitCredit(legs)
	if err := e.checkBalance(totals, in); err != nil {
		return JournalEntry{}, err
	}
	entry, err := e.insertEntry(ctx, tx, in)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.AttachLegs(ctx, entry.ID, legIDs); err != nil {
		return JournalEntry{}, err
	}
	for i := range legs {
		legs[i].JournalEntryID = &entry.ID
	}
	entry.Legs = legs
	e.posted(entry, totals)
	return entry, nil
}

func (e *Engine) checkBalance(totals Totals, in EntryInput) error {
	if totals.Balanced() {
		return nil
	}
	if in.AllowUnbalanced {
		e.logger.Warn("posting unbalanced journal",
			slog.String("source_type", in.SourceType),
			slog.String("debit", totals.Debit.StringFixed(2)),
			slog.String("credit", totals.Credit.StringFixed(2)),
		)
		return nil
	}
	return fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, totals.Debit.StringFixed(2), totals.Credit.StringFixed(2))
}

func (e *Engine) insertEntry(ctx context.Context, tx TxRepository, in EntryInput) (JournalEntry, error) {
	number, err := e.sequences.Next(ctx, tx, in.CompanyID, sequence.NameJournalEntry, JournalPrefix)
	if err != nil {
		return JournalEntry{}, err
	}
	return tx.InsertJournalEntry(ctx, JournalEntry{
		CompanyID:   in.CompanyID,
		Number:      number,
		Date:        in.Date,
		SourceType:  in.SourceType,
		SourceID:    in.SourceID,
		Description: in.Description,
		Status:      JournalStatusPosted,
		PostedBy:    in.PostedBy,
		PostedAt:    e.now(),
	})
}

func (e *Engine) posted(entry JournalEntry, totals Totals) {
	e.logger.Info("journal entry posted",
		slog.Int64("company_id", entry.CompanyID),
		slog.String("number", entry.Number),
		slog.String("source_type", entry.SourceType),
		slog.String("total", totals.Debit.StringFixed(2)),
	)
	if e.observer != nil {
		e.observer.ObserveJournal(entry.SourceType, len(entry.Legs))
	}
}

// Mirror drafts the reversal of legs dated date.
func (e *Engine) Mirror(companyID int64, date time.Time, legs []Leg) *Batch {
	return Mirror(companyID, date, legs)
}

// VerifyBalanced returns every stored entry whose debit and credit totals
// differ beyond tolerance.
func (e *Engine) VerifyBalanced(ctx context.Context, reader IntegrityReader) ([]UnbalancedJournal, error) {
	rows, err := reader.JournalTotals(ctx)
	if err != nil {
		return nil, err
	}
	var out []UnbalancedJournal
	for _, row := range rows {
		if (Totals{Debit: row.Debit, Credit: row.Credit}).Balanced() {
			continue
		}
		out = append(out, row)
	}
	if len(out) > 0 {
		e.logger.Error("unbalanced journal entries detected", slog.Int("count", len(out)))
	}
	return out, nil
}
