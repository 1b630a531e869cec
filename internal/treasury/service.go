package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/sequence"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// Repository abstracts transactional persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes treasury, ledger and account operations inside one transaction.
type TxRepository interface {
	ledger.TxRepository
	accounts.TxRepository
	GetMoneyAccount(ctx context.Context, id int64) (MoneyAccount, error)
	LockMoneyAccount(ctx context.Context, id int64) (MoneyAccount, error)
	LinkMoneyAccountLedger(ctx context.Context, moneyAccountID, ledgerAccountID int64) error
	MovementTotals(ctx context.Context, moneyAccountID int64, before *time.Time) (in, out decimal.Decimal, err error)
	ListMovements(ctx context.Context, moneyAccountID int64, from, to time.Time) ([]Movement, error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	SetMovementJournal(ctx context.Context, movementIDs []int64, entryID int64) error
	InvoiceParty(ctx context.Context, invoiceID int64) (accounts.Party, error)
	IncomingInvoiceParty(ctx context.Context, incomingInvoiceID int64) (accounts.Party, error)
}

// MovementObserver is notified of every recorded movement.
type MovementObserver interface {
	ObserveMovement(kind string)
}

// Service records movements and transfers.
type Service struct {
	repo      Repository
	engine    *ledger.Engine
	resolver  *accounts.Resolver
	sequences *sequence.Allocator
	audit     shared.AuditRecorder
	observer  MovementObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the movement posting engine.
func NewService(repo Repository, engine *ledger.Engine, resolver *accounts.Resolver, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = accounts.NewResolver(logger)
	}
	if engine == nil {
		engine = ledger.NewEngine(sequence.NewAllocator(), logger)
	}
	return &Service{
		repo:      repo,
		engine:    engine,
		resolver:  resolver,
		sequences: sequence.NewAllocator(),
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithObserver installs a movement observer such as the metrics collector.
func (s *Service) WithObserver(observer MovementObserver) {
	s.observer = observer
}

// Validate checks the input shape and the kind table. Nothing is read or written.
func (in CreateMovementInput) Validate() error {
	if in.CompanyID <= 0 || in.MoneyAccountID <= 0 {
		return shared.Invalid("treasury: company and money account required")
	}
	if in.Date.IsZero() {
		return shared.Invalid("treasury: date required")
	}
	if !shared.Round2(in.Amount).IsPositive() {
		return ErrInvalidAmount
	}
	if !in.Direction.Valid() {
		return ErrInvalidDirection
	}
	for _, seg := range in.VATBreakdown {
		if seg.Rate.IsNegative() || seg.Base.IsNegative() {
			return ErrNegativeVAT
		}
	}
	return ValidateKind(in.Kind, in.Direction, in.VATBreakdown)
}

// Validate checks the transfer shape.
func (in CreateTransferInput) Validate() error {
	if in.CompanyID <= 0 || in.FromAccountID <= 0 || in.ToAccountID <= 0 {
		return shared.Invalid("treasury: company and both money accounts required")
	}
	if in.FromAccountID == in.ToAccountID {
		return ErrSameAccount
	}
	if in.Date.IsZero() {
		return shared.Invalid("treasury: date required")
	}
	if !shared.Round2(in.Amount).IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// CreateMovement records a movement and posts its legs atomically.
func (s *Service) CreateMovement(ctx context.Context, in CreateMovementInput) (MovementResult, error) {
	if err := in.Validate(); err != nil {
		return MovementResult{}, err
	}
	amount := shared.Round2(in.Amount)
	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		holding, err := tx.LockMoneyAccount(ctx, in.MoneyAccountID)
		if err != nil {
			return err
		}
		if holding.CompanyID != in.CompanyID {
			return ErrCompanyMismatch
		}
		ledgerAccount, err := s.resolveLedgerAccount(ctx, tx, holding)
		if err != nil {
			return err
		}
		if holding.Type == accounts.MoneyAccountCash && in.Direction == DirectionOut {
			if err := s.guardCash(ctx, tx, holding, amount); err != nil {
				return err
			}
		}
		voucher, err := s.voucher(ctx, tx, in.CompanyID, in.VoucherRef)
		if err != nil {
			return err
		}
		movement, err := tx.InsertMovement(ctx, Movement{
			CompanyID:          in.CompanyID,
			MoneyAccountID:     in.MoneyAccountID,
			Date:               in.Date,
			Amount:             amount,
			Direction:          in.Direction,
			Kind:               in.Kind,
			VoucherRef:         voucher,
			Description:        strings.TrimSpace(in.Description),
			InvoiceID:          in.InvoiceID,
			IncomingInvoiceID:  in.IncomingInvoiceID,
			CounterpartAccount: strings.TrimSpace(in.CounterpartAccount),
			VATBreakdown:       in.VATBreakdown,
			CreatedBy:          in.CreatedBy,
		})
		if err != nil {
			return err
		}
		batch, err := s.AutoPost(ctx, tx, movement, ledgerAccount)
		if err != nil {
			return err
		}
		result.Movement = movement
		if batch.Len() < 2 {
			pending, err := s.engine.StorePending(ctx, tx, batch)
			if err != nil {
				return err
			}
			result.PendingLegs = pending
			return nil
		}
		entry, err := s.engine.FinalizeBatch(ctx, tx, batch, ledger.EntryInput{
			CompanyID:   movement.CompanyID,
			Date:        movement.Date,
			SourceType:  ledger.SourceMoneyMovement,
			SourceID:    MovementSourceID(movement.ID),
			Description: movementDescription(movement),
			PostedBy:    movement.CreatedBy,
		})
		if err != nil {
			return err
		}
		if err := tx.SetMovementJournal(ctx, []int64{movement.ID}, entry.ID); err != nil {
			return err
		}
		result.Movement.JournalEntryID = &entry.ID
		result.Journal = &entry
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.recorded(ctx, result.Movement)
	return result, nil
}

// AutoPost drafts the treasury leg of m and the counterpart legs its kind requires.
func (s *Service) AutoPost(ctx context.Context, tx TxRepository, m Movement, ledgerAccount accounts.Account) (*ledger.Batch, error) {
	rule, ok := kindTable[m.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	side := ledger.Credit
	if m.Direction == DirectionIn {
		side = ledger.Debit
	}
	batch := ledger.NewBatch(m.CompanyID, m.Date)
	batch.Add(ledger.Leg{
		AccountID:  ledgerAccount.ID,
		Amount:     m.Amount,
		Direction:  side,
		Kind:       ledger.KindTreasury,
		MovementID: &m.ID,
		Label:      m.VoucherRef,
	})
	if rule.counterpart == nil {
		return batch, nil
	}
	if err := rule.counterpart(ctx, &poster{tx: tx, resolver: s.resolver}, m, side.Opposite(), batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// Balance returns the running balance of a holding at the end of asOf.
func (s *Service) Balance(ctx context.Context, moneyAccountID int64, asOf time.Time) (Balance, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	var out Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		holding, err := tx.GetMoneyAccount(ctx, moneyAccountID)
		if err != nil {
			return err
		}
		before := endOfDay(asOf)
		in, outflow, err := tx.MovementTotals(ctx, moneyAccountID, &before)
		if err != nil {
			return err
		}
		out = Balance{
			MoneyAccountID: moneyAccountID,
			AsOf:           asOf,
			Opening:        holding.OpeningBalance,
			In:             in,
			Out:            outflow,
			Balance:        holding.OpeningBalance.Add(in).Sub(outflow),
		}
		return nil
	})
	return out, err
}

// Ledger lists the movements of a holding between from and to inclusive. The
// opening balance replays every movement dated strictly before from.
func (s *Service) Ledger(ctx context.Context, moneyAccountID int64, from, to time.Time) (AccountLedger, error) {
	if from.IsZero() || to.IsZero() || from.After(to) {
		return AccountLedger{}, shared.Invalid("treasury: from must not be after to")
	}
	var out AccountLedger
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		holding, err := tx.GetMoneyAccount(ctx, moneyAccountID)
		if err != nil {
			return err
		}
		start := startOfDay(from)
		in, outflow, err := tx.MovementTotals(ctx, moneyAccountID, &start)
		if err != nil {
			return err
		}
		movements, err := tx.ListMovements(ctx, moneyAccountID, start, endOfDay(to))
		if err != nil {
			return err
		}
		running := holding.OpeningBalance.Add(in).Sub(outflow)
		out = AccountLedger{MoneyAccountID: moneyAccountID, From: from, To: to, Opening: running}
		out.Lines = make([]LedgerLine, 0, len(movements))
		for _, m := range movements {
			running = running.Add(m.Signed())
			out.Lines = append(out.Lines, LedgerLine{Movement: m, Balance: running})
		}
		out.Closing = running
		return nil
	})
	return out, err
}

// CreateTransfer records paired OUT and IN movements and one journal entry
// crediting the source and debiting the destination.
func (s *Service) CreateTransfer(ctx context.Context, in CreateTransferInput) (TransferResult, error) {
	if err := in.Validate(); err != nil {
		return TransferResult{}, err
	}
	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, dest, err := lockPair(ctx, tx, in.FromAccountID, in.ToAccountID)
		if err != nil {
			return err
		}
		if source.CompanyID != in.CompanyID || dest.CompanyID != in.CompanyID {
			return ErrCompanyMismatch
		}
		if source.Currency != "" && dest.Currency != "" && !strings.EqualFold(source.Currency, dest.Currency) {
			return ErrCurrencyMismatch
		}
		sourceLedger, err := s.resolveLedgerAccount(ctx, tx, source)
		if err != nil {
			return err
		}
		destLedger, err := s.resolveLedgerAccount(ctx, tx, dest)
		if err != nil {
			return err
		}
		amount := shared.Round2(in.Amount)
		if source.Type == accounts.MoneyAccountCash {
			if err := s.guardCash(ctx, tx, source, amount); err != nil {
				return err
			}
		}
		base, err := s.voucher(ctx, tx, in.CompanyID, in.VoucherRef)
		if err != nil {
			return err
		}
		template := Movement{
			CompanyID:   in.CompanyID,
			Date:        in.Date,
			Amount:      amount,
			Kind:        KindTransfer,
			Description: strings.TrimSpace(in.Description),
			CreatedBy:   in.CreatedBy,
		}
		outgoing := template
		outgoing.MoneyAccountID = source.ID
		outgoing.Direction = DirectionOut
		outgoing.VoucherRef = base + "-1"
		if outgoing, err = tx.InsertMovement(ctx, outgoing); err != nil {
			return err
		}
		incoming := template
		incoming.MoneyAccountID = dest.ID
		incoming.Direction = DirectionIn
		incoming.VoucherRef = base + "-2"
		if incoming, err = tx.InsertMovement(ctx, incoming); err != nil {
			return err
		}

		batch := ledger.NewBatch(in.CompanyID, in.Date)
		batch.Credit(sourceLedger.ID, amount, ledger.KindTransfer, ledger.WithMovement(outgoing.ID), ledger.WithLabel(outgoing.VoucherRef))
		batch.Debit(destLedger.ID, amount, ledger.KindTransfer, ledger.WithMovement(incoming.ID), ledger.WithLabel(incoming.VoucherRef))
		entry, err := s.engine.FinalizeBatch(ctx, tx, batch, ledger.EntryInput{
			CompanyID:   in.CompanyID,
			Date:        in.Date,
			SourceType:  ledger.SourceTransfer,
			SourceID:    TransferSourceID(in.CompanyID, base),
			Description: fmt.Sprintf("Transfer %s from %s to %s", base, source.Name, dest.Name),
			PostedBy:    in.CreatedBy,
		})
		if err != nil {
			return err
		}
		if err := tx.SetMovementJournal(ctx, []int64{outgoing.ID, incoming.ID}, entry.ID); err != nil {
			return err
		}
		outgoing.JournalEntryID = &entry.ID
		incoming.JournalEntryID = &entry.ID
		result = TransferResult{Out: outgoing, In: incoming, Journal: entry}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.recorded(ctx, result.Out)
	s.recorded(ctx, result.In)
	return result, nil
}

// MovementSourceID derives the journal source id of a movement.
func MovementSourceID(movementID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte("MONEY_MOVEMENT:"+strconv.FormatInt(movementID, 10)))
}

// TransferSourceID derives the journal source id of a transfer.
func TransferSourceID(companyID int64, voucher string) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("TRANSFER:%d:%s", companyID, voucher)))
}

func (s *Service) resolveLedgerAccount(ctx context.Context, tx TxRepository, holding MoneyAccount) (accounts.Account, error) {
	account, err := s.resolver.ResolveMoneyAccount(ctx, tx, holding.Ref())
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return accounts.Account{}, fmt.Errorf("%w: money account %d", ErrMissingLedgerAccount, holding.ID)
	}
	if err != nil {
		return accounts.Account{}, err
	}
	if holding.LedgerAccountID == nil || *holding.LedgerAccountID != account.ID {
		if err := tx.LinkMoneyAccountLedger(ctx, holding.ID, account.ID); err != nil {
			return accounts.Account{}, err
		}
	}
	return account, nil
}

// guardCash rejects an outflow that would drive the holding below zero. The
// caller holds the money account row lock.
func (s *Service) guardCash(ctx context.Context, tx TxRepository, holding MoneyAccount, amount decimal.Decimal) error {
	in, out, err := tx.MovementTotals(ctx, holding.ID, nil)
	if err != nil {
		return err
	}
	balance := holding.OpeningBalance.Add(in).Sub(out)
	if balance.Sub(amount).IsNegative() {
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientCashBalance, balance.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}

func (s *Service) voucher(ctx context.Context, tx TxRepository, companyID int64, supplied string) (string, error) {
	if v := strings.TrimSpace(supplied); v != "" {
		return v, nil
	}
	return s.sequences.Next(ctx, tx, companyID, sequence.NameMoneyMovement, VoucherPrefix)
}

func (s *Service) recorded(ctx context.Context, m Movement) {
	if s.observer != nil {
		s.observer.ObserveMovement(string(m.Kind))
	}
	s.logger.Info("money movement recorded",
		slog.Int64("company_id", m.CompanyID),
		slog.Int64("movement_id", m.ID),
		slog.String("voucher", m.VoucherRef),
		slog.String("kind", string(m.Kind)),
		slog.String("amount", m.Amount.StringFixed(2)),
	)
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"voucher":   m.VoucherRef,
		"kind":      m.Kind,
		"direction": m.Direction,
		"amount":    m.Amount.StringFixed(2),
	}
	if m.JournalEntryID != nil {
		meta["journal_entry_id"] = *m.JournalEntryID
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: m.CompanyID,
		ActorID:   m.CreatedBy,
		Action:    "treasury.movement",
		Entity:    "money_movement",
		EntityID:  strconv.FormatInt(m.ID, 10),
		Meta:      meta,
		At:        s.now(),
	}); err != nil {
		s.logger.Error("audit movement", slog.Int64("movement_id", m.ID), slog.Any("error", err))
	}
}

// lockPair locks both holdings in id order so concurrent transfers cannot deadlock.
func lockPair(ctx context.Context, tx TxRepository, fromID, toID int64) (MoneyAccount, MoneyAccount, error) {
	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}
	a, err := tx.LockMoneyAccount(ctx, first)
	if err != nil {
		return MoneyAccount{}, MoneyAccount{}, err
	}
	b, err := tx.LockMoneyAccount(ctx, second)
	if err != nil {
		return MoneyAccount{}, MoneyAccount{}, err
	}
	if a.ID == fromID {
		return a, b, nil
	}
	return b, a, nil
}

func movementDescription(m Movement) string {
	if m.Description != "" {
		return m.Description
	}
	return fmt.Sprintf("%s %s", m.Kind, m.VoucherRef)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}
