package treasury

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledgertest"
)

type memoryRepo struct {
	*ledgertest.Store
	holdings  map[int64]MoneyAccount
	movements map[int64]Movement
	invoices  map[int64]accounts.Party
	incoming  map[int64]accounts.Party
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		Store:     ledgertest.NewStore(),
		holdings:  map[int64]MoneyAccount{},
		movements: map[int64]Movement{},
		invoices:  map[int64]accounts.Party{},
		incoming:  map[int64]accounts.Party{},
	}
}

func (m *memoryRepo) addHolding(a MoneyAccount) MoneyAccount {
	m.holdings[a.ID] = a
	return a
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	restore := m.Checkpoint()
	holdings := cloneMap(m.holdings)
	movements := cloneMap(m.movements)
	nextID := m.nextID
	if err := fn(ctx, m); err != nil {
		restore()
		m.holdings = holdings
		m.movements = movements
		m.nextID = nextID
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memoryRepo) GetMoneyAccount(_ context.Context, id int64) (MoneyAccount, error) {
	a, ok := m.holdings[id]
	if !ok {
		return MoneyAccount{}, ErrMoneyAccountNotFound
	}
	return a, nil
}

func (m *memoryRepo) LockMoneyAccount(ctx context.Context, id int64) (MoneyAccount, error) {
	return m.GetMoneyAccount(ctx, id)
}

func (m *memoryRepo) LinkMoneyAccountLedger(_ context.Context, moneyAccountID, ledgerAccountID int64) error {
	a, ok := m.holdings[moneyAccountID]
	if !ok {
		return ErrMoneyAccountNotFound
	}
	a.LedgerAccountID = &ledgerAccountID
	m.holdings[moneyAccountID] = a
	return nil
}

func (m *memoryRepo) MovementTotals(_ context.Context, moneyAccountID int64, before *time.Time) (decimal.Decimal, decimal.Decimal, error) {
	in, out := decimal.Zero, decimal.Zero
	for _, mv := range m.movements {
		if mv.MoneyAccountID != moneyAccountID || (before != nil && !mv.Date.Before(*before)) {
			continue
		}
		if mv.Direction == DirectionIn {
			in = in.Add(mv.Amount)
		} else {
			out = out.Add(mv.Amount)
		}
	}
	return in, out, nil
}

func (m *memoryRepo) ListMovements(_ context.Context, moneyAccountID int64, from, to time.Time) ([]Movement, error) {
	var out []Movement
	for _, mv := range m.movements {
		if mv.MoneyAccountID == moneyAccountID && !mv.Date.Before(from) && mv.Date.Before(to) {
			out = append(out, mv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (m *memoryRepo) InsertMovement(_ context.Context, mv Movement) (Movement, error) {
	for _, existing := range m.movements {
		if existing.CompanyID == mv.CompanyID && existing.VoucherRef == mv.VoucherRef {
			return Movement{}, ErrVoucherExists
		}
	}
	m.nextID++
	mv.ID = m.nextID
	m.movements[mv.ID] = mv
	return mv, nil
}

func (m *memoryRepo) SetMovementJournal(_ context.Context, movementIDs []int64, entryID int64) error {
	for _, id := range movementIDs {
		mv := m.movements[id]
		jid := entryID
		mv.JournalEntryID = &jid
		m.movements[id] = mv
	}
	return nil
}

func (m *memoryRepo) InvoiceParty(_ context.Context, invoiceID int64) (accounts.Party, error) {
	p, ok := m.invoices[invoiceID]
	if !ok {
		return accounts.Party{}, ErrInvoiceNotFound
	}
	return p, nil
}

func (m *memoryRepo) IncomingInvoiceParty(_ context.Context, incomingInvoiceID int64) (accounts.Party, error) {
	p, ok := m.incoming[incomingInvoiceID]
	if !ok {
		return accounts.Party{}, ErrInvoiceNotFound
	}
	return p, nil
}
