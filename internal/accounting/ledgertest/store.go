// Package ledgertest provides an in-memory ledger store for unit tests.
package ledgertest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
)

// Store implements the ledger, accounts and sequence transactional
// repositories in memory.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	accounts  map[int64]accounts.Account
	sequences map[string]int64
	legs      map[int64]ledger.Leg
	journals  map[int64]ledger.JournalEntry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		accounts:  map[int64]accounts.Account{},
		sequences: map[string]int64{},
		legs:      map[int64]ledger.Leg{},
		journals:  map[int64]ledger.JournalEntry{},
	}
}

// Checkpoint snapshots the store and returns a function restoring it, which
// emulates a transaction rollback.
func (s *Store) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	nextID := s.nextID
	accs := copyMap(s.accounts)
	seqs := copyMap(s.sequences)
	legs := copyMap(s.legs)
	journals := copyMap(s.journals)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nextID = nextID
		s.accounts = accs
		s.sequences = seqs
		s.legs = legs
		s.journals = journals
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// SeedAccount inserts an account and returns it.
func (s *Store) SeedAccount(companyID int64, number, label string) accounts.Account {
	acc, _ := s.InsertAccount(context.Background(), accounts.Account{CompanyID: companyID, Number: number, Label: label})
	return acc
}

// AccountByNumber returns the account with number, or false.
func (s *Store) AccountByNumber(companyID int64, number string) (accounts.Account, bool) {
	acc, err := s.FindAccountByNumber(context.Background(), companyID, number)
	return acc, err == nil
}

// Accounts returns every stored account ordered by number.
func (s *Store) Accounts() []accounts.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounts.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Journals returns every stored entry with its legs, ordered by id.
func (s *Store) Journals() []ledger.JournalEntry {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.journals))
	for id := range s.journals {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]ledger.JournalEntry, 0, len(ids))
	for _, id := range ids {
		entry, _ := s.GetJournalWithLegs(context.Background(), id)
		out = append(out, entry)
	}
	return out
}

// Legs returns every stored leg ordered by id.
func (s *Store) Legs() []ledger.Leg {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Leg, 0, len(s.legs))
	for _, leg := range s.legs {
		out = append(out, leg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AccountBalance returns debits minus credits posted on accountID, attached or not.
func (s *Store) AccountBalance(accountID int64) decimal.Decimal {
	balance := decimal.Zero
	for _, leg := range s.Legs() {
		if leg.AccountID != accountID {
			continue
		}
		if leg.Direction == ledger.Debit {
			balance = balance.Add(leg.Amount)
		} else {
			balance = balance.Sub(leg.Amount)
		}
	}
	return balance
}

func (s *Store) IncrementSequence(_ context.Context, companyID int64, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strconv.FormatInt(companyID, 10) + ":" + name
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *Store) GetAccount(_ context.Context, id int64) (accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	return acc, nil
}

func (s *Store) FindAccountByNumber(_ context.Context, companyID int64, number string) (accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.CompanyID == companyID && acc.Number == number {
			return acc, nil
		}
	}
	return accounts.Account{}, accounts.ErrAccountNotFound
}

func (s *Store) InsertAccount(_ context.Context, account accounts.Account) (accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.CompanyID == account.CompanyID && acc.Number == account.Number {
			return accounts.Account{}, accounts.ErrAccountExists
		}
	}
	account.ID = s.id()
	s.accounts[account.ID] = account
	return account, nil
}

func (s *Store) MaxAccountNumberWithPrefix(_ context.Context, companyID int64, prefix string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best string
	for _, acc := range s.accounts {
		if acc.CompanyID != companyID || len(acc.Number) != 6 || !strings.HasPrefix(acc.Number, prefix) {
			continue
		}
		if acc.Number > best {
			best = acc.Number
		}
	}
	return best, best != "", nil
}

func (s *Store) InsertJournalEntry(_ context.Context, entry ledger.JournalEntry) (ledger.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.id()
	entry.Legs = nil
	s.journals[entry.ID] = entry
	return entry, nil
}

func (s *Store) InsertLegs(_ context.Context, legs []ledger.Leg) ([]ledger.Leg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Leg, 0, len(legs))
	for _, leg := range legs {
		leg.ID = s.id()
		s.legs[leg.ID] = leg
		out = append(out, leg)
	}
	return out, nil
}

func (s *Store) GetLegs(_ context.Context, ids []int64) ([]ledger.Leg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Leg, 0, len(ids))
	for _, id := range ids {
		if leg, ok := s.legs[id]; ok {
			out = append(out, leg)
		}
	}
	return out, nil
}

func (s *Store) AttachLegs(_ context.Context, entryID int64, legIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range legIDs {
		leg, ok := s.legs[id]
		if !ok {
			return ledger.ErrLegNotFound
		}
		if leg.JournalEntryID != nil {
			return ledger.ErrLegAlreadyAttached
		}
	}
	for _, id := range legIDs {
		leg := s.legs[id]
		jid := entryID
		leg.JournalEntryID = &jid
		s.legs[id] = leg
	}
	return nil
}

func (s *Store) GetJournalWithLegs(_ context.Context, entryID int64) (ledger.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.journals[entryID]
	if !ok {
		return ledger.JournalEntry{}, ledger.ErrJournalNotFound
	}
	entry.Legs = s.attachedLegs(entryID)
	return entry, nil
}

func (s *Store) FindJournalBySource(ctx context.Context, companyID int64, sourceType string, sourceID uuid.UUID) (ledger.JournalEntry, error) {
	s.mu.Lock()
	var found int64
	for id, entry := range s.journals {
		if entry.CompanyID == companyID && entry.SourceType == sourceType && entry.SourceID == sourceID && id > found {
			found = id
		}
	}
	s.mu.Unlock()
	if found == 0 {
		return ledger.JournalEntry{}, ledger.ErrJournalNotFound
	}
	return s.GetJournalWithLegs(ctx, found)
}

// JournalTotals implements ledger.IntegrityReader.
func (s *Store) JournalTotals(_ context.Context) ([]ledger.UnbalancedJournal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.UnbalancedJournal, 0, len(s.journals))
	for id, entry := range s.journals {
		totals := ledger.ComputeDebitCredit(s.attachedLegs(id))
		out = append(out, ledger.UnbalancedJournal{
			ID: id, CompanyID: entry.CompanyID, Number: entry.Number,
			Debit: totals.Debit, Credit: totals.Credit,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CorruptLeg overwrites a stored leg, for integrity tests.
func (s *Store) CorruptLeg(leg ledger.Leg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legs[leg.ID] = leg
}

func (s *Store) attachedLegs(entryID int64) []ledger.Leg {
	var legs []ledger.Leg
	for _, leg := range s.legs {
		if leg.JournalEntryID != nil && *leg.JournalEntryID == entryID {
			legs = append(legs, leg)
		}
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].ID < legs[j].ID })
	return legs
}


var (
	_ ledger.TxRepository    = (*Store)(nil)
	_ accounts.TxRepository  = (*Store)(nil)
	_ ledger.IntegrityReader = (*Store)(nil)
)
