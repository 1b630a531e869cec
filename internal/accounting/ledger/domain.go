// Package ledger enforces the double-entry invariant and materializes journal
// entries from ledger legs.
package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// Direction is the side of a ledger leg.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Valid reports whether d is DEBIT or CREDIT.
func (d Direction) Valid() bool {
	return d == Debit || d == Credit
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// Leg kind tags.
const (
	KindTreasury    = "TREASURY"
	KindCounterpart = "COUNTERPART"
	KindVAT         = "VAT"
	KindTransfer    = "TRANSFER"
	KindPayroll     = "PAYROLL"
	KindManual      = "MANUAL"
)

// Journal source types.
const (
	SourceMoneyMovement   = "MONEY_MOVEMENT"
	SourceTransfer        = "TRANSFER"
	SourcePayroll         = "PAYROLL"
	SourcePayrollReversal = "PAYROLL_REVERSAL"
	SourceManual          = "MANUAL"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusPosted JournalStatus = "POSTED"
)

// Leg is one debit or credit row against one account. JournalEntryID stays nil
// until the leg is attached to a journal entry.
type Leg struct {
	ID                int64           `json:"id"`
	CompanyID         int64           `json:"company_id"`
	Date              time.Time       `json:"date"`
	Amount            decimal.Decimal `json:"amount"`
	Direction         Direction       `json:"direction"`
	Kind              string          `json:"kind"`
	AccountID         int64           `json:"account_id"`
	Label             string          `json:"label,omitempty"`
	InvoiceID         *int64          `json:"invoice_id,omitempty"`
	IncomingInvoiceID *int64          `json:"incoming_invoice_id,omitempty"`
	MovementID        *int64          `json:"movement_id,omitempty"`
	CostCenterID      *int64          `json:"cost_center_id,omitempty"`
	JournalEntryID    *int64          `json:"journal_entry_id,omitempty"`
}

// JournalEntry is a numbered, balanced group of legs recorded for one business event.
type JournalEntry struct {
	ID          int64         `json:"id"`
	CompanyID   int64         `json:"company_id"`
	Number      string        `json:"number"`
	Date        time.Time     `json:"date"`
	SourceType  string        `json:"source_type"`
	SourceID    uuid.UUID     `json:"source_id"`
	Description string        `json:"description"`
	Status      JournalStatus `json:"status"`
	PostedBy    int64         `json:"posted_by,omitempty"`
	PostedAt    time.Time     `json:"posted_at"`
	Legs        []Leg         `json:"legs,omitempty"`
}

// EntryInput groups the header fields of a journal entry to create.
type EntryInput struct {
	CompanyID       int64
	Date            time.Time
	SourceType      string
	SourceID        uuid.UUID
	Description     string
	PostedBy        int64
	AllowUnbalanced bool
}

var (
	// ErrEmptyJournal indicates a journal without legs.
	ErrEmptyJournal = shared.Classify(shared.ErrValidation, errors.New("ledger: journal requires at least one leg"))
	// ErrUnbalanced indicates debit != credit beyond tolerance.
	ErrUnbalanced = shared.Classify(shared.ErrInvariant, errors.New("ledger: journal legs must balance"))
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = shared.Classify(shared.ErrNotFound, errors.New("ledger: journal entry not found"))
	// ErrLegNotFound indicates a leg id that does not exist.
	ErrLegNotFound = shared.Classify(shared.ErrNotFound, errors.New("ledger: leg not found"))
	// ErrLegAlreadyAttached indicates a leg already belongs to a journal entry.
	ErrLegAlreadyAttached = shared.Classify(shared.ErrState, errors.New("ledger: leg already attached to a journal entry"))
	// ErrCompanyMismatch indicates legs spanning several companies.
	ErrCompanyMismatch = shared.Classify(shared.ErrInvariant, errors.New("ledger: legs belong to another company"))
)

// Validate ensures the header is usable.
func (in EntryInput) Validate() error {
	if in.CompanyID == 0 {
		return shared.Invalid("ledger: company required")
	}
	if in.Date.IsZero() {
		return shared.Invalid("ledger: date required")
	}
	if strings.TrimSpace(in.SourceType) == "" {
		return shared.Invalid("ledger: source type required")
	}
	if in.SourceID == uuid.Nil {
		return shared.Invalid("ledger: source id required")
	}
	return nil
}

// validateLeg checks one leg before it is persisted.
func validateLeg(idx int, leg Leg) error {
	if leg.AccountID == 0 {
		return shared.Invalid("ledger: leg " + itoa(idx) + " missing account")
	}
	if !leg.Direction.Valid() {
		return shared.Invalid("ledger: leg " + itoa(idx) + " has invalid direction")
	}
	if !leg.Amount.IsPositive() {
		return shared.Invalid("ledger: leg " + itoa(idx) + " amount must be positive")
	}
	return nil
}

// Totals holds debit and credit sums.
type Totals struct {
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
}

// ComputeDebitCredit sums legs by direction.
func ComputeDebitCredit(legs []Leg) Totals {
	totals := Totals{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, leg := range legs {
		switch leg.Direction {
		case Debit:
			totals.Debit = totals.Debit.Add(leg.Amount)
		case Credit:
			totals.Credit = totals.Credit.Add(leg.Amount)
		}
	}
	return totals
}

// Difference returns debit minus credit.
func (t Totals) Difference() decimal.Decimal {
	return t.Debit.Sub(t.Credit)
}

// Balanced reports whether |debit-credit| <= 0.01.
func (t Totals) Balanced() bool {
	return shared.WithinTolerance(t.Debit, t.Credit)
}
