// Package treasury records bank and cash movements and translates them into
// balanced ledger postings.
package treasury

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// Direction is the cash flow sense of a movement.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Valid reports whether d is IN or OUT.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Kind classifies a movement and selects its counterpart rule.
type Kind string

const (
	KindClientReceipt         Kind = "CLIENT_RECEIPT"
	KindSupplierPayment       Kind = "SUPPLIER_PAYMENT"
	KindCashPurchase          Kind = "CASH_PURCHASE"
	KindVATPayment            Kind = "VAT_PAYMENT"
	KindTaxPayment            Kind = "TAX_PAYMENT"
	KindTransfer              Kind = "TRANSFER"
	KindAssociateContribution Kind = "ASSOCIATE_CONTRIBUTION"
	KindAssociateWithdrawal   Kind = "ASSOCIATE_WITHDRAWAL"
	KindSalaryPayment         Kind = "SALARY_PAYMENT"
	KindSalaryAdvance         Kind = "SALARY_ADVANCE"
	KindOther                 Kind = "OTHER"
)

// VoucherPrefix prefixes generated voucher references.
const VoucherPrefix = "MVT"

// MoneyAccount is a bank or cash holding.
type MoneyAccount struct {
	ID              int64                     `json:"id"`
	CompanyID       int64                     `json:"company_id"`
	Type            accounts.MoneyAccountType `json:"type"`
	Name            string                    `json:"name"`
	Currency        string                    `json:"currency"`
	OpeningBalance  decimal.Decimal           `json:"opening_balance"`
	LedgerAccountID *int64                    `json:"ledger_account_id,omitempty"`
}

// Ref returns what the account resolver needs to know about the holding.
func (a MoneyAccount) Ref() accounts.MoneyAccountRef {
	return accounts.MoneyAccountRef{
		ID:              a.ID,
		CompanyID:       a.CompanyID,
		Type:            a.Type,
		Name:            a.Name,
		LedgerAccountID: a.LedgerAccountID,
	}
}

// VATSegment is one (rate, base) line of a purchase VAT breakdown.
type VATSegment struct {
	Rate decimal.Decimal `json:"rate"`
	Base decimal.Decimal `json:"base"`
}

// Tax returns round2(base x rate).
func (s VATSegment) Tax() decimal.Decimal {
	return shared.Round2(s.Base.Mul(s.Rate))
}

// Movement is one cash or bank event.
type Movement struct {
	ID                 int64           `json:"id"`
	CompanyID          int64           `json:"company_id"`
	MoneyAccountID     int64           `json:"money_account_id"`
	Date               time.Time       `json:"date"`
	Amount             decimal.Decimal `json:"amount"`
	Direction          Direction       `json:"direction"`
	Kind               Kind            `json:"kind"`
	VoucherRef         string          `json:"voucher_ref"`
	Description        string          `json:"description,omitempty"`
	InvoiceID          *int64          `json:"invoice_id,omitempty"`
	IncomingInvoiceID  *int64          `json:"incoming_invoice_id,omitempty"`
	CounterpartAccount string          `json:"counterpart_account,omitempty"`
	VATBreakdown       []VATSegment    `json:"vat_breakdown,omitempty"`
	JournalEntryID     *int64          `json:"journal_entry_id,omitempty"`
	CreatedBy          int64           `json:"created_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Signed returns the amount with OUT movements negated.
func (m Movement) Signed() decimal.Decimal {
	if m.Direction == DirectionOut {
		return m.Amount.Neg()
	}
	return m.Amount
}

// CreateMovementInput carries a movement to record.
type CreateMovementInput struct {
	CompanyID          int64           `json:"company_id" validate:"required,gt=0"`
	MoneyAccountID     int64           `json:"money_account_id" validate:"required,gt=0"`
	Date               time.Time       `json:"date" validate:"required"`
	Amount             decimal.Decimal `json:"amount"`
	Direction          Direction       `json:"direction" validate:"required,oneof=IN OUT"`
	Kind               Kind            `json:"kind" validate:"required"`
	VoucherRef         string          `json:"voucher_ref" validate:"max=64"`
	Description        string          `json:"description" validate:"max=255"`
	InvoiceID          *int64          `json:"invoice_id"`
	IncomingInvoiceID  *int64          `json:"incoming_invoice_id"`
	CounterpartAccount string          `json:"counterpart_account" validate:"omitempty,numeric,max=12"`
	VATBreakdown       []VATSegment    `json:"vat_breakdown"`
	CreatedBy          int64           `json:"created_by"`
}

// MovementResult is the outcome of CreateMovement. Journal is nil when the
// treasury leg was stored unattached, waiting for its pair.
type MovementResult struct {
	Movement    Movement             `json:"movement"`
	Journal     *ledger.JournalEntry `json:"journal,omitempty"`
	PendingLegs []ledger.Leg         `json:"pending_legs,omitempty"`
}

// CreateTransferInput moves funds between two holdings of one company.
type CreateTransferInput struct {
	CompanyID     int64           `json:"company_id" validate:"required,gt=0"`
	FromAccountID int64           `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID   int64           `json:"to_account_id" validate:"required,gt=0"`
	Date          time.Time       `json:"date" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	VoucherRef    string          `json:"voucher_ref" validate:"max=60"`
	Description   string          `json:"description" validate:"max=255"`
	CreatedBy     int64           `json:"created_by"`
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Out     Movement            `json:"out"`
	In      Movement            `json:"in"`
	Journal ledger.JournalEntry `json:"journal"`
}

// Balance is the running balance of a holding at a date.
type Balance struct {
	MoneyAccountID int64           `json:"money_account_id"`
	AsOf           time.Time       `json:"as_of"`
	Opening        decimal.Decimal `json:"opening"`
	In             decimal.Decimal `json:"in"`
	Out            decimal.Decimal `json:"out"`
	Balance        decimal.Decimal `json:"balance"`
}

// LedgerLine is a movement with the balance after it.
type LedgerLine struct {
	Movement Movement        `json:"movement"`
	Balance  decimal.Decimal `json:"balance"`
}

// AccountLedger lists a holding's movements over a window.
type AccountLedger struct {
	MoneyAccountID int64           `json:"money_account_id"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	Opening        decimal.Decimal `json:"opening"`
	Lines          []LedgerLine    `json:"lines"`
	Closing        decimal.Decimal `json:"closing"`
}

var (
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = shared.Classify(shared.ErrValidation, errors.New("treasury: amount must be positive"))
	// ErrInvalidDirection indicates a direction other than IN or OUT.
	ErrInvalidDirection = shared.Classify(shared.ErrValidation, errors.New("treasury: direction must be IN or OUT"))
	// ErrUnknownKind indicates a kind missing from the kind table.
	ErrUnknownKind = shared.Classify(shared.ErrValidation, errors.New("treasury: unknown movement kind"))
	// ErrDirectionMismatch indicates a forced-direction kind used the other way.
	ErrDirectionMismatch = shared.Classify(shared.ErrValidation, errors.New("treasury: direction does not match movement kind"))
	// ErrNegativeVAT indicates a VAT segment with a negative rate or base.
	ErrNegativeVAT = shared.Classify(shared.ErrValidation, errors.New("treasury: VAT segments must be non-negative"))
	// ErrCounterpartRequired indicates the kind needs a counterpart account number.
	ErrCounterpartRequired = shared.Classify(shared.ErrValidation, errors.New("treasury: counterpart account required"))
	// ErrInvoiceRequired indicates the kind needs a linked invoice.
	ErrInvoiceRequired = shared.Classify(shared.ErrValidation, errors.New("treasury: linked invoice required"))
	// ErrSameAccount indicates a transfer to the source account.
	ErrSameAccount = shared.Classify(shared.ErrValidation, errors.New("treasury: transfer accounts must differ"))
	// ErrCurrencyMismatch indicates a transfer across currencies.
	ErrCurrencyMismatch = shared.Classify(shared.ErrValidation, errors.New("treasury: transfer accounts use different currencies"))
	// ErrVATBreakdownMismatch indicates the breakdown does not add up to the amount.
	ErrVATBreakdownMismatch = shared.Classify(shared.ErrInvariant, errors.New("treasury: VAT breakdown does not match amount"))
	// ErrInvalidCounterpartClass indicates a counterpart outside the required account class.
	ErrInvalidCounterpartClass = shared.Classify(shared.ErrInvariant, errors.New("treasury: counterpart account must be a class 4 account"))
	// ErrInsufficientCashBalance indicates a cash outflow that would drive the balance negative.
	ErrInsufficientCashBalance = shared.Classify(shared.ErrInvariant, errors.New("treasury: insufficient cash balance"))
	// ErrCompanyMismatch indicates a holding of another company.
	ErrCompanyMismatch = shared.Classify(shared.ErrInvariant, errors.New("treasury: money account belongs to another company"))
	// ErrMissingLedgerAccount indicates a holding without a resolvable ledger account.
	ErrMissingLedgerAccount = shared.Classify(shared.ErrInvariant, errors.New("treasury: money account has no ledger account"))
	// ErrMoneyAccountNotFound indicates an unknown holding.
	ErrMoneyAccountNotFound = shared.Classify(shared.ErrNotFound, errors.New("treasury: money account not found"))
	// ErrInvoiceNotFound indicates an unknown linked invoice.
	ErrInvoiceNotFound = shared.Classify(shared.ErrNotFound, errors.New("treasury: invoice not found"))
	// ErrVoucherExists indicates a duplicate voucher reference.
	ErrVoucherExists = shared.Classify(shared.ErrConflict, errors.New("treasury: voucher reference already used"))
)
