package ledger

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Batch is an in-memory draft of legs committed as one journal entry.
type Batch struct {
	companyID int64
	date      time.Time
	legs      []Leg
}

// LegOption decorates a leg added to a batch.
type LegOption func(*Leg)

// WithCostCenter links the leg to a cost center.
func WithCostCenter(id int64) LegOption {
	return func(l *Leg) {
		if id != 0 {
			l.CostCenterID = &id
		}
	}
}

// WithMovement links the leg to a money movement.
func WithMovement(id int64) LegOption {
	return func(l *Leg) { l.MovementID = &id }
}

// WithInvoice links the leg to a customer invoice.
func WithInvoice(id int64) LegOption {
	return func(l *Leg) { l.InvoiceID = &id }
}

// WithIncomingInvoice links the leg to a supplier invoice.
func WithIncomingInvoice(id int64) LegOption {
	return func(l *Leg) { l.IncomingInvoiceID = &id }
}

// WithLabel sets the leg label.
func WithLabel(label string) LegOption {
	return func(l *Leg) { l.Label = label }
}

// NewBatch starts an empty draft for companyID dated date.
func NewBatch(companyID int64, date time.Time) *Batch {
	return &Batch{companyID: companyID, date: date}
}

// Add appends leg. Zero amounts are skipped and negative amounts flip the direction.
func (b *Batch) Add(leg Leg) {
	if leg.Amount.IsZero() {
		return
	}
	if leg.Amount.IsNegative() {
		leg.Amount = leg.Amount.Neg()
		leg.Direction = leg.Direction.Opposite()
	}
	if leg.CompanyID == 0 {
		leg.CompanyID = b.companyID
	}
	if leg.Date.IsZero() {
		leg.Date = b.date
	}
	b.legs = append(b.legs, leg)
}

// Debit appends a debit leg.
func (b *Batch) Debit(accountID int64, amount decimal.Decimal, kind string, opts ...LegOption) {
	b.add(Debit, accountID, amount, kind, opts)
}

// Credit appends a credit leg.
func (b *Batch) Credit(accountID int64, amount decimal.Decimal, kind string, opts ...LegOption) {
	b.add(Credit, accountID, amount, kind, opts)
}

func (b *Batch) add(dir Direction, accountID int64, amount decimal.Decimal, kind string, opts []LegOption) {
	leg := Leg{AccountID: accountID, Amount: amount, Direction: dir, Kind: kind}
	for _, opt := range opts {
		opt(&leg)
	}
	b.Add(leg)
}

// Legs returns a copy of the drafted legs.
func (b *Batch) Legs() []Leg {
	return append([]Leg(nil), b.legs...)
}

// Len returns the number of drafted legs.
func (b *Batch) Len() int {
	return len(b.legs)
}

// Totals sums the drafted legs.
func (b *Batch) Totals() Totals {
	return ComputeDebitCredit(b.legs)
}

// CompanyID returns the company the batch belongs to.
func (b *Batch) CompanyID() int64 {
	return b.companyID
}

// Mirror drafts a copy of legs with every direction flipped, keeping accounts,
// amounts and links.
func Mirror(companyID int64, date time.Time, legs []Leg) *Batch {
	batch := NewBatch(companyID, date)
	for _, leg := range legs {
		mirrored := leg
		mirrored.ID = 0
		mirrored.JournalEntryID = nil
		mirrored.Date = date
		mirrored.Direction = leg.Direction.Opposite()
		batch.Add(mirrored)
	}
	return batch
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
