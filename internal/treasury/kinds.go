package treasury

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// ErrVATNotApplicable indicates a VAT breakdown on a kind that cannot carry one.
var ErrVATNotApplicable = shared.Classify(shared.ErrValidation, errors.New("treasury: VAT breakdown only applies to cash purchases"))

// counterpartFunc appends the counterpart legs of m to batch. side is the
// direction counterpart legs take, the opposite of the treasury leg.
type counterpartFunc func(ctx context.Context, p *poster, m Movement, side ledger.Direction, batch *ledger.Batch) error

// kindRule is the single source of truth for a kind: the direction it forces
// and the legs it posts.
type kindRule struct {
	forced      Direction
	vat         bool
	counterpart counterpartFunc
}

var kindTable = map[Kind]kindRule{
	KindClientReceipt:         {forced: DirectionIn, counterpart: clientReceipt},
	KindSupplierPayment:       {forced: DirectionOut, counterpart: supplierPayment},
	KindCashPurchase:          {forced: DirectionOut, vat: true, counterpart: cashPurchase},
	KindVATPayment:            {counterpart: requiredCounterpart},
	KindTaxPayment:            {counterpart: requiredCounterpart},
	KindTransfer:              {},
	KindAssociateContribution: {forced: DirectionIn, counterpart: classFourCounterpart},
	KindAssociateWithdrawal:   {forced: DirectionOut, counterpart: classFourCounterpart},
	KindSalaryPayment:         {forced: DirectionOut, counterpart: classFourCounterpart},
	KindSalaryAdvance:         {forced: DirectionOut, counterpart: classFourCounterpart},
	KindOther:                 {counterpart: optionalCounterpart},
}

// Kinds returns every supported kind.
func Kinds() []Kind {
	return []Kind{
		KindClientReceipt, KindSupplierPayment, KindCashPurchase, KindVATPayment, KindTaxPayment,
		KindTransfer, KindAssociateContribution, KindAssociateWithdrawal, KindSalaryPayment,
		KindSalaryAdvance, KindOther,
	}
}

// ForcedDirection returns the direction a kind imposes, or "" when free.
func ForcedDirection(kind Kind) (Direction, error) {
	rule, ok := kindTable[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return rule.forced, nil
}

// ValidateKind checks that direction and VAT breakdown fit the kind.
func ValidateKind(kind Kind, dir Direction, vat []VATSegment) error {
	rule, ok := kindTable[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if rule.forced != "" && rule.forced != dir {
		return fmt.Errorf("%w: %s must be %s", ErrDirectionMismatch, kind, rule.forced)
	}
	if len(vat) > 0 && !rule.vat {
		return ErrVATNotApplicable
	}
	return nil
}

// poster carries what counterpart rules need inside the movement transaction.
type poster struct {
	tx       TxRepository
	resolver *accounts.Resolver
}

func (p *poster) counterpartAccount(ctx context.Context, m Movement) (accounts.Account, error) {
	if m.CounterpartAccount == "" {
		return accounts.Account{}, fmt.Errorf("%w: %s", ErrCounterpartRequired, m.Kind)
	}
	return p.resolver.ResolveByNumber(ctx, p.tx, m.CompanyID, m.CounterpartAccount, "")
}

func clientReceipt(ctx context.Context, p *poster, m Movement, side ledger.Direction, batch *ledger.Batch) error {
	if m.InvoiceID == nil {
		if m.CounterpartAccount == "" {
			return ErrInvoiceRequired
		}
		return requiredCounterpart(ctx, p, m, side, batch)
	}
	party, err := p.tx.InvoiceParty(ctx, *m.InvoiceID)
	if err != nil {
		return err
	}
	account, err := p.resolver.ResolveThirdParty(ctx, p.tx, m.CompanyID, party)
	if err != nil {
		return err
	}
	batch.Add(ledger.Leg{AccountID: account.ID, Amount: m.Amount, Direction: side, Kind: ledger.KindCounterpart,
		MovementID: &m.ID, InvoiceID: m.InvoiceID, Label: m.VoucherRef})
	return nil
}

func supplierPayment(ctx context.Context, p *poster, m Movement, side ledger.Direction, batch *ledger.Batch) error {
	if m.IncomingInvoiceID == nil {
		if m.CounterpartAccount == "" {
			return ErrInvoiceRequired
		}
		return requiredCounterpart(ctx, p, m, side, batch)
	}
	party, err := p.tx.IncomingInvoiceParty(ctx, *m.IncomingInvoiceID)
	if err != nil {
		return err
	}
	account, err := p.resolver.ResolveThirdParty(ctx, p.tx, m.CompanyID, party)
	if err != nil {
		return err
	}
	batch.Add(ledger.Leg{AccountID: account.ID, Amount: m.Amount, Direction: side, Kind: ledger.KindCounterpart,
		MovementID: &m.ID, IncomingInvoiceID: m.IncomingInvoiceID, Label: m.VoucherRef})
	return nil
}

func cashPurchase(ctx context.Context, p *poster, m Movement, side ledger.Direction, batch *ledger.Batch) error {
	if len(m.VATBreakdown) == 0 {
		return requiredCounterpart(ctx, p, m, side, batch)
	}
	total := decimal.Zero
	for _, seg := range m.VATBreakdown {
		total = total.Add(shared.Round2(seg.Base)).Add(seg.Tax())
	}
	if !total.Equal(shared.Round2(m.Amount)) {
		return fmt.Errorf("%w: segments %s amount %s", ErrVATBreakdownMismatch, total.StringFixed(2), m.Amount.StringFixed(2))
	}
	expense, err := p.counterpartAccount(ctx, m)
	if err != nil {
		return err
	}
	var vatAccount accounts.Account
	for _, seg := range m.VATBreakdown {
		batch.Add(ledger.Leg{AccountID: expense.ID, Amount: shared.Round2(seg.Base), Direction: side,
			Kind: ledger.KindCounterpart, MovementID: &m.ID, Label: m.VoucherRef})
		if !seg.Rate.IsPositive() {
			continue
		}
		if vatAccount.ID == 0 {
			vatAccount, err = p.resolver.ResolveVATDeductible(ctx, p.tx, m.CompanyID)
			if err != nil {
				return err
			}
		}
		batch.Add(ledger.Leg{AccountID: vatAccount.ID, Amount: seg.Tax(), Direction: side,
			Kind: ledger.KindVAT, MovementID: &m.ID, Label: m.VoucherRef})
	}
	return nil
}

func requiredCounterpart(ctx context.Context, p *poster, m Movement, side ledger.Direction, batch *ledger.Batch) error {
	account, err := p.counterpartAccount(ctx, m)
	if err != nil {
		return err
	}
	batch.Add(ledger.Leg{AccountID: account.ID, Amount: m.Amount, Direction: side, Kind: ledger.KindCounterpart,
		MovementID: &m.ID, Label: m.VoucherRef})
	return nil
}

func classFourCounterpart(ctx context.Context, p *poster, m Movement, side ledger.Direction, batch *ledger.Batch) error {
	if m.CounterpartAccount == "" {
		return fmt.Errorf("%w: %s", ErrCounterpartRequired, m.Kind)
	}
	if accounts.ClassOf(m.CounterpartAccount) != '4' {
		return fmt.Errorf("%w: %s", ErrInvalidCounterpartClass, m.CounterpartAccount)
	}
	return requiredCounterpart(ctx, p, m, side, batch)
}

func optionalCounterpart(ctx context.Context, p *poster, m Movement, side ledger.Direction, batch *ledger.Batch) error {
	if m.CounterpartAccount == "" {
		return nil
	}
	return requiredCounterpart(ctx, p, m, side, batch)
}
