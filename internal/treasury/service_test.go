package treasury

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type kindCounter map[string]int

func (k kindCounter) ObserveMovement(kind string) { k[kind]++ }

func newFixture(t *testing.T) (*Service, *memoryRepo, *shared.MemoryAuditRecorder) {
	t.Helper()
	repo := newMemoryRepo()
	repo.addHolding(MoneyAccount{ID: 1, CompanyID: 1, Type: accounts.MoneyAccountCash, Name: "Till", Currency: "MAD", OpeningBalance: dec("100")})
	repo.addHolding(MoneyAccount{ID: 2, CompanyID: 1, Type: accounts.MoneyAccountBank, Name: "Main bank", Currency: "MAD"})
	repo.addHolding(MoneyAccount{ID: 3, CompanyID: 2, Type: accounts.MoneyAccountBank, Name: "Other company", Currency: "MAD"})
	audit := &shared.MemoryAuditRecorder{}
	svc := NewService(repo, nil, nil, audit, nil)
	svc.WithNow(func() time.Time { return day })
	return svc, repo, audit
}

func movement(kind Kind, dir Direction, amount string) CreateMovementInput {
	return CreateMovementInput{
		CompanyID:      1,
		MoneyAccountID: 1,
		Date:           day,
		Amount:         dec(amount),
		Direction:      dir,
		Kind:           kind,
		CreatedBy:      9,
	}
}

func legFor(t *testing.T, legs []ledger.Leg, accountID int64) ledger.Leg {
	t.Helper()
	for _, leg := range legs {
		if leg.AccountID == accountID {
			return leg
		}
	}
	t.Fatalf("no leg on account %d", accountID)
	return ledger.Leg{}
}

func TestCashPurchaseWithVATBreakdown(t *testing.T) {
	svc, repo, audit := newFixture(t)
	in := movement(KindCashPurchase, DirectionOut, "120")
	in.MoneyAccountID = 2
	in.CounterpartAccount = "606100"
	in.VATBreakdown = []VATSegment{{Rate: dec("0.20"), Base: dec("100")}}

	result, err := svc.CreateMovement(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, result.Journal)
	require.Equal(t, "MVT-000001", result.Movement.VoucherRef)
	require.Equal(t, "JE-000001", result.Journal.Number)
	require.Equal(t, ledger.SourceMoneyMovement, result.Journal.SourceType)
	require.Equal(t, MovementSourceID(result.Movement.ID), result.Journal.SourceID)
	require.Len(t, result.Journal.Legs, 3)

	expense, ok := repo.AccountByNumber(1, "606100")
	require.True(t, ok)
	vat, ok := repo.AccountByNumber(1, accounts.NumberVATDeductible)
	require.True(t, ok)
	bank, ok := repo.AccountByNumber(1, "521100")
	require.True(t, ok)

	require.Equal(t, ledger.Debit, legFor(t, result.Journal.Legs, expense.ID).Direction)
	require.True(t, legFor(t, result.Journal.Legs, expense.ID).Amount.Equal(dec("100")))
	require.Equal(t, ledger.Debit, legFor(t, result.Journal.Legs, vat.ID).Direction)
	require.True(t, legFor(t, result.Journal.Legs, vat.ID).Amount.Equal(dec("20")))
	require.Equal(t, ledger.Credit, legFor(t, result.Journal.Legs, bank.ID).Direction)
	require.True(t, legFor(t, result.Journal.Legs, bank.ID).Amount.Equal(dec("120")))
	require.True(t, ledger.ComputeDebitCredit(result.Journal.Legs).Difference().IsZero())

	holding, err := repo.GetMoneyAccount(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, bank.ID, *holding.LedgerAccountID)
	require.Len(t, audit.Logs, 1)
	require.Equal(t, "treasury.movement", audit.Logs[0].Action)
}

func TestVATBreakdownMismatchPersistsNothing(t *testing.T) {
	svc, repo, _ := newFixture(t)
	in := movement(KindCashPurchase, DirectionOut, "100")
	in.CounterpartAccount = "606100"
	in.VATBreakdown = []VATSegment{{Rate: dec("0.20"), Base: dec("100")}}

	_, err := svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrVATBreakdownMismatch)
	require.ErrorIs(t, err, shared.ErrInvariant)

	in.Amount = dec("120.01")
	_, err = svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrVATBreakdownMismatch, "a one cent drift is rejected")

	require.Empty(t, repo.movements)
	require.Empty(t, repo.Legs())
	require.Empty(t, repo.Journals())
	require.Empty(t, repo.Accounts())
}

func TestForcedDirectionMismatchPersistsNothing(t *testing.T) {
	svc, repo, _ := newFixture(t)
	cases := []CreateMovementInput{
		movement(KindClientReceipt, DirectionOut, "10"),
		movement(KindSupplierPayment, DirectionIn, "10"),
		movement(KindCashPurchase, DirectionIn, "10"),
		movement(KindAssociateContribution, DirectionOut, "10"),
		movement(KindAssociateWithdrawal, DirectionIn, "10"),
		movement(KindSalaryPayment, DirectionIn, "10"),
		movement(KindSalaryAdvance, DirectionIn, "10"),
	}
	for _, in := range cases {
		_, err := svc.CreateMovement(context.Background(), in)
		require.ErrorIs(t, err, ErrDirectionMismatch, string(in.Kind))
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	require.Empty(t, repo.movements)
	require.Empty(t, repo.Legs())
}

func TestCreateMovementValidatesShape(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.CreateMovement(context.Background(), movement(KindOther, DirectionIn, "0"))
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.CreateMovement(context.Background(), movement(KindOther, "SIDEWAYS", "5"))
	require.ErrorIs(t, err, ErrInvalidDirection)

	_, err = svc.CreateMovement(context.Background(), movement("GIFT", DirectionIn, "5"))
	require.ErrorIs(t, err, ErrUnknownKind)

	in := movement(KindCashPurchase, DirectionOut, "5")
	in.VATBreakdown = []VATSegment{{Rate: dec("-0.1"), Base: dec("5")}}
	_, err = svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrNegativeVAT)

	in = movement(KindVATPayment, DirectionOut, "5")
	in.VATBreakdown = []VATSegment{{Rate: dec("0.1"), Base: dec("5")}}
	_, err = svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrVATNotApplicable)
}

func TestCashGuardScenario(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()

	contribution := movement(KindAssociateContribution, DirectionIn, "50")
	contribution.CounterpartAccount = "455100"
	_, err := svc.CreateMovement(ctx, contribution)
	require.NoError(t, err)

	advance := movement(KindSalaryAdvance, DirectionOut, "30")
	advance.CounterpartAccount = "425000"
	_, err = svc.CreateMovement(ctx, advance)
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, 1, day)
	require.NoError(t, err)
	require.True(t, balance.Balance.Equal(dec("120")), balance.Balance.String())

	legsBefore := len(repo.Legs())
	tooMuch := movement(KindSalaryAdvance, DirectionOut, "150")
	tooMuch.CounterpartAccount = "425000"
	_, err = svc.CreateMovement(ctx, tooMuch)
	require.ErrorIs(t, err, ErrInsufficientCashBalance)
	require.Len(t, repo.movements, 2)
	require.Len(t, repo.Legs(), legsBefore)

	exact := movement(KindSalaryAdvance, DirectionOut, "120.004")
	exact.CounterpartAccount = "425000"
	result, err := svc.CreateMovement(ctx, exact)
	require.NoError(t, err, "the guard checks the rounded amount")
	require.Equal(t, "120.00", result.Movement.Amount.StringFixed(2))
	require.True(t, result.Movement.Amount.Equal(dec("120")))

	_, err = svc.CreateMovement(ctx, movement(KindOther, DirectionIn, "0.004"))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestBankOutflowIsNotGuarded(t *testing.T) {
	svc, _, _ := newFixture(t)
	in := movement(KindTaxPayment, DirectionOut, "5000")
	in.MoneyAccountID = 2
	in.CounterpartAccount = "445500"
	result, err := svc.CreateMovement(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, result.Journal)
}

func TestClassFourCounterpart(t *testing.T) {
	svc, repo, _ := newFixture(t)
	in := movement(KindSalaryPayment, DirectionOut, "10")
	in.CounterpartAccount = "641000"
	_, err := svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidCounterpartClass)
	require.Empty(t, repo.movements)

	in.CounterpartAccount = ""
	_, err = svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrCounterpartRequired)

	in.CounterpartAccount = "421000"
	result, err := svc.CreateMovement(context.Background(), in)
	require.NoError(t, err)
	payable, ok := repo.AccountByNumber(1, "421000")
	require.True(t, ok)
	require.Equal(t, ledger.Debit, legFor(t, result.Journal.Legs, payable.ID).Direction)
}

func TestClientReceiptCreditsReceivable(t *testing.T) {
	svc, repo, _ := newFixture(t)
	repo.invoices[77] = accounts.Party{Kind: accounts.PartyClient, ID: 12, Name: "Atlas"}
	invoiceID := int64(77)
	in := movement(KindClientReceipt, DirectionIn, "300")
	in.MoneyAccountID = 2
	in.InvoiceID = &invoiceID

	result, err := svc.CreateMovement(context.Background(), in)
	require.NoError(t, err)
	receivable, ok := repo.AccountByNumber(1, "41100012")
	require.True(t, ok)
	leg := legFor(t, result.Journal.Legs, receivable.ID)
	require.Equal(t, ledger.Credit, leg.Direction)
	require.Equal(t, &invoiceID, leg.InvoiceID)

	missing := int64(78)
	in.InvoiceID = &missing
	_, err = svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestSupplierPaymentDebitsPayable(t *testing.T) {
	svc, repo, _ := newFixture(t)
	repo.incoming[5] = accounts.Party{Kind: accounts.PartySupplier, ID: 3, Name: "Maroc Papier"}
	id := int64(5)
	in := movement(KindSupplierPayment, DirectionOut, "80")
	in.MoneyAccountID = 2
	in.IncomingInvoiceID = &id

	result, err := svc.CreateMovement(context.Background(), in)
	require.NoError(t, err)
	payable, ok := repo.AccountByNumber(1, "40100003")
	require.True(t, ok)
	require.Equal(t, ledger.Debit, legFor(t, result.Journal.Legs, payable.ID).Direction)

	in.IncomingInvoiceID = nil
	_, err = svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrInvoiceRequired)
}

func TestMovementWithoutCounterpartStaysPending(t *testing.T) {
	svc, repo, _ := newFixture(t)
	in := movement(KindTransfer, DirectionIn, "40")
	in.MoneyAccountID = 2
	result, err := svc.CreateMovement(context.Background(), in)
	require.NoError(t, err)
	require.Nil(t, result.Journal)
	require.Len(t, result.PendingLegs, 1)
	require.Nil(t, result.PendingLegs[0].JournalEntryID)
	require.Equal(t, ledger.Debit, result.PendingLegs[0].Direction)
	require.Empty(t, repo.Journals())

	other := movement(KindOther, DirectionOut, "10")
	other.MoneyAccountID = 2
	result, err = svc.CreateMovement(context.Background(), other)
	require.NoError(t, err)
	require.Nil(t, result.Journal)
	require.Len(t, result.PendingLegs, 1)
}

func TestSuppliedVoucherMustBeUnique(t *testing.T) {
	svc, repo, _ := newFixture(t)
	in := movement(KindOther, DirectionIn, "10")
	in.VoucherRef = "BQ-17"
	in.CounterpartAccount = "758000"
	_, err := svc.CreateMovement(context.Background(), in)
	require.NoError(t, err)
	_, err = svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrVoucherExists)
	require.Len(t, repo.movements, 1)
}

func TestCreateMovementRejectsForeignHolding(t *testing.T) {
	svc, _, _ := newFixture(t)
	in := movement(KindOther, DirectionIn, "10")
	in.MoneyAccountID = 3
	_, err := svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrCompanyMismatch)

	in.MoneyAccountID = 99
	_, err = svc.CreateMovement(context.Background(), in)
	require.ErrorIs(t, err, ErrMoneyAccountNotFound)
}

func TestCreateTransferPostsPairedMovements(t *testing.T) {
	svc, repo, _ := newFixture(t)
	observer := kindCounter{}
	svc.WithObserver(observer)

	deposit := movement(KindOther, DirectionIn, "300")
	deposit.MoneyAccountID = 2
	deposit.CounterpartAccount = "758000"
	_, err := svc.CreateMovement(context.Background(), deposit)
	require.NoError(t, err)

	result, err := svc.CreateTransfer(context.Background(), CreateTransferInput{
		CompanyID: 1, FromAccountID: 2, ToAccountID: 1, Date: day, Amount: dec("250"), CreatedBy: 9,
	})
	require.NoError(t, err)
	require.Equal(t, DirectionOut, result.Out.Direction)
	require.Equal(t, DirectionIn, result.In.Direction)
	require.Equal(t, "MVT-000002-1", result.Out.VoucherRef)
	require.Equal(t, "MVT-000002-2", result.In.VoucherRef)
	require.Equal(t, ledger.SourceTransfer, result.Journal.SourceType)
	require.Len(t, result.Journal.Legs, 2)

	bank, _ := repo.AccountByNumber(1, "521100")
	till, _ := repo.AccountByNumber(1, "571100")
	src := legFor(t, result.Journal.Legs, bank.ID)
	dst := legFor(t, result.Journal.Legs, till.ID)
	require.Equal(t, ledger.Credit, src.Direction)
	require.True(t, src.Amount.Equal(dec("250")))
	require.Equal(t, ledger.Debit, dst.Direction)
	require.True(t, dst.Amount.Equal(dec("250")))
	require.Equal(t, result.Journal.ID, *repo.movements[result.Out.ID].JournalEntryID)
	require.Equal(t, result.Journal.ID, *repo.movements[result.In.ID].JournalEntryID)
	require.Equal(t, 3, observer[string(KindTransfer)]+observer[string(KindOther)])

	balance, err := svc.Balance(context.Background(), 1, day)
	require.NoError(t, err)
	require.True(t, balance.Balance.Equal(dec("350")))
}

func TestCreateTransferGuards(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()

	_, err := svc.CreateTransfer(ctx, CreateTransferInput{CompanyID: 1, FromAccountID: 1, ToAccountID: 1, Date: day, Amount: dec("1")})
	require.ErrorIs(t, err, ErrSameAccount)

	_, err = svc.CreateTransfer(ctx, CreateTransferInput{CompanyID: 1, FromAccountID: 1, ToAccountID: 3, Date: day, Amount: dec("1")})
	require.ErrorIs(t, err, ErrCompanyMismatch)

	_, err = svc.CreateTransfer(ctx, CreateTransferInput{CompanyID: 1, FromAccountID: 1, ToAccountID: 2, Date: day, Amount: dec("100.01")})
	require.ErrorIs(t, err, ErrInsufficientCashBalance)
	require.Empty(t, repo.movements)
	require.Empty(t, repo.Legs())

	repo.addHolding(MoneyAccount{ID: 4, CompanyID: 1, Type: accounts.MoneyAccountBank, Name: "Euro", Currency: "EUR"})
	_, err = svc.CreateTransfer(ctx, CreateTransferInput{CompanyID: 1, FromAccountID: 2, ToAccountID: 4, Date: day, Amount: dec("1")})
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestLedgerReplaysOpeningBeforeWindow(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()
	early := movement(KindAssociateContribution, DirectionIn, "40")
	early.Date = day.AddDate(0, 0, -5)
	early.CounterpartAccount = "455100"
	_, err := svc.CreateMovement(ctx, early)
	require.NoError(t, err)

	out := movement(KindSalaryAdvance, DirectionOut, "25")
	out.CounterpartAccount = "425000"
	_, err = svc.CreateMovement(ctx, out)
	require.NoError(t, err)

	in := movement(KindAssociateContribution, DirectionIn, "5")
	in.Date = day.AddDate(0, 0, 1)
	in.CounterpartAccount = "455100"
	_, err = svc.CreateMovement(ctx, in)
	require.NoError(t, err)
	require.Len(t, repo.movements, 3)

	result, err := svc.Ledger(ctx, 1, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, result.Opening.Equal(dec("140")))
	require.Len(t, result.Lines, 2)
	require.True(t, result.Lines[0].Balance.Equal(dec("115")))
	require.True(t, result.Closing.Equal(dec("120")))

	_, err = svc.Ledger(ctx, 1, day, day.AddDate(0, 0, -1))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestKindTableCoversEveryKind(t *testing.T) {
	for _, kind := range Kinds() {
		_, err := ForcedDirection(kind)
		require.NoError(t, err, kind)
	}
	dir, err := ForcedDirection(KindVATPayment)
	require.NoError(t, err)
	require.Empty(t, dir)
}
