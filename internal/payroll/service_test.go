package payroll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgerpay/internal/fx"
	"github.com/odyssey-erp/ledgerpay/internal/payroll/calc"
	"github.com/odyssey-erp/ledgerpay/internal/platform/lock"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

var clock = time.Date(2024, 4, 5, 9, 30, 0, 0, time.UTC)

type actionCounter map[string]int

func (a actionCounter) ObservePayroll(action string) { a[action]++ }

func newFixture(t *testing.T) (*Service, *memoryRepo, *shared.MemoryAuditRecorder) {
	t.Helper()
	repo := newMemoryRepo()
	for _, cc := range testCenters() {
		repo.centers[cc.ID] = cc
	}
	repo.employees[1] = Employee{ID: 1, CompanyID: 1, Name: "Amina", BaseSalary: dec("1000"), Active: true, Allocations: []CostShare{
		{CostCenterID: 10, Percent: dec("60")},
		{CostCenterID: 11, Percent: dec("40")},
	}}
	audit := repo.audit
	svc := NewService(repo, nil, nil, audit, nil)
	svc.WithNow(func() time.Time { return clock })
	return svc, repo, audit
}

func openPeriod(t *testing.T, svc *Service) Period {
	t.Helper()
	ctx := context.Background()
	period, err := svc.CreatePeriod(ctx, CreatePeriodInput{CompanyID: 1, Year: 2024, Month: 3, ActorID: 9})
	require.NoError(t, err)
	period, err = svc.OpenPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	return period
}

func lockedWithPayslips(t *testing.T, svc *Service) Period {
	t.Helper()
	ctx := context.Background()
	period := openPeriod(t, svc)
	_, err := svc.GeneratePayslips(ctx, period.ID)
	require.NoError(t, err)
	period, err = svc.LockPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	return period
}

func TestPeriodLifecycle(t *testing.T) {
	svc, _, audit := newFixture(t)
	ctx := context.Background()

	period, err := svc.CreatePeriod(ctx, CreatePeriodInput{CompanyID: 1, Year: 2024, Month: 3, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, PeriodDraft, period.Status)
	require.Equal(t, "2024-03", period.Label())
	require.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), period.End())

	_, err = svc.CreatePeriod(ctx, CreatePeriodInput{CompanyID: 1, Year: 2024, Month: 3})
	require.ErrorIs(t, err, ErrPeriodExists)
	_, err = svc.CreatePeriod(ctx, CreatePeriodInput{CompanyID: 1, Year: 2024, Month: 13})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.LockPeriod(ctx, period.ID, 9)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, err, shared.ErrState)

	period, err = svc.OpenPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	require.Equal(t, PeriodOpen, period.Status)
	period, err = svc.LockPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	require.Equal(t, PeriodLocked, period.Status)
	period, err = svc.ReopenPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	require.Equal(t, PeriodOpen, period.Status)

	_, err = svc.OpenPeriod(ctx, period.ID, 9)
	require.ErrorIs(t, err, ErrInvalidTransition)

	var actions []string
	for _, log := range audit.Logs {
		actions = append(actions, log.Action)
	}
	require.Equal(t, []string{"payroll.period.create", "payroll.period.open", "payroll.period.lock", "payroll.period.reopen"}, actions)
}

func TestGeneratePayslipsIsRepeatable(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()
	repo.employees[2] = Employee{ID: 2, CompanyID: 1, BaseSalary: dec("5000"), Active: false}
	period := openPeriod(t, svc)
	repo.attendance[slipKey{period.ID, 1}] = calc.Attendance{DaysWorked: dec("13"), WorkingDays: dec("26")}

	first, err := svc.GeneratePayslips(ctx, period.ID)
	require.NoError(t, err)
	require.Len(t, first.Payslips, 1, "inactive employees are skipped")
	require.True(t, dec("500").Equal(first.Payslips[0].Gross))
	require.Len(t, first.Payslips[0].Allocations, 2)

	repo.attendance[slipKey{period.ID, 1}] = calc.Attendance{DaysWorked: dec("26"), WorkingDays: dec("26")}
	second, err := svc.GeneratePayslips(ctx, period.ID)
	require.NoError(t, err)
	require.Equal(t, first.Payslips[0].ID, second.Payslips[0].ID)

	slips, err := svc.Payslips(ctx, period.ID)
	require.NoError(t, err)
	require.Len(t, slips, 1)
	require.True(t, dec("1000").Equal(slips[0].Gross))
}

func TestRegenerationDropsPayslipsOfDeactivatedEmployees(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()
	repo.employees[2] = Employee{ID: 2, CompanyID: 1, BaseSalary: dec("5000"), Active: true}
	period := openPeriod(t, svc)

	first, err := svc.GeneratePayslips(ctx, period.ID)
	require.NoError(t, err)
	require.Len(t, first.Payslips, 2)

	deactivated := repo.employees[2]
	deactivated.Active = false
	repo.employees[2] = deactivated
	second, err := svc.GeneratePayslips(ctx, period.ID)
	require.NoError(t, err)
	require.Len(t, second.Payslips, 1)
	require.Equal(t, int64(1), second.Removed)

	slips, err := svc.Payslips(ctx, period.ID)
	require.NoError(t, err)
	require.Len(t, slips, 1)
	require.Equal(t, int64(1), slips[0].EmployeeID)

	_, err = svc.LockPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	_, err = svc.PostPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	salary, ok := repo.AccountByNumber(1, "661100")
	require.True(t, ok)
	require.True(t, dec("1000").Equal(repo.AccountBalance(salary.ID)))
}

func TestGeneratePayslipsRequiresOpenPeriod(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	period, err := svc.CreatePeriod(ctx, CreatePeriodInput{CompanyID: 1, Year: 2024, Month: 3})
	require.NoError(t, err)

	_, err = svc.GeneratePayslips(ctx, period.ID)
	require.ErrorIs(t, err, ErrPeriodNotOpen)
	require.ErrorIs(t, err, shared.ErrState)
}

func TestGeneratePayslipsConvertsThroughFXRate(t *testing.T) {
	svc, repo, _ := newFixture(t)
	repo.employees[1] = Employee{ID: 1, CompanyID: 1, BaseSalary: dec("10000"), Active: true}
	svc.WithFX(fx.StaticSource{Quotes: []fx.Quote{
		{Base: "MAD", Quote: "EUR", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Rate: dec("2")},
		{Base: "MAD", Quote: "EUR", Date: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), Rate: dec("9")},
	}}, "MAD", "EUR")
	period := openPeriod(t, svc)

	result, err := svc.GeneratePayslips(context.Background(), period.ID)
	require.NoError(t, err)
	require.Equal(t, "2", result.FXRate)
	require.True(t, dec("2").Equal(result.Payslips[0].FXRate))
	var tax calc.Line
	for _, line := range result.Payslips[0].Lines {
		if line.Kind == calc.LineIncomeTax {
			tax = line
		}
	}
	require.True(t, dec("-1505.84").Equal(tax.Amount))
}

func TestPostPeriodSplitsSalaryExpense(t *testing.T) {
	svc, repo, audit := newFixture(t)
	observer := actionCounter{}
	svc.WithObserver(observer)
	period := lockedWithPayslips(t, svc)

	result, err := svc.PostPeriod(context.Background(), period.ID, 9)
	require.NoError(t, err)
	require.Equal(t, "JE-000001", result.JournalNumber)
	require.Equal(t, PeriodPosted, result.Period.Status)

	stored := repo.periods[period.ID]
	require.Equal(t, PeriodPosted, stored.Status)
	require.Equal(t, result.JournalID, *stored.JournalEntryID)

	journals := repo.Journals()
	require.Len(t, journals, 1)
	entry := journals[0]
	require.Equal(t, ledger.SourcePayroll, entry.SourceType)
	require.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), entry.Date)
	require.True(t, ledger.ComputeDebitCredit(entry.Legs).Balanced())

	salary, ok := repo.AccountByNumber(1, "661100")
	require.True(t, ok)
	split := map[int64]string{}
	for _, leg := range entry.Legs {
		if leg.AccountID == salary.ID {
			require.Equal(t, ledger.Debit, leg.Direction)
			split[*leg.CostCenterID] = leg.Amount.StringFixed(2)
		}
	}
	require.Equal(t, map[int64]string{10: "600.00", 11: "400.00"}, split)

	netPayable, ok := repo.AccountByNumber(1, "422000")
	require.True(t, ok)
	require.True(t, dec("-950").Equal(repo.AccountBalance(netPayable.ID)))

	require.Equal(t, 1, observer["post"])
	last := audit.Logs[len(audit.Logs)-1]
	require.Equal(t, "payroll.post", last.Action)
	require.Equal(t, "JE-000001", last.Meta["journal_number"])
}

func TestPostPeriodPreconditions(t *testing.T) {
	svc, repo, _ := newFixture(t)
	ctx := context.Background()
	period := openPeriod(t, svc)

	_, err := svc.PostPeriod(ctx, period.ID, 9)
	require.ErrorIs(t, err, ErrPeriodNotLocked)
	require.ErrorIs(t, err, shared.ErrState)

	_, err = svc.LockPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	_, err = svc.PostPeriod(ctx, period.ID, 9)
	require.ErrorIs(t, err, ErrNoPayslips)
	require.Empty(t, repo.Journals())
	require.Equal(t, PeriodLocked, repo.periods[period.ID].Status)
}

func TestPostPeriodWithoutBenefitMappingPersistsNothing(t *testing.T) {
	svc, repo, _ := newFixture(t)
	emp := repo.employees[1]
	emp.BenefitInKind = dec("150")
	repo.employees[1] = emp
	period := lockedWithPayslips(t, svc)

	_, err := svc.PostPeriod(context.Background(), period.ID, 9)
	require.ErrorIs(t, err, ErrMissingAccountMapping)
	require.ErrorIs(t, err, shared.ErrMissingConfiguration)
	require.Empty(t, repo.Journals())
	require.Empty(t, repo.Legs())
	require.Equal(t, PeriodLocked, repo.periods[period.ID].Status)

	maps := &mappings.MemoryRepository{Rows: []mappings.AccountMapping{
		{CompanyID: 1, Module: mappings.ModulePayroll, Key: AccountBenefitInKind, AccountNumber: "617400"},
	}}
	svc.settings = NewSettingsLoader(StaticSettings{}, maps, calc.DefaultConfig(), nil, nil)
	result, err := svc.PostPeriod(context.Background(), period.ID, 9)
	require.NoError(t, err)
	bik, ok := repo.AccountByNumber(1, "617400")
	require.True(t, ok)
	require.True(t, dec("150").Equal(repo.AccountBalance(bik.ID)))
	require.Equal(t, PeriodPosted, result.Period.Status)
}

func TestReversePeriodMirrorsOriginal(t *testing.T) {
	svc, repo, audit := newFixture(t)
	ctx := context.Background()
	period := lockedWithPayslips(t, svc)
	posted, err := svc.PostPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	original := repo.Journals()[0]

	reversed, err := svc.ReversePeriod(ctx, period.ID, 7)
	require.NoError(t, err)
	require.Equal(t, posted.JournalNumber, reversed.JournalNumber)
	require.Equal(t, "JE-000002", reversed.ReversedNumber)
	require.Equal(t, PeriodLocked, reversed.Period.Status)
	require.Nil(t, repo.periods[period.ID].JournalEntryID)

	journals := repo.Journals()
	require.Len(t, journals, 2)
	require.Equal(t, original, journals[0], "original entry is untouched")
	mirror := journals[1]
	require.Equal(t, ledger.SourcePayrollReversal, mirror.SourceType)
	require.Equal(t, original.SourceID, mirror.SourceID)
	require.Len(t, mirror.Legs, len(original.Legs))
	for i, leg := range original.Legs {
		got := mirror.Legs[i]
		require.Equal(t, leg.AccountID, got.AccountID)
		require.True(t, leg.Amount.Equal(got.Amount))
		require.Equal(t, leg.Direction.Opposite(), got.Direction)
		require.Equal(t, leg.CostCenterID, got.CostCenterID)
	}
	for _, leg := range append(original.Legs, mirror.Legs...) {
		require.True(t, repo.AccountBalance(leg.AccountID).IsZero())
	}

	last := audit.Logs[len(audit.Logs)-1]
	require.Equal(t, "payroll.reverse", last.Action)
	require.Equal(t, int64(7), last.ActorID)
	require.Equal(t, "JE-000001", last.Meta["journal_number"])
	require.Equal(t, "JE-000002", last.Meta["reversal_number"])

	_, err = svc.ReversePeriod(ctx, period.ID, 7)
	require.ErrorIs(t, err, ErrPeriodNotPosted)

	again, err := svc.PostPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	require.Equal(t, "JE-000003", again.JournalNumber)
}

func TestReversePeriodWithoutJournal(t *testing.T) {
	svc, repo, _ := newFixture(t)
	period := lockedWithPayslips(t, svc)
	p := repo.periods[period.ID]
	p.Status = PeriodPosted
	repo.periods[period.ID] = p

	_, err := svc.ReversePeriod(context.Background(), period.ID, 9)
	require.ErrorIs(t, err, ledger.ErrJournalNotFound)
	require.Equal(t, PeriodPosted, repo.periods[period.ID].Status)
}

func TestReversePeriodRollsBackWhenAuditFails(t *testing.T) {
	svc, repo, audit := newFixture(t)
	ctx := context.Background()
	period := lockedWithPayslips(t, svc)
	posted, err := svc.PostPeriod(ctx, period.ID, 9)
	require.NoError(t, err)
	logs := len(audit.Logs)

	repo.auditErr = errors.New("audit_logs unavailable")
	_, err = svc.ReversePeriod(ctx, period.ID, 7)
	require.ErrorIs(t, err, repo.auditErr)

	stored := repo.periods[period.ID]
	require.Equal(t, PeriodPosted, stored.Status)
	require.Equal(t, posted.JournalID, *stored.JournalEntryID)
	require.Len(t, repo.Journals(), 1)
	require.Len(t, audit.Logs, logs)

	repo.auditErr = nil
	reversed, err := svc.ReversePeriod(ctx, period.ID, 7)
	require.NoError(t, err)
	require.Equal(t, "JE-000002", reversed.ReversedNumber)
	last := audit.Logs[len(audit.Logs)-1]
	require.Equal(t, "payroll.reverse", last.Action)
	require.Equal(t, "JE-000002", last.Meta["reversal_number"])
}

func TestPostPeriodRollsBackWhenAuditFails(t *testing.T) {
	svc, repo, _ := newFixture(t)
	period := lockedWithPayslips(t, svc)
	repo.auditErr = errors.New("audit_logs unavailable")

	_, err := svc.PostPeriod(context.Background(), period.ID, 9)
	require.ErrorIs(t, err, repo.auditErr)
	require.Empty(t, repo.Journals())
	require.Empty(t, repo.Legs())
	require.Equal(t, PeriodLocked, repo.periods[period.ID].Status)
}

func TestPayrollRunsAreSerializedPerPeriod(t *testing.T) {
	svc, _, _ := newFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := lock.NewRedisLocker(rdb, time.Minute, nil)
	svc.WithLocker(locker)
	ctx := context.Background()
	period := openPeriod(t, svc)

	release, err := locker.Acquire(ctx, shared.PayrollPeriodLockKey(period.ID))
	require.NoError(t, err)
	_, err = svc.GeneratePayslips(ctx, period.ID)
	require.ErrorIs(t, err, lock.ErrBusy)
	_, err = svc.PostPeriod(ctx, period.ID, 9)
	require.ErrorIs(t, err, lock.ErrBusy)
	release()

	_, err = svc.GeneratePayslips(ctx, period.ID)
	require.NoError(t, err)
	require.False(t, mr.Exists(shared.PayrollPeriodLockKey(period.ID)))
}
