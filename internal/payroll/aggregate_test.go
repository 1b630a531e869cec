package payroll

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgerpay/internal/payroll/calc"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCenters() []CostCenter {
	return []CostCenter{
		{ID: 10, CompanyID: 1, Code: "OPS", Active: true},
		{ID: 11, CompanyID: 1, Code: "SALES", Active: true},
		{ID: 12, CompanyID: 1, Code: "RND", Active: true},
		{ID: 20, CompanyID: 1, Code: CostCenterNational, Active: true},
		{ID: 21, CompanyID: 1, Code: CostCenterExpatriate, Active: true},
		{ID: 30, CompanyID: 1, Code: "CLOSED", Active: false},
	}
}

func slipFor(t *testing.T, emp Employee, vars ...calc.Variable) Payslip {
	t.Helper()
	res, err := calc.Calculate(calc.DefaultConfig(), calc.Input{
		EmployeeID:    emp.ID,
		BaseSalary:    emp.BaseSalary,
		BenefitInKind: emp.BenefitInKind,
		Variables:     vars,
	})
	require.NoError(t, err)
	allocs, err := payslipAllocations(emp, res, newCenterIndex(testCenters()))
	require.NoError(t, err)
	return Payslip{
		PeriodID:    1,
		EmployeeID:  emp.ID,
		Gross:       res.Gross,
		Net:         res.Net,
		NetPayable:  res.NetPayable,
		FXRate:      res.FXRate,
		Lines:       res.Lines,
		Allocations: allocs,
	}
}

func expense(t *testing.T, agg Aggregation, code string, costCenterID int64) decimal.Decimal {
	t.Helper()
	for _, row := range agg.Expenses {
		if row.AccountCode != code {
			continue
		}
		if (costCenterID == 0 && row.CostCenterID == nil) || (row.CostCenterID != nil && *row.CostCenterID == costCenterID) {
			return row.Amount
		}
	}
	return decimal.Zero
}

func liability(agg Aggregation, code string) decimal.Decimal {
	for _, row := range agg.Liabilities {
		if row.AccountCode == code {
			return row.Amount
		}
	}
	return decimal.Zero
}

func TestAggregateSplitsSalaryAcrossCostCenters(t *testing.T) {
	emp := Employee{ID: 1, CompanyID: 1, BaseSalary: dec("1000"), Active: true, Allocations: []CostShare{
		{CostCenterID: 10, Percent: dec("60")},
		{CostCenterID: 11, Percent: dec("40")},
	}}
	agg, err := Aggregate([]Payslip{slipFor(t, emp)}, []Employee{emp}, testCenters(), DefaultAccounts())
	require.NoError(t, err)

	require.True(t, dec("600.00").Equal(expense(t, agg, AccountSalaryExpense, 10)))
	require.True(t, dec("400.00").Equal(expense(t, agg, AccountSalaryExpense, 11)))
	require.True(t, dec("1000.00").Equal(expense(t, agg, AccountSalaryExpense, 10).Add(expense(t, agg, AccountSalaryExpense, 11))))
	require.True(t, dec("30").Equal(expense(t, agg, AccountEmployerSocialExpense, 10)))
	require.True(t, dec("20").Equal(expense(t, agg, AccountEmployerSocialExpense, 11)))
	require.True(t, dec("950").Equal(liability(agg, AccountNetPayable)))
	require.True(t, dec("100").Equal(liability(agg, AccountSocialPayable)))
	require.True(t, agg.Debit().Equal(agg.Credit()))
}

func TestAggregateConservesAwkwardSplits(t *testing.T) {
	emp := Employee{ID: 1, CompanyID: 1, BaseSalary: dec("1000.01"), Active: true, Allocations: []CostShare{
		{CostCenterID: 10, Percent: dec("33.33")},
		{CostCenterID: 11, Percent: dec("33.33")},
		{CostCenterID: 12, Percent: dec("33.34")},
	}}
	agg, err := Aggregate([]Payslip{slipFor(t, emp)}, []Employee{emp}, testCenters(), DefaultAccounts())
	require.NoError(t, err)
	total := expense(t, agg, AccountSalaryExpense, 10).
		Add(expense(t, agg, AccountSalaryExpense, 11)).
		Add(expense(t, agg, AccountSalaryExpense, 12))
	require.True(t, dec("1000.01").Equal(total), total.String())
	require.True(t, agg.Debit().Equal(agg.Credit()))
}

func TestAggregateFallsBackToNationalityCenters(t *testing.T) {
	expat := Employee{ID: 1, CompanyID: 1, BaseSalary: dec("2000"), Expatriate: true, Active: true}
	partial := Employee{ID: 2, CompanyID: 1, BaseSalary: dec("1000"), Active: true, Allocations: []CostShare{
		{CostCenterID: 10, Percent: dec("50")},
		{CostCenterID: 30, Percent: dec("25")},
	}}
	slips := []Payslip{slipFor(t, expat), slipFor(t, partial)}
	agg, err := Aggregate(slips, []Employee{expat, partial}, testCenters(), DefaultAccounts())
	require.NoError(t, err)

	require.True(t, dec("2000").Equal(expense(t, agg, AccountSalaryExpense, 21)))
	require.True(t, dec("500").Equal(expense(t, agg, AccountSalaryExpense, 10)))
	require.True(t, dec("500").Equal(expense(t, agg, AccountSalaryExpense, 20)), "inactive center share goes to the residual")
	require.True(t, expense(t, agg, AccountSalaryExpense, 30).IsZero())
}

func TestAggregateKeepsDirectAllocations(t *testing.T) {
	cc := int64(11)
	emp := Employee{ID: 1, CompanyID: 1, BaseSalary: dec("1000"), Active: true, Allocations: []CostShare{
		{CostCenterID: 10, Percent: dec("100")},
	}}
	slip := slipFor(t, emp,
		calc.Variable{Code: "PRIME", Amount: dec("300"), CostCenterID: &cc},
		calc.Variable{Code: "TRANSPORT", Amount: dec("50")},
		calc.Variable{Code: "ADVANCE", Amount: dec("-80")},
	)
	agg, err := Aggregate([]Payslip{slip}, []Employee{emp}, testCenters(), DefaultAccounts())
	require.NoError(t, err)

	require.True(t, dec("300").Equal(expense(t, agg, AccountBonusExpense, 11)))
	require.True(t, dec("50").Equal(expense(t, agg, AccountBonusExpense, 10)))
	require.True(t, dec("80").Equal(liability(agg, AccountDeductions)))
	require.True(t, slip.NetPayable.Equal(liability(agg, AccountNetPayable)))
	require.True(t, agg.Debit().Equal(agg.Credit()))
}

func TestAggregateBenefitInKindNeedsMapping(t *testing.T) {
	emp := Employee{ID: 1, CompanyID: 1, BaseSalary: dec("1000"), BenefitInKind: dec("200"), Active: true}
	slip := slipFor(t, emp)

	_, err := Aggregate([]Payslip{slip}, []Employee{emp}, testCenters(), DefaultAccounts())
	require.ErrorIs(t, err, ErrMissingAccountMapping)
	require.ErrorIs(t, err, shared.ErrMissingConfiguration)

	accts := DefaultAccounts()
	accts[AccountBenefitInKind] = "617400"
	agg, err := Aggregate([]Payslip{slip}, []Employee{emp}, testCenters(), accts)
	require.NoError(t, err)
	require.True(t, dec("200").Equal(expense(t, agg, AccountBenefitInKind, 0)))
	require.True(t, agg.Debit().Equal(agg.Credit()))
}

func TestAggregateRejectsDegenerateInput(t *testing.T) {
	emp := Employee{ID: 1, CompanyID: 1, BaseSalary: dec("1000"), Active: true}

	_, err := Aggregate(nil, []Employee{emp}, testCenters(), DefaultAccounts())
	require.ErrorIs(t, err, ErrNoPayslips)

	_, err = Aggregate([]Payslip{{EmployeeID: 1}}, []Employee{emp}, testCenters(), DefaultAccounts())
	require.ErrorIs(t, err, ErrNonPositiveNet)
	require.ErrorIs(t, err, shared.ErrInvariant)

	_, err = Aggregate([]Payslip{slipFor(t, emp)}, nil, testCenters(), DefaultAccounts())
	require.ErrorIs(t, err, ErrEmployeeNotFound)
}

func TestAggregateSendsPartialAllocationResidualToNational(t *testing.T) {
	emp := Employee{ID: 1, CompanyID: 1, BaseSalary: dec("1000"), Active: true, Allocations: []CostShare{
		{CostCenterID: 10, Percent: dec("60")},
	}}
	slip := slipFor(t, emp)
	agg, err := Aggregate([]Payslip{slip}, []Employee{emp}, testCenters(), DefaultAccounts())
	require.NoError(t, err)

	require.True(t, dec("600").Equal(expense(t, agg, AccountSalaryExpense, 10)))
	require.True(t, dec("400").Equal(expense(t, agg, AccountSalaryExpense, 20)))
	require.Len(t, slip.Allocations, 2)
	require.True(t, dec("40").Equal(slip.Allocations[1].Percent))
	require.Equal(t, int64(20), slip.Allocations[1].CostCenterID)
}
