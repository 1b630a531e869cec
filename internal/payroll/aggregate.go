package payroll

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/payroll/calc"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// ExpenseRow is a debit aggregate. CostCenterID is nil for flat rows.
type ExpenseRow struct {
	AccountCode   string          `json:"account_code"`
	AccountNumber string          `json:"account_number"`
	CostCenterID  *int64          `json:"cost_center_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// LiabilityRow is a flat credit aggregate.
type LiabilityRow struct {
	AccountCode   string          `json:"account_code"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
}

// Aggregation is the period total ready to be turned into ledger legs.
type Aggregation struct {
	Expenses    []ExpenseRow    `json:"expenses"`
	Liabilities []LiabilityRow  `json:"liabilities"`
	Gross       decimal.Decimal `json:"gross"`
	Net         decimal.Decimal `json:"net"`
	NetPayable  decimal.Decimal `json:"net_payable"`
}

// Debit returns the total of the expense rows.
func (a Aggregation) Debit() decimal.Decimal {
	total := decimal.Zero
	for _, row := range a.Expenses {
		total = total.Add(row.Amount)
	}
	return total
}

// Credit returns the total of the liability rows.
func (a Aggregation) Credit() decimal.Decimal {
	total := decimal.Zero
	for _, row := range a.Liabilities {
		total = total.Add(row.Amount)
	}
	return total
}

type expenseKey struct {
	code         string
	costCenterID int64
}

type aggregator struct {
	accounts AccountMap
	expenses map[expenseKey]decimal.Decimal
	flat     map[string]decimal.Decimal
	credits  map[string]decimal.Decimal
}

// employee-level amounts split across cost centers, keyed by account code.
var splitAccounts = []struct {
	code  string
	kinds []calc.LineKind
}{
	{AccountSalaryExpense, []calc.LineKind{calc.LineBase}},
	{AccountBonusExpense, []calc.LineKind{calc.LineBonus, calc.LineVariable, calc.LineOvertime}},
	{AccountEmployerSocialExpense, []calc.LineKind{calc.LineEmployerSocial}},
	{AccountTrainingLevyExpense, []calc.LineKind{calc.LineTrainingLevy}},
	{AccountVocationalLevyExpense, []calc.LineKind{calc.LineVocationalLevy}},
}

// Aggregate folds the payslips of a period into expense and liability rows.
// Salary, bonus and employer charges are split per employee across the
// employee's cost centers; employees without allocations fall back to the
// NAT or EXP center, which also absorbs any unallocated residual.
// Withholdings, benefits in kind and net pay accumulate flatly.
func Aggregate(payslips []Payslip, employees []Employee, costCenters []CostCenter, accts AccountMap) (Aggregation, error) {
	if len(payslips) == 0 {
		return Aggregation{}, ErrNoPayslips
	}
	byID := make(map[int64]Employee, len(employees))
	for _, e := range employees {
		byID[e.ID] = e
	}
	index := newCenterIndex(costCenters)

	agg := &aggregator{
		accounts: accts,
		expenses: map[expenseKey]decimal.Decimal{},
		flat:     map[string]decimal.Decimal{},
		credits:  map[string]decimal.Decimal{},
	}
	sorted := append([]Payslip(nil), payslips...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EmployeeID < sorted[j].EmployeeID })

	var out Aggregation
	for _, slip := range sorted {
		emp, ok := byID[slip.EmployeeID]
		if !ok {
			return Aggregation{}, fmt.Errorf("%w: %d", ErrEmployeeNotFound, slip.EmployeeID)
		}
		shares := index.shares(emp)
		totals := lineTotals(slip.Lines)

		direct := decimal.Zero
		for _, alloc := range slip.Allocations {
			if !alloc.Direct || !alloc.Amount.IsPositive() {
				continue
			}
			agg.expenses[expenseKey{AccountBonusExpense, alloc.CostCenterID}] =
				agg.expenses[expenseKey{AccountBonusExpense, alloc.CostCenterID}].Add(alloc.Amount)
			direct = direct.Add(alloc.Amount)
		}
		for _, split := range splitAccounts {
			amount := decimal.Zero
			for _, kind := range split.kinds {
				amount = amount.Add(totals[kind])
			}
			if split.code == AccountBonusExpense {
				amount = amount.Sub(direct)
			}
			if err := agg.split(split.code, shares, amount); err != nil {
				return Aggregation{}, err
			}
		}

		agg.flat[AccountBenefitInKind] = agg.flat[AccountBenefitInKind].Add(totals[calc.LineBenefitInKind])
		agg.credits[AccountSocialPayable] = agg.credits[AccountSocialPayable].
			Add(totals[calc.LineEmployeeSocial].Abs()).Add(totals[calc.LineEmployerSocial])
		agg.credits[AccountTrainingLevyPayable] = agg.credits[AccountTrainingLevyPayable].Add(totals[calc.LineTrainingLevy])
		agg.credits[AccountVocationalLevyPayable] = agg.credits[AccountVocationalLevyPayable].Add(totals[calc.LineVocationalLevy])
		agg.credits[AccountIncomeTaxPayable] = agg.credits[AccountIncomeTaxPayable].Add(totals[calc.LineIncomeTax].Abs())
		agg.credits[AccountDeductions] = agg.credits[AccountDeductions].Add(totals[calc.LineDeduction].Abs())
		agg.credits[AccountNetPayable] = agg.credits[AccountNetPayable].Add(slip.NetPayable)

		out.Gross = out.Gross.Add(slip.Gross)
		out.Net = out.Net.Add(slip.Net)
		out.NetPayable = out.NetPayable.Add(slip.NetPayable)
	}
	if !out.Net.IsPositive() {
		return Aggregation{}, fmt.Errorf("%w: %s", ErrNonPositiveNet, out.Net.StringFixed(2))
	}
	if err := agg.collect(&out); err != nil {
		return Aggregation{}, err
	}
	return out, nil
}

func lineTotals(lines []calc.Line) map[calc.LineKind]decimal.Decimal {
	totals := make(map[calc.LineKind]decimal.Decimal, len(lines))
	for _, line := range lines {
		if line.Kind == calc.LineBase && !line.Amount.IsPositive() {
			continue
		}
		totals[line.Kind] = totals[line.Kind].Add(line.Amount)
	}
	return totals
}

type share struct {
	costCenterID int64
	weight       decimal.Decimal
}

type centerIndex struct {
	byID   map[int64]CostCenter
	byCode map[string]CostCenter
}

func newCenterIndex(costCenters []CostCenter) centerIndex {
	idx := centerIndex{
		byID:   make(map[int64]CostCenter, len(costCenters)),
		byCode: make(map[string]CostCenter, len(costCenters)),
	}
	for _, cc := range costCenters {
		idx.byID[cc.ID] = cc
		if cc.Active {
			idx.byCode[cc.Code] = cc
		}
	}
	return idx
}

// shares returns the weights of an employee's active cost centers. The
// fallback center takes whatever the allocations leave below 100%.
func (idx centerIndex) shares(emp Employee) []share {
	var shares []share
	allocated := decimal.Zero
	for _, alloc := range emp.Allocations {
		cc, ok := idx.byID[alloc.CostCenterID]
		if !ok || !cc.Active || !alloc.Percent.IsPositive() {
			continue
		}
		shares = append(shares, share{costCenterID: cc.ID, weight: alloc.Percent})
		allocated = allocated.Add(alloc.Percent)
	}
	if residual := shared.Hundred.Sub(allocated); residual.IsPositive() {
		code := CostCenterNational
		if emp.Expatriate {
			code = CostCenterExpatriate
		}
		// Without a fallback center the residual stays unassigned (id 0).
		shares = append(shares, share{costCenterID: idx.byCode[code].ID, weight: residual})
	}
	return shares
}

func (a *aggregator) split(code string, shares []share, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	weights := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		weights[i] = s.weight
	}
	parts, err := shared.DistributeAndRound(weights, amount)
	if err != nil {
		return err
	}
	for i, part := range parts {
		key := expenseKey{code, shares[i].costCenterID}
		a.expenses[key] = a.expenses[key].Add(part)
	}
	return nil
}

func (a *aggregator) collect(out *Aggregation) error {
	keys := make([]expenseKey, 0, len(a.expenses))
	for k := range a.expenses {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].code != keys[j].code {
			return keys[i].code < keys[j].code
		}
		return keys[i].costCenterID < keys[j].costCenterID
	})
	for _, k := range keys {
		amount := a.expenses[k]
		if amount.IsZero() {
			continue
		}
		number, err := a.accounts.Number(k.code)
		if err != nil {
			return err
		}
		row := ExpenseRow{AccountCode: k.code, AccountNumber: number, Amount: amount}
		if k.costCenterID != 0 {
			id := k.costCenterID
			row.CostCenterID = &id
		}
		out.Expenses = append(out.Expenses, row)
	}
	if bik := a.flat[AccountBenefitInKind]; !bik.IsZero() {
		number, err := a.accounts.Number(AccountBenefitInKind)
		if err != nil {
			return err
		}
		out.Expenses = append(out.Expenses, ExpenseRow{AccountCode: AccountBenefitInKind, AccountNumber: number, Amount: bik})
	}
	for _, code := range []string{
		AccountNetPayable, AccountDeductions, AccountSocialPayable, AccountIncomeTaxPayable,
		AccountTrainingLevyPayable, AccountVocationalLevyPayable,
	} {
		amount := a.credits[code]
		if amount.IsZero() {
			continue
		}
		number, err := a.accounts.Number(code)
		if err != nil {
			return err
		}
		out.Liabilities = append(out.Liabilities, LiabilityRow{AccountCode: code, AccountNumber: number, Amount: amount})
	}
	return nil
}

// payslipAllocations splits the earnings of one payslip the way Aggregate
// splits the salary and bonus expense, plus the direct allocations.
func payslipAllocations(emp Employee, res calc.Result, idx centerIndex) ([]CostAllocation, error) {
	var out []CostAllocation
	direct := decimal.Zero
	for _, d := range res.DirectAllocations {
		out = append(out, CostAllocation{CostCenterID: d.CostCenterID, Percent: decimal.Zero, Amount: d.Amount, Direct: true})
		direct = direct.Add(d.Amount)
	}
	earnings := res.Base.Add(res.SimulatedBonus).Add(res.VariablesPrimeTotal).Add(res.OvertimeAmount).Sub(direct)
	if earnings.IsZero() {
		return out, nil
	}
	shares := idx.shares(emp)
	weights := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		weights[i] = s.weight
	}
	parts, err := shared.DistributeAndRound(weights, earnings)
	if err != nil {
		return nil, err
	}
	for i, part := range parts {
		out = append(out, CostAllocation{CostCenterID: shares[i].costCenterID, Percent: shares[i].weight, Amount: part})
	}
	return out, nil
}
