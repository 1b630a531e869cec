package calc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// LineKind classifies payslip lines for aggregation.
type LineKind string

const (
	LineBase           LineKind = "BASE"
	LineBonus          LineKind = "BONUS"
	LineBenefitInKind  LineKind = "BENEFIT_IN_KIND"
	LineVariable       LineKind = "VARIABLE"
	LineOvertime       LineKind = "OVERTIME"
	LineEmployeeSocial LineKind = "EMPLOYEE_SOCIAL"
	LineIncomeTax      LineKind = "INCOME_TAX"
	LineDeduction      LineKind = "DEDUCTION"
	LineEmployerSocial LineKind = "EMPLOYER_SOCIAL"
	LineTrainingLevy   LineKind = "TRAINING_LEVY"
	LineVocationalLevy LineKind = "VOCATIONAL_LEVY"
)

// Fixed display and posting order of each line kind.
const (
	OrderBase           = 10
	OrderBonus          = 20
	OrderBenefitInKind  = 25
	OrderVariable       = 27
	OrderOvertime       = 28
	OrderEmployeeSocial = 30
	OrderIncomeTax      = 40
	OrderDeduction      = 45
	OrderEmployerSocial = 50
	OrderTrainingLevy   = 60
	OrderVocationalLevy = 70
)

// Attendance is the time worked by an employee during the period.
type Attendance struct {
	DaysWorked    decimal.Decimal `json:"days_worked"`
	WorkingDays   decimal.Decimal `json:"working_days"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
}

// Variable is a signed one-off item: positive for bonuses and allowances,
// negative for deductions.
type Variable struct {
	Code         string          `json:"code"`
	Label        string          `json:"label"`
	Amount       decimal.Decimal `json:"amount"`
	CostCenterID *int64          `json:"cost_center_id,omitempty"`
}

// Input is everything known about one employee for one period.
type Input struct {
	EmployeeID    int64           `json:"employee_id"`
	BaseSalary    decimal.Decimal `json:"base_salary"`
	BenefitInKind decimal.Decimal `json:"benefit_in_kind"`
	Attendance    *Attendance     `json:"attendance,omitempty"`
	Variables     []Variable      `json:"variables,omitempty"`
	// FXRate converts the local currency into the tax currency. Zero means parity.
	FXRate decimal.Decimal `json:"fx_rate"`
}

// Line is one payslip row. Withholdings carry negative amounts.
type Line struct {
	Kind   LineKind          `json:"kind"`
	Code   string            `json:"code"`
	Label  string            `json:"label"`
	Amount decimal.Decimal   `json:"amount"`
	Base   decimal.Decimal   `json:"base"`
	Order  int               `json:"order"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// DirectAllocation assigns a positive variable straight to a cost center.
type DirectAllocation struct {
	CostCenterID int64           `json:"cost_center_id"`
	Code         string          `json:"code"`
	Amount       decimal.Decimal `json:"amount"`
}

// Result is a computed payslip.
type Result struct {
	EmployeeID              int64              `json:"employee_id"`
	BaseSalary              decimal.Decimal    `json:"base_salary"`
	Base                    decimal.Decimal    `json:"base"`
	SimulatedBonus          decimal.Decimal    `json:"simulated_bonus"`
	BenefitInKind           decimal.Decimal    `json:"benefit_in_kind"`
	VariablesPrimeTotal     decimal.Decimal    `json:"variables_prime_total"`
	VariablesDeductionTotal decimal.Decimal    `json:"variables_deduction_total"`
	OvertimeAmount          decimal.Decimal    `json:"overtime_amount"`
	Gross                   decimal.Decimal    `json:"gross"`
	EmployeeSocial          decimal.Decimal    `json:"employee_social"`
	ProfessionalExpenses    decimal.Decimal    `json:"professional_expenses"`
	TaxableBase             decimal.Decimal    `json:"taxable_base"`
	FXRate                  decimal.Decimal    `json:"fx_rate"`
	TaxableBaseForeign      decimal.Decimal    `json:"taxable_base_foreign"`
	IncomeTaxForeign        decimal.Decimal    `json:"income_tax_foreign"`
	IncomeTax               decimal.Decimal    `json:"income_tax"`
	EmployerSocial          decimal.Decimal    `json:"employer_social"`
	TrainingLevy            decimal.Decimal    `json:"training_levy"`
	VocationalLevy          decimal.Decimal    `json:"vocational_levy"`
	Net                     decimal.Decimal    `json:"net"`
	NetPayable              decimal.Decimal    `json:"net_payable"`
	Lines                   []Line             `json:"lines"`
	DirectAllocations       []DirectAllocation `json:"direct_allocations,omitempty"`
}

var (
	// ErrNegativeSalary indicates a negative base salary or benefit.
	ErrNegativeSalary = shared.Classify(shared.ErrValidation, errors.New("calc: salary amounts must not be negative"))
	// ErrInvalidAttendance indicates negative attendance figures.
	ErrInvalidAttendance = shared.Classify(shared.ErrValidation, errors.New("calc: attendance figures must not be negative"))
	// ErrInvalidFXRate indicates a negative exchange rate.
	ErrInvalidFXRate = shared.Classify(shared.ErrValidation, errors.New("calc: fx rate must not be negative"))
)

// Calculate computes the payslip of one employee.
func Calculate(cfg Config, in Input) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if in.BaseSalary.IsNegative() || in.BenefitInKind.IsNegative() {
		return Result{}, ErrNegativeSalary
	}
	if att := in.Attendance; att != nil {
		if att.DaysWorked.IsNegative() || att.WorkingDays.IsNegative() || att.OvertimeHours.IsNegative() {
			return Result{}, ErrInvalidAttendance
		}
	}
	if in.FXRate.IsNegative() {
		return Result{}, ErrInvalidFXRate
	}
	fx := in.FXRate
	if fx.IsZero() {
		fx = decimal.NewFromInt(1)
	}

	r := Result{EmployeeID: in.EmployeeID, BaseSalary: in.BaseSalary, FXRate: fx}

	// Simulation aids, off unless enabled.
	r.BenefitInKind = shared.Round2(in.BenefitInKind)
	if cfg.SimulateBonus {
		r.SimulatedBonus = shared.Round2(in.BaseSalary.Mul(cfg.SimulatedBonusRate))
	}
	if cfg.SimulateBenefit {
		r.BenefitInKind = r.BenefitInKind.Add(shared.Round2(in.BaseSalary.Mul(cfg.SimulatedBenefitRate)))
	}

	r.Base = shared.Round2(in.BaseSalary)
	workingDays := cfg.DefaultWorkingDays
	if att := in.Attendance; att != nil && att.WorkingDays.IsPositive() {
		r.Base = shared.Round2(in.BaseSalary.Mul(att.DaysWorked).Div(att.WorkingDays))
		workingDays = att.WorkingDays
	}

	var positives, negatives []Variable
	for _, v := range in.Variables {
		switch {
		case v.Amount.IsPositive():
			r.VariablesPrimeTotal = r.VariablesPrimeTotal.Add(shared.Round2(v.Amount))
			positives = append(positives, v)
			if v.CostCenterID != nil && *v.CostCenterID != 0 {
				r.DirectAllocations = append(r.DirectAllocations, DirectAllocation{
					CostCenterID: *v.CostCenterID,
					Code:         v.Code,
					Amount:       shared.Round2(v.Amount),
				})
			}
		case v.Amount.IsNegative():
			r.VariablesDeductionTotal = r.VariablesDeductionTotal.Add(shared.Round2(v.Amount.Abs()))
			negatives = append(negatives, v)
		}
	}

	if att := in.Attendance; att != nil && att.OvertimeHours.IsPositive() {
		hourly := in.BaseSalary.Div(workingDays.Mul(cfg.HoursPerDay))
		r.OvertimeAmount = shared.Round2(hourly.Mul(att.OvertimeHours).Mul(cfg.OvertimeMultiplier))
	}

	r.Gross = shared.Round2(r.Base.Add(r.VariablesPrimeTotal).Add(r.BenefitInKind).Add(r.SimulatedBonus).Add(r.OvertimeAmount))

	r.EmployeeSocial = shared.Round2(r.Gross.Mul(cfg.EmployeeSocialRate))
	r.ProfessionalExpenses = shared.Round2(r.Gross.Sub(r.EmployeeSocial).Mul(cfg.ProfessionalExpenseRate))
	r.TaxableBase = decimal.Max(decimal.Zero, r.Gross.Sub(r.EmployeeSocial).Sub(r.ProfessionalExpenses))

	r.TaxableBaseForeign = shared.Round2(r.TaxableBase.Mul(fx))
	r.IncomeTaxForeign = ProgressiveTax(cfg.Brackets, r.TaxableBaseForeign, cfg.TaxCapRate, cfg.AnnualMinimumTax)
	r.IncomeTax = capTax(shared.Round2(r.IncomeTaxForeign.Div(fx)), r.TaxableBase, cfg.TaxCapRate)

	r.EmployerSocial = shared.Round2(r.Gross.Mul(cfg.EmployerSocialRate))
	r.TrainingLevy = shared.Round2(r.Gross.Mul(cfg.TrainingLevyRate))
	r.VocationalLevy = shared.Round2(r.Gross.Mul(cfg.VocationalLevyRate))

	r.Net = shared.Round2(r.Gross.Sub(r.EmployeeSocial).Sub(r.IncomeTax))
	r.NetPayable = r.Net.Sub(r.VariablesDeductionTotal)

	r.Lines = buildLines(r, positives, negatives)
	return r, nil
}

func buildLines(r Result, positives, negatives []Variable) []Line {
	lines := []Line{{
		Kind: LineBase, Code: "BASE", Label: "Base salary", Amount: r.Base, Base: r.BaseSalary, Order: OrderBase,
	}}
	add := func(l Line) {
		if !l.Amount.IsZero() {
			lines = append(lines, l)
		}
	}
	add(Line{Kind: LineBonus, Code: "BONUS", Label: "Bonus", Amount: r.SimulatedBonus, Base: r.BaseSalary, Order: OrderBonus})
	add(Line{Kind: LineBenefitInKind, Code: "BIK", Label: "Benefit in kind", Amount: r.BenefitInKind, Order: OrderBenefitInKind})
	for _, v := range positives {
		l := Line{Kind: LineVariable, Code: v.Code, Label: v.Label, Amount: shared.Round2(v.Amount), Order: OrderVariable}
		if v.CostCenterID != nil && *v.CostCenterID != 0 {
			l.Meta = map[string]string{"cost_center_id": fmt.Sprint(*v.CostCenterID)}
		}
		add(l)
	}
	add(Line{Kind: LineOvertime, Code: "OVERTIME", Label: "Overtime", Amount: r.OvertimeAmount, Order: OrderOvertime})
	add(Line{Kind: LineEmployeeSocial, Code: "CNSS_EMPLOYEE", Label: "Employee social contribution",
		Amount: r.EmployeeSocial.Neg(), Base: r.Gross, Order: OrderEmployeeSocial})
	add(Line{Kind: LineIncomeTax, Code: "IPR", Label: "Income tax", Amount: r.IncomeTax.Neg(), Base: r.TaxableBase,
		Order: OrderIncomeTax, Meta: map[string]string{
			"fx_rate":              r.FXRate.String(),
			"taxable_base_foreign": r.TaxableBaseForeign.StringFixed(2),
			"income_tax_foreign":   r.IncomeTaxForeign.StringFixed(2),
			"professional_expense": r.ProfessionalExpenses.StringFixed(2),
		}})
	for _, v := range negatives {
		add(Line{Kind: LineDeduction, Code: v.Code, Label: v.Label, Amount: shared.Round2(v.Amount), Order: OrderDeduction})
	}
	add(Line{Kind: LineEmployerSocial, Code: "CNSS_EMPLOYER", Label: "Employer social contribution",
		Amount: r.EmployerSocial, Base: r.Gross, Order: OrderEmployerSocial})
	add(Line{Kind: LineTrainingLevy, Code: "TRAINING_LEVY", Label: "Training levy",
		Amount: r.TrainingLevy, Base: r.Gross, Order: OrderTrainingLevy})
	add(Line{Kind: LineVocationalLevy, Code: "VOCATIONAL_LEVY", Label: "Vocational training levy",
		Amount: r.VocationalLevy, Base: r.Gross, Order: OrderVocationalLevy})
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Order < lines[j].Order })
	return lines
}

// IsEmployerCharge reports whether the line is borne by the employer rather
// than withheld from the employee.
func (k LineKind) IsEmployerCharge() bool {
	return k == LineEmployerSocial || k == LineTrainingLevy || k == LineVocationalLevy
}

// IsEarning reports whether the line adds to the gross expense split across cost centers.
func (k LineKind) IsEarning() bool {
	return k == LineBase || k == LineBonus || k == LineVariable || k == LineOvertime
}
