// Package payroll runs the payroll period lifecycle: payslip generation,
// aggregation into one journal entry, and reversal.
package payroll

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/payroll/calc"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// PeriodStatus enumerates payroll period lifecycle stages.
type PeriodStatus string

const (
	PeriodDraft  PeriodStatus = "DRAFT"
	PeriodOpen   PeriodStatus = "OPEN"
	PeriodLocked PeriodStatus = "LOCKED"
	PeriodPosted PeriodStatus = "POSTED"
)

// Fallback cost center codes for employees without allocations.
const (
	CostCenterNational   = "NAT"
	CostCenterExpatriate = "EXP"
)

// Period is one payroll month of a company.
type Period struct {
	ID             int64        `json:"id"`
	CompanyID      int64        `json:"company_id"`
	Year           int          `json:"year"`
	Month          int          `json:"month"`
	Status         PeriodStatus `json:"status"`
	JournalEntryID *int64       `json:"journal_entry_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Start returns the first day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Label renders the period as YYYY-MM.
func (p Period) Label() string {
	return p.Start().Format("2006-01")
}

// CostShare is the percentage of an employee's cost borne by a cost center.
// Percent is on a 0-100 scale; shares summing below 100 leave a residual
// for the national or expatriate center.
type CostShare struct {
	CostCenterID int64           `json:"cost_center_id"`
	Percent      decimal.Decimal `json:"percent"`
}

// Employee is the payroll view of a worker. BaseSalary is the snapshot of
// the legal base at generation time.
type Employee struct {
	ID            int64           `json:"id"`
	CompanyID     int64           `json:"company_id"`
	Name          string          `json:"name"`
	BaseSalary    decimal.Decimal `json:"base_salary"`
	BenefitInKind decimal.Decimal `json:"benefit_in_kind"`
	Expatriate    bool            `json:"expatriate"`
	Active        bool            `json:"active"`
	Allocations   []CostShare     `json:"allocations,omitempty"`
}

// CostCenter is an allocation bucket for salary expense.
type CostCenter struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Code      string `json:"code"`
	Active    bool   `json:"active"`
}

// CostAllocation records how much of a payslip's expense a cost center bears.
type CostAllocation struct {
	CostCenterID int64           `json:"cost_center_id"`
	Percent      decimal.Decimal `json:"percent"`
	Amount       decimal.Decimal `json:"amount"`
	Direct       bool            `json:"direct"`
}

// Payslip is the stored result of one employee's calculation for a period.
type Payslip struct {
	ID          int64            `json:"id"`
	PeriodID    int64            `json:"period_id"`
	EmployeeID  int64            `json:"employee_id"`
	Gross       decimal.Decimal  `json:"gross"`
	Net         decimal.Decimal  `json:"net"`
	NetPayable  decimal.Decimal  `json:"net_payable"`
	FXRate      decimal.Decimal  `json:"fx_rate"`
	Lines       []calc.Line      `json:"lines"`
	Allocations []CostAllocation `json:"allocations,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// CreatePeriodInput captures a new payroll month.
type CreatePeriodInput struct {
	CompanyID int64 `json:"company_id" validate:"required,gt=0"`
	Year      int   `json:"year" validate:"required,gte=2000,lte=2100"`
	Month     int   `json:"month" validate:"required,gte=1,lte=12"`
	ActorID   int64 `json:"-"`
}

// Validate checks the input shape.
func (in CreatePeriodInput) Validate() error {
	if in.CompanyID <= 0 {
		return shared.Invalid("payroll: company id required")
	}
	if in.Year < 2000 || in.Year > 2100 {
		return shared.Invalid("payroll: year out of range")
	}
	if in.Month < 1 || in.Month > 12 {
		return shared.Invalid("payroll: month must be within 1..12")
	}
	return nil
}

// GenerateResult summarizes a payslip generation run.
type GenerateResult struct {
	PeriodID int64     `json:"period_id"`
	FXRate   string    `json:"fx_rate"`
	Payslips []Payslip `json:"payslips"`
	Removed  int64     `json:"removed"`
}

// PostResult is the outcome of posting or reversing a period.
type PostResult struct {
	Period        Period `json:"period"`
	JournalID     int64  `json:"journal_id"`
	JournalNumber string `json:"journal_number"`
	// ReversedNumber is set on reversal to the number of the mirrored entry.
	ReversedNumber string `json:"reversed_number,omitempty"`
}

var (
	// ErrPeriodNotFound indicates a missing payroll period.
	ErrPeriodNotFound = shared.Classify(shared.ErrNotFound, errors.New("payroll: period not found"))
	// ErrPeriodExists indicates the company already has a period for the month.
	ErrPeriodExists = shared.Classify(shared.ErrConflict, errors.New("payroll: period already exists for month"))
	// ErrInvalidTransition indicates a lifecycle move not allowed from the current status.
	ErrInvalidTransition = shared.Classify(shared.ErrState, errors.New("payroll: invalid period transition"))
	// ErrPeriodNotOpen indicates payslips can only be generated for an OPEN period.
	ErrPeriodNotOpen = shared.Classify(shared.ErrState, errors.New("payroll: period is not open"))
	// ErrPeriodNotLocked indicates posting requires a LOCKED period.
	ErrPeriodNotLocked = shared.Classify(shared.ErrState, errors.New("payroll: period must be locked before posting"))
	// ErrPeriodNotPosted indicates reversal requires a POSTED period.
	ErrPeriodNotPosted = shared.Classify(shared.ErrState, errors.New("payroll: period is not posted"))
	// ErrNoPayslips indicates a period without payslips.
	ErrNoPayslips = shared.Classify(shared.ErrState, errors.New("payroll: period has no payslips"))
	// ErrNonPositiveNet indicates the aggregated net pay is not positive.
	ErrNonPositiveNet = shared.Classify(shared.ErrInvariant, errors.New("payroll: aggregated net pay must be positive"))
	// ErrMissingAccountMapping indicates an amount without a target ledger account.
	ErrMissingAccountMapping = shared.Classify(shared.ErrMissingConfiguration, errors.New("payroll: account mapping missing"))
	// ErrMissingSetting indicates a mandatory payroll setting absent from storage.
	ErrMissingSetting = shared.Classify(shared.ErrMissingConfiguration, errors.New("payroll: mandatory setting missing"))
	// ErrEmployeeNotFound indicates a payslip whose employee is unknown.
	ErrEmployeeNotFound = shared.Classify(shared.ErrNotFound, errors.New("payroll: employee not found"))
)

var transitions = map[PeriodStatus]map[PeriodStatus]bool{
	PeriodDraft:  {PeriodOpen: true},
	PeriodOpen:   {PeriodLocked: true},
	PeriodLocked: {PeriodOpen: true},
}

// CanTransition reports whether a period may move from one status to another
// through the lifecycle endpoints. POSTED is only reached by posting.
func CanTransition(from, to PeriodStatus) bool {
	return transitions[from][to]
}
