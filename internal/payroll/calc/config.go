// Package calc computes one payslip from gross to net. It performs no I/O:
// every rate and toggle arrives through Config.
package calc

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// Bracket is one annual income tax band. A zero Max marks the open-ended top band.
type Bracket struct {
	Max  decimal.Decimal `json:"max"`
	Rate decimal.Decimal `json:"rate"`
}

// Config carries every rate and toggle the calculation reads.
type Config struct {
	EmployeeSocialRate      decimal.Decimal `json:"employee_social_rate"`
	ProfessionalExpenseRate decimal.Decimal `json:"professional_expense_rate"`
	EmployerSocialRate      decimal.Decimal `json:"employer_social_rate"`
	TrainingLevyRate        decimal.Decimal `json:"training_levy_rate"`
	VocationalLevyRate      decimal.Decimal `json:"vocational_levy_rate"`

	Brackets         []Bracket       `json:"brackets"`
	TaxCapRate       decimal.Decimal `json:"tax_cap_rate"`
	AnnualMinimumTax decimal.Decimal `json:"annual_minimum_tax"`

	HoursPerDay        decimal.Decimal `json:"hours_per_day"`
	OvertimeMultiplier decimal.Decimal `json:"overtime_multiplier"`
	DefaultWorkingDays decimal.Decimal `json:"default_working_days"`

	SimulateBonus        bool            `json:"simulate_bonus"`
	SimulatedBonusRate   decimal.Decimal `json:"simulated_bonus_rate"`
	SimulateBenefit      bool            `json:"simulate_benefit"`
	SimulatedBenefitRate decimal.Decimal `json:"simulated_benefit_rate"`
}

// ErrInvalidConfig indicates an out-of-range rate or toggle.
var ErrInvalidConfig = shared.Classify(shared.ErrValidation, errors.New("calc: invalid configuration"))

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultBrackets is the fallback annual scale.
func DefaultBrackets() []Bracket {
	return []Bracket{
		{Max: d("40000"), Rate: d("0")},
		{Max: d("60000"), Rate: d("0.10")},
		{Max: d("80000"), Rate: d("0.20")},
		{Max: d("100000"), Rate: d("0.30")},
		{Max: d("180000"), Rate: d("0.34")},
		{Max: decimal.Zero, Rate: d("0.37")},
	}
}

// DefaultConfig returns the hardcoded fallbacks used when no setting is stored.
func DefaultConfig() Config {
	return Config{
		EmployeeSocialRate:      d("0.05"),
		ProfessionalExpenseRate: d("0.25"),
		EmployerSocialRate:      d("0.05"),
		TrainingLevyRate:        d("0.005"),
		VocationalLevyRate:      d("0.03"),
		Brackets:                DefaultBrackets(),
		TaxCapRate:              d("0.30"),
		AnnualMinimumTax:        decimal.Zero,
		HoursPerDay:             d("8"),
		OvertimeMultiplier:      d("1.5"),
		DefaultWorkingDays:      d("30"),
		SimulatedBonusRate:      d("0.10"),
		SimulatedBenefitRate:    d("0.05"),
	}
}

// Validate checks that rates are fractions and divisors are positive.
func (c Config) Validate() error {
	rates := map[string]decimal.Decimal{
		"employee_social_rate":      c.EmployeeSocialRate,
		"professional_expense_rate": c.ProfessionalExpenseRate,
		"employer_social_rate":      c.EmployerSocialRate,
		"training_levy_rate":        c.TrainingLevyRate,
		"vocational_levy_rate":      c.VocationalLevyRate,
		"tax_cap_rate":              c.TaxCapRate,
		"simulated_bonus_rate":      c.SimulatedBonusRate,
		"simulated_benefit_rate":    c.SimulatedBenefitRate,
	}
	for name, rate := range rates {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: %s must be within [0,1]", ErrInvalidConfig, name)
		}
	}
	if c.AnnualMinimumTax.IsNegative() {
		return fmt.Errorf("%w: annual minimum tax must not be negative", ErrInvalidConfig)
	}
	if !c.HoursPerDay.IsPositive() || !c.DefaultWorkingDays.IsPositive() {
		return fmt.Errorf("%w: hours per day and working days must be positive", ErrInvalidConfig)
	}
	if c.OvertimeMultiplier.IsNegative() {
		return fmt.Errorf("%w: overtime multiplier must not be negative", ErrInvalidConfig)
	}
	open := 0
	for _, b := range c.Brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(decimal.NewFromInt(1)) || b.Max.IsNegative() {
			return fmt.Errorf("%w: bracket %s/%s", ErrInvalidConfig, b.Max, b.Rate)
		}
		if b.Max.IsZero() {
			open++
		}
	}
	if open > 1 {
		return fmt.Errorf("%w: only one open-ended bracket allowed", ErrInvalidConfig)
	}
	return nil
}
