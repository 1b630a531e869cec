package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgerpay/internal/payroll/calc"
)

// Rate codes stored in payroll_rates.
const (
	RateEmployeeSocial      = "CNSS_EMPLOYEE"
	RateProfessionalExpense = "PROFESSIONAL_EXPENSES"
	RateEmployerSocial      = "CNSS_EMPLOYER"
	RateTrainingLevy        = "TRAINING_LEVY"
	RateVocationalLevy      = "VOCATIONAL_LEVY"
)

// Setting codes for the tax scale stored in payroll_tax_brackets and payroll_tax_rules.
const (
	SettingTaxBrackets   = "TAX_BRACKETS"
	SettingTaxCap        = "TAX_CAP"
	SettingAnnualMinimum = "ANNUAL_MINIMUM_TAX"
)

// Account codes of the payroll mapping module.
const (
	AccountSalaryExpense         = "SALARY_EXPENSE"
	AccountBonusExpense          = "BONUS_EXPENSE"
	AccountEmployerSocialExpense = "EMPLOYER_SOCIAL_EXPENSE"
	AccountTrainingLevyExpense   = "TRAINING_LEVY_EXPENSE"
	AccountVocationalLevyExpense = "VOCATIONAL_LEVY_EXPENSE"
	AccountNetPayable            = "NET_PAYABLE"
	AccountSocialPayable         = "SOCIAL_PAYABLE"
	AccountTrainingLevyPayable   = "TRAINING_LEVY_PAYABLE"
	AccountVocationalLevyPayable = "VOCATIONAL_LEVY_PAYABLE"
	AccountIncomeTaxPayable      = "INCOME_TAX_PAYABLE"
	AccountDeductions            = "DEDUCTIONS"
	AccountBenefitInKind         = "BENEFIT_IN_KIND"
)

// AccountMap resolves payroll account codes to ledger account numbers.
type AccountMap map[string]string

// DefaultAccounts returns the fallback chart. BENEFIT_IN_KIND has no default.
func DefaultAccounts() AccountMap {
	return AccountMap{
		AccountSalaryExpense:         "661100",
		AccountBonusExpense:          "661300",
		AccountEmployerSocialExpense: "664100",
		AccountTrainingLevyExpense:   "664200",
		AccountVocationalLevyExpense: "664300",
		AccountNetPayable:            "422000",
		AccountSocialPayable:         "431000",
		AccountTrainingLevyPayable:   "431200",
		AccountVocationalLevyPayable: "431300",
		AccountIncomeTaxPayable:      "447000",
		AccountDeductions:            "421000",
	}
}

// Number returns the account number mapped to code.
func (m AccountMap) Number(code string) (string, error) {
	number := strings.TrimSpace(m[code])
	if number == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingAccountMapping, code)
	}
	return number, nil
}

// TaxRules holds the optional cap and floor of the tax scale.
type TaxRules struct {
	CapRate          *decimal.Decimal
	AnnualMinimumTax *decimal.Decimal
}

// SettingsReader reads storage-backed payroll configuration.
type SettingsReader interface {
	Rates(ctx context.Context, companyID int64) (map[string]decimal.Decimal, error)
	TaxBrackets(ctx context.Context, companyID int64) ([]calc.Bracket, error)
	TaxRules(ctx context.Context, companyID int64) (TaxRules, error)
}

// SettingsLoader merges stored settings over explicit defaults. Every default
// that is used is logged; codes marked mandatory have no default at all.
type SettingsLoader struct {
	reader    SettingsReader
	mappings  mappings.Repository
	defaults  calc.Config
	mandatory map[string]bool
	logger    *slog.Logger
}

// NewSettingsLoader constructs a loader. defaults usually comes from
// calc.DefaultConfig with the process toggles applied.
func NewSettingsLoader(reader SettingsReader, maps mappings.Repository, defaults calc.Config, mandatory []string, logger *slog.Logger) *SettingsLoader {
	if logger == nil {
		logger = slog.Default()
	}
	required := make(map[string]bool, len(mandatory))
	for _, code := range mandatory {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			required[code] = true
		}
	}
	return &SettingsLoader{reader: reader, mappings: maps, defaults: defaults, mandatory: required, logger: logger}
}

// Load returns the calculation config and the account map of a company.
func (l *SettingsLoader) Load(ctx context.Context, companyID int64) (calc.Config, AccountMap, error) {
	cfg, err := l.Config(ctx, companyID)
	if err != nil {
		return calc.Config{}, nil, err
	}
	accts, err := l.Accounts(ctx, companyID)
	if err != nil {
		return calc.Config{}, nil, err
	}
	return cfg, accts, nil
}

// Config builds the calculation config of a company.
func (l *SettingsLoader) Config(ctx context.Context, companyID int64) (calc.Config, error) {
	cfg := l.defaults
	cfg.Brackets = append([]calc.Bracket(nil), l.defaults.Brackets...)

	rates, err := l.reader.Rates(ctx, companyID)
	if err != nil {
		return calc.Config{}, fmt.Errorf("payroll: load rates: %w", err)
	}
	fields := []struct {
		code   string
		target *decimal.Decimal
	}{
		{RateEmployeeSocial, &cfg.EmployeeSocialRate},
		{RateProfessionalExpense, &cfg.ProfessionalExpenseRate},
		{RateEmployerSocial, &cfg.EmployerSocialRate},
		{RateTrainingLevy, &cfg.TrainingLevyRate},
		{RateVocationalLevy, &cfg.VocationalLevyRate},
	}
	for _, f := range fields {
		if v, ok := rates[f.code]; ok {
			*f.target = v
			continue
		}
		if err := l.fallback(companyID, f.code, f.target.String()); err != nil {
			return calc.Config{}, err
		}
	}

	brackets, err := l.reader.TaxBrackets(ctx, companyID)
	if err != nil {
		return calc.Config{}, fmt.Errorf("payroll: load tax brackets: %w", err)
	}
	if len(brackets) > 0 {
		cfg.Brackets = brackets
	} else if err := l.fallback(companyID, SettingTaxBrackets, fmt.Sprintf("%d bands", len(cfg.Brackets))); err != nil {
		return calc.Config{}, err
	}

	rules, err := l.reader.TaxRules(ctx, companyID)
	if err != nil {
		return calc.Config{}, fmt.Errorf("payroll: load tax rules: %w", err)
	}
	if rules.CapRate != nil {
		cfg.TaxCapRate = *rules.CapRate
	} else if err := l.fallback(companyID, SettingTaxCap, cfg.TaxCapRate.String()); err != nil {
		return calc.Config{}, err
	}
	if rules.AnnualMinimumTax != nil {
		cfg.AnnualMinimumTax = *rules.AnnualMinimumTax
	} else if err := l.fallback(companyID, SettingAnnualMinimum, cfg.AnnualMinimumTax.String()); err != nil {
		return calc.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return calc.Config{}, err
	}
	return cfg, nil
}

// Accounts builds the account map of a company from the PAYROLL mappings.
func (l *SettingsLoader) Accounts(ctx context.Context, companyID int64) (AccountMap, error) {
	out := DefaultAccounts()
	rows, err := l.mappings.List(ctx, companyID, mappings.ModulePayroll)
	if err != nil {
		return nil, fmt.Errorf("payroll: load account mappings: %w", err)
	}
	stored := make(map[string]bool, len(rows))
	for _, row := range rows {
		key := strings.ToUpper(strings.TrimSpace(row.Key))
		if number := strings.TrimSpace(row.AccountNumber); number != "" {
			out[key] = number
			stored[key] = true
		}
	}
	codes := make([]string, 0, len(out))
	for code := range out {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if stored[code] {
			continue
		}
		if err := l.fallback(companyID, code, out[code]); err != nil {
			return nil, err
		}
	}
	if l.mandatory[AccountBenefitInKind] && !stored[AccountBenefitInKind] {
		return nil, fmt.Errorf("%w: %s", ErrMissingSetting, AccountBenefitInKind)
	}
	return out, nil
}

func (l *SettingsLoader) fallback(companyID int64, code, value string) error {
	if l.mandatory[code] {
		return fmt.Errorf("%w: %s", ErrMissingSetting, code)
	}
	l.logger.Warn("payroll setting missing, using default",
		slog.Int64("company_id", companyID),
		slog.String("field", code),
		slog.String("default", value),
	)
	return nil
}

// StaticSettings serves settings from memory. The zero value stores nothing,
// so every field falls back to its default.
type StaticSettings struct {
	RateValues map[string]decimal.Decimal
	Brackets   []calc.Bracket
	Rules      TaxRules
}

// Rates returns the configured rates.
func (s StaticSettings) Rates(context.Context, int64) (map[string]decimal.Decimal, error) {
	return s.RateValues, nil
}

// TaxBrackets returns the configured brackets.
func (s StaticSettings) TaxBrackets(context.Context, int64) ([]calc.Bracket, error) {
	return s.Brackets, nil
}

// TaxRules returns the configured cap and floor.
func (s StaticSettings) TaxRules(context.Context, int64) (TaxRules, error) {
	return s.Rules, nil
}
