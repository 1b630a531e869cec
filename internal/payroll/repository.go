package payroll

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/payroll/calc"
	"github.com/odyssey-erp/ledgerpay/internal/platform/db"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

const periodColumns = `id, company_id, year, month, status, journal_entry_id, created_at, updated_at`

// PgRepository persists payroll data with pgx. It also reads the
// storage-backed payroll settings.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx runs fn inside one repeatable read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxStore(tx))
	})
}

// Rates returns the contribution rates stored for a company.
func (r *PgRepository) Rates(ctx context.Context, companyID int64) (map[string]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, rate FROM payroll_rates WHERE company_id=$1`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var code string
		var rate decimal.Decimal
		if err := rows.Scan(&code, &rate); err != nil {
			return nil, err
		}
		out[code] = rate
	}
	return out, rows.Err()
}

// TaxBrackets returns the annual tax scale of a company. A NULL ceiling marks
// the open-ended band.
func (r *PgRepository) TaxBrackets(ctx context.Context, companyID int64) ([]calc.Bracket, error) {
	rows, err := r.pool.Query(ctx, `SELECT COALESCE(max_amount, 0), rate FROM payroll_tax_brackets
WHERE company_id=$1 ORDER BY max_amount NULLS LAST`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []calc.Bracket
	for rows.Next() {
		var b calc.Bracket
		if err := rows.Scan(&b.Max, &b.Rate); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TaxRules returns the optional cap and annual minimum of the tax scale.
func (r *PgRepository) TaxRules(ctx context.Context, companyID int64) (TaxRules, error) {
	var rules TaxRules
	err := r.pool.QueryRow(ctx, `SELECT cap_rate, annual_minimum_tax FROM payroll_tax_rules WHERE company_id=$1`, companyID).
		Scan(&rules.CapRate, &rules.AnnualMinimumTax)
	if errors.Is(err, pgx.ErrNoRows) {
		return TaxRules{}, nil
	}
	return rules, err
}

type (
	ledgerStore  = ledger.TxStore
	accountStore = accounts.TxStore
)

type txStore struct {
	*ledgerStore
	*accountStore
	tx pgx.Tx
}

func newTxStore(tx pgx.Tx) *txStore {
	return &txStore{ledgerStore: ledger.NewTxStore(tx), accountStore: accounts.NewTxStore(tx), tx: tx}
}

func (s *txStore) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO payroll_periods (company_id, year, month, status)
VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`, p.CompanyID, p.Year, p.Month, p.Status).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_payroll_periods_month") {
			return Period{}, ErrPeriodExists
		}
		return Period{}, err
	}
	return p, nil
}

func (s *txStore) GetPeriod(ctx context.Context, id int64) (Period, error) {
	return s.loadPeriod(ctx, `SELECT `+periodColumns+` FROM payroll_periods WHERE id=$1`, id)
}

func (s *txStore) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return s.loadPeriod(ctx, `SELECT `+periodColumns+` FROM payroll_periods WHERE id=$1 FOR UPDATE`, id)
}

func (s *txStore) loadPeriod(ctx context.Context, query string, id int64) (Period, error) {
	var p Period
	err := s.tx.QueryRow(ctx, query, id).
		Scan(&p.ID, &p.CompanyID, &p.Year, &p.Month, &p.Status, &p.JournalEntryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (s *txStore) UpdatePeriodStatus(ctx context.Context, id int64, status PeriodStatus, journalEntryID *int64) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE payroll_periods SET status=$2, journal_entry_id=$3, updated_at=NOW() WHERE id=$1`,
		id, status, journalEntryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (s *txStore) ListEmployees(ctx context.Context, companyID int64) ([]Employee, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, company_id, name, base_salary, COALESCE(benefit_in_kind, 0), expatriate, active
FROM employees WHERE company_id=$1 ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	var out []Employee
	index := map[int64]int{}
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Name, &e.BaseSalary, &e.BenefitInKind, &e.Expatriate, &e.Active); err != nil {
			rows.Close()
			return nil, err
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	allocs, err := s.tx.Query(ctx, `SELECT a.employee_id, a.cost_center_id, a.percent
FROM employee_cost_allocations a JOIN employees e ON e.id = a.employee_id
WHERE e.company_id=$1 ORDER BY a.employee_id, a.cost_center_id`, companyID)
	if err != nil {
		return nil, err
	}
	defer allocs.Close()
	for allocs.Next() {
		var employeeID int64
		var share CostShare
		if err := allocs.Scan(&employeeID, &share.CostCenterID, &share.Percent); err != nil {
			return nil, err
		}
		if i, ok := index[employeeID]; ok {
			out[i].Allocations = append(out[i].Allocations, share)
		}
	}
	return out, allocs.Err()
}

func (s *txStore) ListCostCenters(ctx context.Context, companyID int64) ([]CostCenter, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, company_id, code, active FROM cost_centers WHERE company_id=$1 ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CostCenter
	for rows.Next() {
		var cc CostCenter
		if err := rows.Scan(&cc.ID, &cc.CompanyID, &cc.Code, &cc.Active); err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (s *txStore) ListAttendance(ctx context.Context, periodID int64) (map[int64]calc.Attendance, error) {
	rows, err := s.tx.Query(ctx, `SELECT employee_id, days_worked, working_days, COALESCE(overtime_hours, 0)
FROM payroll_attendance WHERE period_id=$1`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]calc.Attendance{}
	for rows.Next() {
		var employeeID int64
		var a calc.Attendance
		if err := rows.Scan(&employeeID, &a.DaysWorked, &a.WorkingDays, &a.OvertimeHours); err != nil {
			return nil, err
		}
		out[employeeID] = a
	}
	return out, rows.Err()
}

func (s *txStore) ListVariables(ctx context.Context, periodID int64) (map[int64][]calc.Variable, error) {
	rows, err := s.tx.Query(ctx, `SELECT employee_id, code, COALESCE(label, ''), amount, cost_center_id
FROM payroll_variables WHERE period_id=$1 ORDER BY employee_id, id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64][]calc.Variable{}
	for rows.Next() {
		var employeeID int64
		var v calc.Variable
		if err := rows.Scan(&employeeID, &v.Code, &v.Label, &v.Amount, &v.CostCenterID); err != nil {
			return nil, err
		}
		out[employeeID] = append(out[employeeID], v)
	}
	return out, rows.Err()
}

// UpsertPayslip replaces the payslip of (period, employee) with its lines and allocations.
func (s *txStore) UpsertPayslip(ctx context.Context, slip Payslip) (Payslip, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO payslips (period_id, employee_id, gross, net, net_payable, fx_rate)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (period_id, employee_id)
DO UPDATE SET gross = EXCLUDED.gross, net = EXCLUDED.net, net_payable = EXCLUDED.net_payable,
fx_rate = EXCLUDED.fx_rate, updated_at = NOW()
RETURNING id, updated_at`, slip.PeriodID, slip.EmployeeID, slip.Gross, slip.Net, slip.NetPayable, slip.FXRate).
		Scan(&slip.ID, &slip.UpdatedAt)
	if err != nil {
		return Payslip{}, err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM payslip_lines WHERE payslip_id=$1`, slip.ID)
	batch.Queue(`DELETE FROM payslip_cost_allocations WHERE payslip_id=$1`, slip.ID)
	for _, line := range slip.Lines {
		meta, err := json.Marshal(line.Meta)
		if err != nil {
			return Payslip{}, err
		}
		batch.Queue(`INSERT INTO payslip_lines (payslip_id, kind, code, label, amount, base, sort_order, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, slip.ID, line.Kind, line.Code, line.Label, line.Amount, line.Base, line.Order, meta)
	}
	for _, alloc := range slip.Allocations {
		batch.Queue(`INSERT INTO payslip_cost_allocations (payslip_id, cost_center_id, percent, amount, direct)
VALUES ($1, $2, $3, $4, $5)`, slip.ID, nullCostCenter(alloc.CostCenterID), alloc.Percent, alloc.Amount, alloc.Direct)
	}
	results := s.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return Payslip{}, err
		}
	}
	if err := results.Close(); err != nil {
		return Payslip{}, err
	}
	return slip, nil
}

// DeletePayslipsExcept drops the period's payslips whose employee is not in
// employeeIDs, with their lines and allocations.
func (s *txStore) DeletePayslipsExcept(ctx context.Context, periodID int64, employeeIDs []int64) (int64, error) {
	if employeeIDs == nil {
		employeeIDs = []int64{}
	}
	batch := &pgx.Batch{}
	stale := `SELECT id FROM payslips WHERE period_id=$1 AND NOT (employee_id = ANY($2))`
	batch.Queue(`DELETE FROM payslip_lines WHERE payslip_id IN (`+stale+`)`, periodID, employeeIDs)
	batch.Queue(`DELETE FROM payslip_cost_allocations WHERE payslip_id IN (`+stale+`)`, periodID, employeeIDs)
	batch.Queue(`DELETE FROM payslips WHERE period_id=$1 AND NOT (employee_id = ANY($2))`, periodID, employeeIDs)
	results := s.tx.SendBatch(ctx, batch)
	var removed int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, err
		}
		removed = tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, err
	}
	return removed, nil
}

// RecordAudit writes the audit row in the current transaction.
func (s *txStore) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.InsertAuditLog(ctx, s.tx, log)
}

func (s *txStore) ListPayslips(ctx context.Context, periodID int64) ([]Payslip, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, period_id, employee_id, gross, net, net_payable, fx_rate, updated_at
FROM payslips WHERE period_id=$1 ORDER BY employee_id`, periodID)
	if err != nil {
		return nil, err
	}
	var out []Payslip
	index := map[int64]int{}
	for rows.Next() {
		var p Payslip
		if err := rows.Scan(&p.ID, &p.PeriodID, &p.EmployeeID, &p.Gross, &p.Net, &p.NetPayable, &p.FXRate, &p.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := s.loadLines(ctx, periodID, out, index); err != nil {
		return nil, err
	}
	if err := s.loadAllocations(ctx, periodID, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *txStore) loadLines(ctx context.Context, periodID int64, out []Payslip, index map[int64]int) error {
	rows, err := s.tx.Query(ctx, `SELECT l.payslip_id, l.kind, l.code, COALESCE(l.label, ''), l.amount, l.base, l.sort_order, l.meta
FROM payslip_lines l JOIN payslips p ON p.id = l.payslip_id
WHERE p.period_id=$1 ORDER BY l.payslip_id, l.sort_order, l.id`, periodID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var payslipID int64
		var line calc.Line
		var meta []byte
		if err := rows.Scan(&payslipID, &line.Kind, &line.Code, &line.Label, &line.Amount, &line.Base, &line.Order, &meta); err != nil {
			return err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &line.Meta); err != nil {
				return err
			}
		}
		if i, ok := index[payslipID]; ok {
			out[i].Lines = append(out[i].Lines, line)
		}
	}
	return rows.Err()
}

func (s *txStore) loadAllocations(ctx context.Context, periodID int64, out []Payslip, index map[int64]int) error {
	rows, err := s.tx.Query(ctx, `SELECT a.payslip_id, COALESCE(a.cost_center_id, 0), a.percent, a.amount, a.direct
FROM payslip_cost_allocations a JOIN payslips p ON p.id = a.payslip_id
WHERE p.period_id=$1 ORDER BY a.payslip_id, a.id`, periodID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var payslipID int64
		var alloc CostAllocation
		if err := rows.Scan(&payslipID, &alloc.CostCenterID, &alloc.Percent, &alloc.Amount, &alloc.Direct); err != nil {
			return err
		}
		if i, ok := index[payslipID]; ok {
			out[i].Allocations = append(out[i].Allocations, alloc)
		}
	}
	return rows.Err()
}

func nullCostCenter(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
