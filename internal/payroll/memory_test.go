package payroll

import (
	"context"
	"sort"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledgertest"
	"github.com/odyssey-erp/ledgerpay/internal/payroll/calc"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

type slipKey struct {
	periodID   int64
	employeeID int64
}

type memoryRepo struct {
	*ledgertest.Store
	periods    map[int64]Period
	employees  map[int64]Employee
	centers    map[int64]CostCenter
	attendance map[slipKey]calc.Attendance
	variables  map[slipKey][]calc.Variable
	payslips   map[slipKey]Payslip
	audit      *shared.MemoryAuditRecorder
	auditErr   error
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		Store:      ledgertest.NewStore(),
		periods:    map[int64]Period{},
		employees:  map[int64]Employee{},
		centers:    map[int64]CostCenter{},
		attendance: map[slipKey]calc.Attendance{},
		variables:  map[slipKey][]calc.Variable{},
		payslips:   map[slipKey]Payslip{},
		audit:      &shared.MemoryAuditRecorder{},
		nextID:     1000,
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	restore := m.Checkpoint()
	periods := cloneMap(m.periods)
	payslips := cloneMap(m.payslips)
	nextID := m.nextID
	audits := len(m.audit.Logs)
	if err := fn(ctx, m); err != nil {
		restore()
		m.periods = periods
		m.payslips = payslips
		m.nextID = nextID
		m.audit.Logs = m.audit.Logs[:audits]
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) InsertPeriod(_ context.Context, p Period) (Period, error) {
	for _, existing := range m.periods {
		if existing.CompanyID == p.CompanyID && existing.Year == p.Year && existing.Month == p.Month {
			return Period{}, ErrPeriodExists
		}
	}
	p.ID = m.id()
	m.periods[p.ID] = p
	return p, nil
}

func (m *memoryRepo) GetPeriod(_ context.Context, id int64) (Period, error) {
	p, ok := m.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (m *memoryRepo) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return m.GetPeriod(ctx, id)
}

func (m *memoryRepo) UpdatePeriodStatus(_ context.Context, id int64, status PeriodStatus, journalEntryID *int64) error {
	p, ok := m.periods[id]
	if !ok {
		return ErrPeriodNotFound
	}
	p.Status = status
	p.JournalEntryID = journalEntryID
	m.periods[id] = p
	return nil
}

func (m *memoryRepo) ListEmployees(_ context.Context, companyID int64) ([]Employee, error) {
	var out []Employee
	for _, e := range m.employees {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListCostCenters(_ context.Context, companyID int64) ([]CostCenter, error) {
	var out []CostCenter
	for _, cc := range m.centers {
		if cc.CompanyID == companyID {
			out = append(out, cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListAttendance(_ context.Context, periodID int64) (map[int64]calc.Attendance, error) {
	out := map[int64]calc.Attendance{}
	for k, a := range m.attendance {
		if k.periodID == periodID {
			out[k.employeeID] = a
		}
	}
	return out, nil
}

func (m *memoryRepo) ListVariables(_ context.Context, periodID int64) (map[int64][]calc.Variable, error) {
	out := map[int64][]calc.Variable{}
	for k, vars := range m.variables {
		if k.periodID == periodID {
			out[k.employeeID] = append(out[k.employeeID], vars...)
		}
	}
	return out, nil
}

func (m *memoryRepo) UpsertPayslip(_ context.Context, slip Payslip) (Payslip, error) {
	key := slipKey{slip.PeriodID, slip.EmployeeID}
	if existing, ok := m.payslips[key]; ok {
		slip.ID = existing.ID
	} else {
		slip.ID = m.id()
	}
	m.payslips[key] = slip
	return slip, nil
}

func (m *memoryRepo) DeletePayslipsExcept(_ context.Context, periodID int64, employeeIDs []int64) (int64, error) {
	keep := make(map[int64]bool, len(employeeIDs))
	for _, id := range employeeIDs {
		keep[id] = true
	}
	var removed int64
	for k := range m.payslips {
		if k.periodID == periodID && !keep[k.employeeID] {
			delete(m.payslips, k)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryRepo) ListPayslips(_ context.Context, periodID int64) ([]Payslip, error) {
	var out []Payslip
	for k, slip := range m.payslips {
		if k.periodID == periodID {
			out = append(out, slip)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (m *memoryRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	if m.auditErr != nil {
		return m.auditErr
	}
	return m.audit.Record(ctx, log)
}
