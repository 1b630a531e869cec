package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/sequence"
	"github.com/odyssey-erp/ledgerpay/internal/fx"
	"github.com/odyssey-erp/ledgerpay/internal/payroll/calc"
	"github.com/odyssey-erp/ledgerpay/internal/platform/lock"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

const generateWorkers = 4

// Repository abstracts transactional persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes payroll, ledger and account operations inside one transaction.
type TxRepository interface {
	ledger.TxRepository
	accounts.TxRepository
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	GetPeriod(ctx context.Context, id int64) (Period, error)
	GetPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	UpdatePeriodStatus(ctx context.Context, id int64, status PeriodStatus, journalEntryID *int64) error
	ListEmployees(ctx context.Context, companyID int64) ([]Employee, error)
	ListCostCenters(ctx context.Context, companyID int64) ([]CostCenter, error)
	ListAttendance(ctx context.Context, periodID int64) (map[int64]calc.Attendance, error)
	ListVariables(ctx context.Context, periodID int64) (map[int64][]calc.Variable, error)
	UpsertPayslip(ctx context.Context, slip Payslip) (Payslip, error)
	DeletePayslipsExcept(ctx context.Context, periodID int64, employeeIDs []int64) (int64, error)
	ListPayslips(ctx context.Context, periodID int64) ([]Payslip, error)
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// RunObserver is notified of payroll postings and reversals.
type RunObserver interface {
	ObservePayroll(action string)
}

// Service drives the payroll period lifecycle.
type Service struct {
	repo     Repository
	settings *SettingsLoader
	engine   *ledger.Engine
	resolver *accounts.Resolver
	audit    shared.AuditRecorder
	locker   lock.Locker
	rates    fx.Source
	local    string
	taxCcy   string
	observer RunObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the payroll service. A nil settings loader serves the
// built-in defaults.
func NewService(repo Repository, settings *SettingsLoader, engine *ledger.Engine, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if settings == nil {
		settings = NewSettingsLoader(StaticSettings{}, &mappings.MemoryRepository{}, calc.DefaultConfig(), nil, logger)
	}
	if engine == nil {
		engine = ledger.NewEngine(sequence.NewAllocator(), logger)
	}
	return &Service{
		repo:     repo,
		settings: settings,
		engine:   engine,
		resolver: accounts.NewResolver(logger),
		audit:    audit,
		locker:   lock.Noop{},
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLocker serializes generate, post and reverse per period.
func (s *Service) WithLocker(l lock.Locker) {
	if l != nil {
		s.locker = l
	}
}

// WithFX sets the rate source converting the local currency into the tax currency.
func (s *Service) WithFX(source fx.Source, localCurrency, taxCurrency string) {
	s.rates = source
	s.local = localCurrency
	s.taxCcy = taxCurrency
}

// WithObserver installs a run observer such as the metrics collector.
func (s *Service) WithObserver(observer RunObserver) {
	s.observer = observer
}

// CreatePeriod opens a DRAFT period for a month.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.InsertPeriod(ctx, Period{CompanyID: in.CompanyID, Year: in.Year, Month: in.Month, Status: PeriodDraft})
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, period, in.ActorID, "payroll.period.create", nil)
	return period, nil
}

// OpenPeriod moves a DRAFT period to OPEN.
func (s *Service) OpenPeriod(ctx context.Context, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, periodID, actorID, PeriodOpen, "payroll.period.open")
}

// LockPeriod moves an OPEN period to LOCKED, freezing its payslips.
func (s *Service) LockPeriod(ctx context.Context, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, periodID, actorID, PeriodLocked, "payroll.period.lock")
}

// ReopenPeriod moves a LOCKED period back to OPEN.
func (s *Service) ReopenPeriod(ctx context.Context, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, periodID, actorID, PeriodOpen, "payroll.period.reopen")
}

func (s *Service) transition(ctx context.Context, periodID, actorID int64, to PeriodStatus, action string) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if !CanTransition(p.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, p.Status, to)
		}
		if err := tx.UpdatePeriodStatus(ctx, p.ID, to, p.JournalEntryID); err != nil {
			return err
		}
		from := p.Status
		p.Status = to
		period = p
		s.logger.Info("payroll period transition",
			slog.Int64("period_id", p.ID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, period, actorID, action, nil)
	return period, nil
}

// Period returns one period.
func (s *Service) Period(ctx context.Context, periodID int64) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.GetPeriod(ctx, periodID)
		return err
	})
	return period, err
}

// Payslips lists the payslips of a period.
func (s *Service) Payslips(ctx context.Context, periodID int64) ([]Payslip, error) {
	var out []Payslip
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetPeriod(ctx, periodID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListPayslips(ctx, periodID)
		return err
	})
	return out, err
}

// GeneratePayslips computes and upserts one payslip per active employee of an
// OPEN period. Calling it again replaces the previous payslips.
func (s *Service) GeneratePayslips(ctx context.Context, periodID int64) (GenerateResult, error) {
	release, err := s.locker.Acquire(ctx, shared.PayrollPeriodLockKey(periodID))
	if err != nil {
		return GenerateResult{}, err
	}
	defer release()

	period, err := s.Period(ctx, periodID)
	if err != nil {
		return GenerateResult{}, err
	}
	if period.Status != PeriodOpen {
		return GenerateResult{}, fmt.Errorf("%w: status %s", ErrPeriodNotOpen, period.Status)
	}
	cfg, err := s.settings.Config(ctx, period.CompanyID)
	if err != nil {
		return GenerateResult{}, err
	}
	rate, err := fx.RateOrParity(ctx, s.rates, s.logger, s.local, s.taxCcy, period.End())
	if err != nil {
		return GenerateResult{}, err
	}

	result := GenerateResult{PeriodID: periodID, FXRate: rate.String()}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if p.Status != PeriodOpen {
			return fmt.Errorf("%w: status %s", ErrPeriodNotOpen, p.Status)
		}
		employees, err := tx.ListEmployees(ctx, p.CompanyID)
		if err != nil {
			return err
		}
		centers, err := tx.ListCostCenters(ctx, p.CompanyID)
		if err != nil {
			return err
		}
		attendance, err := tx.ListAttendance(ctx, p.ID)
		if err != nil {
			return err
		}
		variables, err := tx.ListVariables(ctx, p.ID)
		if err != nil {
			return err
		}
		active := make([]Employee, 0, len(employees))
		for _, e := range employees {
			if e.Active {
				active = append(active, e)
			}
		}
		slips, err := computePayslips(ctx, cfg, p, active, centers, attendance, variables, rate)
		if err != nil {
			return err
		}
		result.Payslips = make([]Payslip, 0, len(slips))
		kept := make([]int64, 0, len(slips))
		for _, slip := range slips {
			stored, err := tx.UpsertPayslip(ctx, slip)
			if err != nil {
				return err
			}
			result.Payslips = append(result.Payslips, stored)
			kept = append(kept, stored.EmployeeID)
		}
		removed, err := tx.DeletePayslipsExcept(ctx, p.ID, kept)
		if err != nil {
			return err
		}
		result.Removed = removed
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}
	if s.observer != nil {
		s.observer.ObservePayroll("generate")
	}
	s.logger.Info("payslips generated",
		slog.Int64("period_id", periodID),
		slog.Int("count", len(result.Payslips)),
		slog.Int64("removed", result.Removed),
		slog.String("fx_rate", result.FXRate),
	)
	return result, nil
}

func computePayslips(ctx context.Context, cfg calc.Config, p Period, employees []Employee, centers []CostCenter,
	attendance map[int64]calc.Attendance, variables map[int64][]calc.Variable, rate decimal.Decimal) ([]Payslip, error) {
	index := newCenterIndex(centers)
	slips := make([]Payslip, len(employees))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(generateWorkers)
	for i, emp := range employees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			in := calc.Input{
				EmployeeID:    emp.ID,
				BaseSalary:    emp.BaseSalary,
				BenefitInKind: emp.BenefitInKind,
				Variables:     variables[emp.ID],
				FXRate:        rate,
			}
			if att, ok := attendance[emp.ID]; ok {
				in.Attendance = &att
			}
			res, err := calc.Calculate(cfg, in)
			if err != nil {
				return fmt.Errorf("payroll: employee %d: %w", emp.ID, err)
			}
			allocs, err := payslipAllocations(emp, res, index)
			if err != nil {
				return fmt.Errorf("payroll: employee %d: %w", emp.ID, err)
			}
			slips[i] = Payslip{
				PeriodID:    p.ID,
				EmployeeID:  emp.ID,
				Gross:       res.Gross,
				Net:         res.Net,
				NetPayable:  res.NetPayable,
				FXRate:      res.FXRate,
				Lines:       res.Lines,
				Allocations: allocs,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slips, nil
}

// PostPeriod aggregates the payslips of a LOCKED period into one journal
// entry and marks the period POSTED.
func (s *Service) PostPeriod(ctx context.Context, periodID, actorID int64) (PostResult, error) {
	release, err := s.locker.Acquire(ctx, shared.PayrollPeriodLockKey(periodID))
	if err != nil {
		return PostResult{}, err
	}
	defer release()

	period, err := s.Period(ctx, periodID)
	if err != nil {
		return PostResult{}, err
	}
	accts, err := s.settings.Accounts(ctx, period.CompanyID)
	if err != nil {
		return PostResult{}, err
	}

	var result PostResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if p.Status != PeriodLocked {
			return fmt.Errorf("%w: status %s", ErrPeriodNotLocked, p.Status)
		}
		slips, err := tx.ListPayslips(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(slips) == 0 {
			return ErrNoPayslips
		}
		employees, err := tx.ListEmployees(ctx, p.CompanyID)
		if err != nil {
			return err
		}
		centers, err := tx.ListCostCenters(ctx, p.CompanyID)
		if err != nil {
			return err
		}
		agg, err := Aggregate(slips, employees, centers, accts)
		if err != nil {
			return err
		}
		batch, err := s.draft(ctx, tx, p, agg)
		if err != nil {
			return err
		}
		entry, err := s.engine.FinalizeBatch(ctx, tx, batch, ledger.EntryInput{
			CompanyID:   p.CompanyID,
			Date:        p.End(),
			SourceType:  ledger.SourcePayroll,
			SourceID:    uuid.New(),
			Description: "Payroll " + p.Label(),
			PostedBy:    actorID,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdatePeriodStatus(ctx, p.ID, PeriodPosted, &entry.ID); err != nil {
			return err
		}
		p.Status = PeriodPosted
		p.JournalEntryID = &entry.ID
		result = PostResult{Period: p, JournalID: entry.ID, JournalNumber: entry.Number}
		return tx.RecordAudit(ctx, s.auditLog(p, actorID, "payroll.post", map[string]any{
			"journal_number": entry.Number,
		}))
	})
	if err != nil {
		return PostResult{}, err
	}
	if s.observer != nil {
		s.observer.ObservePayroll("post")
	}
	s.logAction(result.Period, "payroll.post")
	return result, nil
}

func (s *Service) draft(ctx context.Context, tx TxRepository, p Period, agg Aggregation) (*ledger.Batch, error) {
	batch := ledger.NewBatch(p.CompanyID, p.End())
	label := "Payroll " + p.Label()
	for _, row := range agg.Expenses {
		account, err := s.resolver.ResolveByNumber(ctx, tx, p.CompanyID, row.AccountNumber, accountLabel(row.AccountCode))
		if err != nil {
			return nil, err
		}
		opts := []ledger.LegOption{ledger.WithLabel(label)}
		if row.CostCenterID != nil {
			opts = append(opts, ledger.WithCostCenter(*row.CostCenterID))
		}
		batch.Debit(account.ID, row.Amount, ledger.KindPayroll, opts...)
	}
	for _, row := range agg.Liabilities {
		account, err := s.resolver.ResolveByNumber(ctx, tx, p.CompanyID, row.AccountNumber, accountLabel(row.AccountCode))
		if err != nil {
			return nil, err
		}
		batch.Credit(account.ID, row.Amount, ledger.KindPayroll, ledger.WithLabel(label))
	}
	return batch, nil
}

// ReversePeriod mirrors the journal entry of a POSTED period into a new entry
// and returns the period to LOCKED. The original entry is left untouched.
func (s *Service) ReversePeriod(ctx context.Context, periodID, actorID int64) (PostResult, error) {
	release, err := s.locker.Acquire(ctx, shared.PayrollPeriodLockKey(periodID))
	if err != nil {
		return PostResult{}, err
	}
	defer release()

	var result PostResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if p.Status != PeriodPosted {
			return fmt.Errorf("%w: status %s", ErrPeriodNotPosted, p.Status)
		}
		if p.JournalEntryID == nil {
			return fmt.Errorf("%w: period %d has no journal", ledger.ErrJournalNotFound, p.ID)
		}
		original, err := tx.GetJournalWithLegs(ctx, *p.JournalEntryID)
		if err != nil {
			return err
		}
		if len(original.Legs) == 0 {
			return fmt.Errorf("%w: journal %s has no legs", ledger.ErrJournalNotFound, original.Number)
		}
		today := s.now().UTC()
		date := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		batch := s.engine.Mirror(p.CompanyID, date, original.Legs)
		entry, err := s.engine.FinalizeBatch(ctx, tx, batch, ledger.EntryInput{
			CompanyID:   p.CompanyID,
			Date:        date,
			SourceType:  ledger.SourcePayrollReversal,
			SourceID:    original.SourceID,
			Description: fmt.Sprintf("Reversal of %s (payroll %s)", original.Number, p.Label()),
			PostedBy:    actorID,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdatePeriodStatus(ctx, p.ID, PeriodLocked, nil); err != nil {
			return err
		}
		p.Status = PeriodLocked
		p.JournalEntryID = nil
		result = PostResult{Period: p, JournalID: entry.ID, JournalNumber: original.Number, ReversedNumber: entry.Number}
		return tx.RecordAudit(ctx, s.auditLog(p, actorID, "payroll.reverse", map[string]any{
			"journal_number":  original.Number,
			"reversal_number": entry.Number,
		}))
	})
	if err != nil {
		return PostResult{}, err
	}
	if s.observer != nil {
		s.observer.ObservePayroll("reverse")
	}
	s.logAction(result.Period, "payroll.reverse")
	return result, nil
}

// record audits a lifecycle step after its transaction committed. Failures
// are logged only; postings and reversals audit inside their transaction.
func (s *Service) record(ctx context.Context, p Period, actorID int64, action string, meta map[string]any) {
	s.logAction(p, action)
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, s.auditLog(p, actorID, action, meta)); err != nil {
		s.logger.Error("audit payroll", slog.Int64("period_id", p.ID), slog.Any("error", err))
	}
}

func (s *Service) logAction(p Period, action string) {
	s.logger.Info(action,
		slog.Int64("company_id", p.CompanyID),
		slog.Int64("period_id", p.ID),
		slog.String("status", string(p.Status)),
	)
}

func (s *Service) auditLog(p Period, actorID int64, action string, meta map[string]any) shared.AuditLog {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["period"] = p.Label()
	meta["status"] = p.Status
	return shared.AuditLog{
		CompanyID: p.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "payroll_period",
		EntityID:  strconv.FormatInt(p.ID, 10),
		Meta:      meta,
		At:        s.now(),
	}
}

func accountLabel(code string) string {
	words := strings.Split(strings.ToLower(code), "_")
	if len(words) > 0 && words[0] != "" {
		words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	}
	return strings.Join(words, " ")
}
