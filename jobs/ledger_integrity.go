package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	jobmetrics "github.com/odyssey-erp/ledgerpay/internal/jobs"
)

// BalanceVerifier reports stored journal entries that do not balance.
type BalanceVerifier interface {
	VerifyBalanced(ctx context.Context, reader ledger.IntegrityReader) ([]ledger.UnbalancedJournal, error)
}

// ErrUnbalancedJournals is returned when the scan finds at least one bad entry.
var ErrUnbalancedJournals = errors.New("ledger integrity: unbalanced journal entries")

// LedgerIntegrityJob scans every journal entry and logs the unbalanced ones.
type LedgerIntegrityJob struct {
	Verifier BalanceVerifier
	Reader   ledger.IntegrityReader
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs the cron handler.
func NewLedgerIntegrityJob(verifier BalanceVerifier, reader ledger.IntegrityReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Verifier: verifier, Reader: reader, Logger: logger, Metrics: metrics}
}

// Handle executes a ledger:integrity task.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	if errors.Is(err, ErrUnbalancedJournals) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run performs the scan and returns the unbalanced entries.
func (j *LedgerIntegrityJob) Run(ctx context.Context) ([]ledger.UnbalancedJournal, error) {
	if j == nil || j.Verifier == nil || j.Reader == nil {
		return nil, errors.New("ledger integrity: dependencies not configured")
	}
	tracker := j.metrics().Track("ledger_integrity")
	bad, err := j.Verifier.VerifyBalanced(ctx, j.Reader)
	if err != nil {
		j.log().Error("scan journal totals", slog.Any("error", err))
		return nil, tracker.End(err)
	}
	if len(bad) == 0 {
		j.log().Info("ledger integrity check passed")
		return nil, tracker.End(nil)
	}
	perCompany := make(map[int64]int)
	for _, entry := range bad {
		perCompany[entry.CompanyID]++
		j.log().Error("unbalanced journal entry",
			slog.Int64("company_id", entry.CompanyID),
			slog.String("number", entry.Number),
			slog.String("debit", entry.Debit.StringFixed(2)),
			slog.String("credit", entry.Credit.StringFixed(2)),
		)
	}
	for companyID, count := range perCompany {
		j.metrics().AddUnbalanced(companyID, count)
	}
	return bad, tracker.End(fmt.Errorf("%w: %d found", ErrUnbalancedJournals, len(bad)))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
