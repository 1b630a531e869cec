package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/ledgerpay/internal/jobs"
	"github.com/odyssey-erp/ledgerpay/internal/payroll"
	"github.com/odyssey-erp/ledgerpay/internal/platform/lock"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// PayslipGenerator is the payroll operation run by the job.
type PayslipGenerator interface {
	GeneratePayslips(ctx context.Context, periodID int64) (payroll.GenerateResult, error)
}

// PayrollGenerateJob runs payslip generation off the request path.
type PayrollGenerateJob struct {
	Service PayslipGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPayrollGenerateJob constructs the job handler.
func NewPayrollGenerateJob(service PayslipGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *PayrollGenerateJob {
	return &PayrollGenerateJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes a payroll:generate task.
func (j *PayrollGenerateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("payroll generate: dependencies not configured")
	}
	var payload PayrollGeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.PeriodID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track("payroll_generate")
	start := time.Now()
	result, err := j.Service.GeneratePayslips(ctx, payload.PeriodID)
	if err != nil {
		j.log().Error("generate payslips", slog.Int64("period_id", payload.PeriodID), slog.Any("error", err))
		return tracker.End(retryable(err))
	}
	j.log().Info("payslips generated",
		slog.Int64("period_id", payload.PeriodID),
		slog.Int("payslips", len(result.Payslips)),
		slog.String("fx_rate", result.FXRate),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

// retryable marks domain errors that a retry cannot fix. A busy period lock
// is transient and is retried.
func retryable(err error) error {
	if errors.Is(err, lock.ErrBusy) {
		return err
	}
	for _, class := range []error{shared.ErrValidation, shared.ErrState, shared.ErrNotFound, shared.ErrMissingConfiguration, shared.ErrInvariant} {
		if errors.Is(err, class) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
	}
	return err
}

func (j *PayrollGenerateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PayrollGenerateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPayrollGenerate))
	}
	return slog.Default().With(slog.String("job", TaskPayrollGenerate))
}
