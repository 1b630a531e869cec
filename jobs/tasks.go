package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/ledgerpay/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPayrollGenerate computes the payslips of one payroll period.
	TaskPayrollGenerate = "payroll:generate"
	// TaskLedgerIntegrity scans stored journal entries for imbalance.
	TaskLedgerIntegrity = "ledger:integrity"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PayrollGeneratePayload identifies the period to generate.
type PayrollGeneratePayload struct {
	PeriodID int64 `json:"period_id"`
}

// NewPayrollGenerateTask constructs a payroll:generate task.
func NewPayrollGenerateTask(periodID int64) (*asynq.Task, error) {
	if periodID <= 0 {
		return nil, errors.New("jobs: period id must be positive")
	}
	body, err := json.Marshal(PayrollGeneratePayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPayrollGenerate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewLedgerIntegrityTask constructs the integrity scan task registered on the scheduler.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}
