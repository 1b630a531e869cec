package mappings

import (
	"errors"
	"time"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// ModulePayroll scopes payroll account codes.
const ModulePayroll = "PAYROLL"

// AccountMapping links an integration key to a ledger account number.
type AccountMapping struct {
	CompanyID     int64
	Module        string
	Key           string
	AccountNumber string
	Label         string
	UpdatedAt     time.Time
}

// ErrMappingNotFound indicates no mapping row for the key.
var ErrMappingNotFound = shared.Classify(shared.ErrNotFound, errors.New("mappings: account mapping not found"))
