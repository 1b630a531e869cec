package shared

import "fmt"

// PayrollPeriodLockKey builds redis keys for payroll period critical sections.
func PayrollPeriodLockKey(periodID int64) string {
	return fmt.Sprintf("payroll:period:%d:lock", periodID)
}
