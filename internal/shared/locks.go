package shared

import "fmt"

// DeferralLockKey names the per-company critical section of deferral
// generation and cancellation.
func DeferralLockKey(companyID int64) string {
	return fmt.Sprintf("deferral:company:%d:lock", companyID)
}
