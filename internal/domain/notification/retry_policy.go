package notification

import "time"

var retrySchedule = [...]time.Duration{
	1 * time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

// NextRetryDelay returns the wait before the record becomes retry-eligible again,
// keyed on the retry count reached after the failure. ok is false when no further
// automatic retry is scheduled.
func NextRetryDelay(retryCount int) (d time.Duration, ok bool) {
	if retryCount < 1 || retryCount > len(retrySchedule) {
		return 0, false
	}
	return retrySchedule[retryCount-1], true
}
