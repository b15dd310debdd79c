package billing

import (
	"fmt"
	"time"

	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// DateLayout is the calendar-date format used for billing dates throughout
// the engine. Billing dates have no time component.
const DateLayout = "2006-01-02"

// FormatDate renders a time as a calendar billing date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a calendar billing date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// NextBillingDate returns the next billing date after anchor for the given
// frequency. Monthly adds one calendar month preserving the day-of-month,
// clamped to shorter months (Jan 31 -> Feb 29 in a leap year) without ever
// drifting back up (Feb 29 -> Mar 29). Unrecognized frequencies default to
// monthly.
func NextBillingDate(anchor time.Time, frequency models.Frequency) time.Time {
	switch frequency {
	case models.FrequencyWeekly:
		return anchor.AddDate(0, 0, 7)
	case models.FrequencyBiweekly:
		return anchor.AddDate(0, 0, 14)
	case models.FrequencyFourWeeks:
		return anchor.AddDate(0, 0, 28)
	case models.FrequencySixWeeks:
		return anchor.AddDate(0, 0, 42)
	case models.FrequencyEightWeeks:
		return anchor.AddDate(0, 0, 56)
	case models.FrequencyMonthly:
		return addMonthClamped(anchor)
	default:
		return addMonthClamped(anchor)
	}
}

// addMonthClamped adds one calendar month, clamping the day to the target
// month's length. time.AddDate is not used because it normalizes Jan 31 + 1
// month to Mar 2/3 instead of the end of February.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// NextRetryDelay returns the backoff before the retry following attemptNumber
// (1-based), per the dunning schedule. ok is false when attemptNumber has
// reached maxAttempts and no further retry is allowed. Attempts beyond the
// schedule's length reuse its last entry.
func NextRetryDelay(attemptNumber int, schedule []time.Duration, maxAttempts int) (time.Duration, bool) {
	if attemptNumber >= maxAttempts || len(schedule) == 0 {
		return 0, false
	}
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx], true
}

// InvoiceNumber derives the cycle-scoped invoice number from the subscription
// id and the cycle's billing date. Deterministic on purpose: a crash-and-retry
// of the billing run regenerates the identical number.
func InvoiceNumber(subscriptionID utils.SixID, billingDate string) string {
	return fmt.Sprintf("INV-%s-%s", subscriptionID.String(), billingDate)
}

// IdempotencyKey derives the gateway idempotency key for one subscription
// cycle. Never derived from wall-clock time alone: a crash-and-retry of the
// run must resubmit the identical key so the gateway can dedupe.
func IdempotencyKey(subscriptionID utils.SixID, billingDate string) string {
	return fmt.Sprintf("%s:%s", subscriptionID.String(), billingDate)
}
