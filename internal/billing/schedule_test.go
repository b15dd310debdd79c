package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestNextBillingDate_FixedIntervals(t *testing.T) {
	cases := []struct {
		frequency models.Frequency
		anchor    string
		want      string
	}{
		{models.FrequencyWeekly, "2024-01-31", "2024-02-07"},
		{models.FrequencyBiweekly, "2024-01-31", "2024-02-14"},
		{models.FrequencyFourWeeks, "2024-01-31", "2024-02-28"},
		{models.FrequencySixWeeks, "2024-01-01", "2024-02-12"},
		{models.FrequencyEightWeeks, "2024-01-01", "2024-02-26"},
	}
	for _, c := range cases {
		got := NextBillingDate(mustDate(t, c.anchor), c.frequency)
		assert.Equal(t, c.want, FormatDate(got), "frequency %s", c.frequency)
	}
}

func TestNextBillingDate_MonthlyClampsShortMonths(t *testing.T) {
	cases := []struct {
		anchor string
		want   string
	}{
		{"2024-01-31", "2024-02-29"}, // leap year clamp
		{"2023-01-31", "2023-02-28"},
		{"2024-03-31", "2024-04-30"},
		{"2024-01-15", "2024-02-15"},
		{"2024-12-31", "2025-01-31"}, // year rollover
	}
	for _, c := range cases {
		got := NextBillingDate(mustDate(t, c.anchor), models.FrequencyMonthly)
		assert.Equal(t, c.want, FormatDate(got), "anchor %s", c.anchor)
	}
}

// A clamped monthly date must not drift further down on subsequent cycles:
// Jan 31 -> Feb 29 -> Mar 29, never Mar 2.
func TestNextBillingDate_MonthlyNoDrift(t *testing.T) {
	d := mustDate(t, "2024-01-31")
	d = NextBillingDate(d, models.FrequencyMonthly)
	assert.Equal(t, "2024-02-29", FormatDate(d))
	d = NextBillingDate(d, models.FrequencyMonthly)
	assert.Equal(t, "2024-03-29", FormatDate(d))
	d = NextBillingDate(d, models.FrequencyMonthly)
	assert.Equal(t, "2024-04-29", FormatDate(d))
}

func TestNextBillingDate_UnknownFrequencyDefaultsToMonthly(t *testing.T) {
	got := NextBillingDate(mustDate(t, "2024-05-10"), models.Frequency("fortnightly-ish"))
	assert.Equal(t, "2024-06-10", FormatDate(got))
}

func TestNextRetryDelay_Schedule(t *testing.T) {
	schedule := []time.Duration{3 * 24 * time.Hour, 7 * 24 * time.Hour, 14 * 24 * time.Hour}

	d, ok := NextRetryDelay(1, schedule, 3)
	assert.True(t, ok)
	assert.Equal(t, 3*24*time.Hour, d)

	d, ok = NextRetryDelay(2, schedule, 3)
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, d)

	// Third failure hits the attempt cap: no further retry.
	_, ok = NextRetryDelay(3, schedule, 3)
	assert.False(t, ok)
}

func TestNextRetryDelay_ShortScheduleReusesLastEntry(t *testing.T) {
	schedule := []time.Duration{2 * 24 * time.Hour}
	d, ok := NextRetryDelay(3, schedule, 5)
	assert.True(t, ok)
	assert.Equal(t, 2*24*time.Hour, d)
}

func TestNextRetryDelay_EmptySchedule(t *testing.T) {
	_, ok := NextRetryDelay(1, nil, 3)
	assert.False(t, ok)
}

func TestInvoiceNumber_Deterministic(t *testing.T) {
	utils.NewSixIDHook = func() (utils.SixID, bool) {
		return utils.SixID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, true
	}
	defer func() { utils.NewSixIDHook = nil }()

	id := utils.NewSixID()
	a := InvoiceNumber(id, "2024-02-29")
	b := InvoiceNumber(id, "2024-02-29")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "INV-")
	assert.Contains(t, a, "2024-02-29")

	assert.Equal(t, id.String()+":2024-02-29", IdempotencyKey(id, "2024-02-29"))
}
