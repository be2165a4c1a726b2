package trading

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"quicktrade/internal/models"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, models.ExpiryMonthly, Classify(date(2024, time.January, 25)))
	assert.Equal(t, models.ExpiryWeekly, Classify(date(2024, time.January, 18)))
	// Wednesday expiry in a month whose last Thursday is the 29th.
	assert.Equal(t, models.ExpiryWeekly, Classify(date(2024, time.February, 7)))
	assert.Equal(t, models.ExpiryMonthly, Classify(date(2024, time.February, 29)))
}

func TestLastThursday(t *testing.T) {
	assert.Equal(t, date(2024, time.January, 25), LastThursday(2024, time.January))
	assert.Equal(t, date(2024, time.February, 29), LastThursday(2024, time.February))
	// Month ending on a Thursday.
	assert.Equal(t, date(2024, time.October, 31), LastThursday(2024, time.October))
	assert.Equal(t, date(2025, time.December, 25), LastThursday(2025, time.December))
}

func TestIsLastThursdayOfMonthRejectsInvalidDate(t *testing.T) {
	assert.False(t, IsLastThursdayOfMonth(date(2024, time.February, 30)))
}

func TestIsStale(t *testing.T) {
	stored := date(2024, time.January, 25)
	assert.False(t, IsStale(stored, date(2024, time.January, 24)))
	assert.False(t, IsStale(stored, stored))
	assert.True(t, IsStale(stored, date(2024, time.January, 26)))
}

func TestDaysToExpiry(t *testing.T) {
	rec := NewExpiryRecord(models.IndexNifty, date(2024, time.January, 25), time.Now())
	assert.Equal(t, 7, DaysToExpiry(rec, date(2024, time.January, 18)))
	assert.Equal(t, models.ExpiryMonthly, rec.Classification)
}

// Property: exactly one day per month classifies as monthly, and it is a
// Thursday within the final seven days.
func TestProperty_OneMonthlyExpiryPerMonth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("one monthly date per month", prop.ForAll(
		func(year, month int) bool {
			first := date(year, time.Month(month), 1)
			monthly := 0
			for d := first; d.Month == first.Month; d = d.AddDays(1) {
				if Classify(d) == models.ExpiryMonthly {
					monthly++
					if weekday(d) != time.Thursday || d.AddDays(7).Month == d.Month {
						return false
					}
				}
			}
			return monthly == 1
		},
		gen.IntRange(2000, 2099),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
