// Package trading provides the option symbol derivation, expiry tracking
// and order workflows for index options.
package trading

import (
	"time"

	"cloud.google.com/go/civil"

	"quicktrade/internal/models"
)

// LastThursday returns the last Thursday of the given month.
func LastThursday(year int, month time.Month) civil.Date {
	// Day 0 of the following month is the last day of this one.
	last := civil.DateOf(time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC))
	back := (int(weekday(last)) - int(time.Thursday) + 7) % 7
	return last.AddDays(-back)
}

// IsLastThursdayOfMonth reports whether d is the final Thursday of its month.
func IsLastThursdayOfMonth(d civil.Date) bool {
	if !d.IsValid() {
		return false
	}
	return d == LastThursday(d.Year, d.Month)
}

// Classify labels an expiry date as monthly or weekly.
//
// Monthly contracts are assumed to expire on the last Thursday of the month.
// Exchange holidays that move a monthly expiry to Wednesday, and any later
// change of the expiry weekday, are not modelled.
func Classify(d civil.Date) models.ExpiryClassification {
	if IsLastThursdayOfMonth(d) {
		return models.ExpiryMonthly
	}
	return models.ExpiryWeekly
}

// IsStale reports whether a stored expiry has lapsed as of today.
// A record is still fresh on its own expiry day.
func IsStale(stored, today civil.Date) bool {
	return today.After(stored)
}

// NewExpiryRecord builds a record with its classification derived from date.
func NewExpiryRecord(index models.Index, date civil.Date, fetchedAt time.Time) models.ExpiryRecord {
	return models.ExpiryRecord{
		Index:          index,
		Date:           date,
		Classification: Classify(date),
		FetchedAt:      fetchedAt,
	}
}

// DaysToExpiry returns the number of calendar days from today to the expiry.
func DaysToExpiry(rec models.ExpiryRecord, today civil.Date) int {
	return rec.Date.DaysSince(today)
}

func weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}
