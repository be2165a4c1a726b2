package utils

import (
	"time"

	"cloud.google.com/go/civil"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// Today returns the current trading calendar date in India.
func Today() civil.Date {
	return DateIn(time.Now())
}

// DateIn returns the Indian calendar date of t.
func DateIn(t time.Time) civil.Date {
	return civil.DateOf(t.In(IndiaLocation))
}

// MarketStatusAt returns the NSE session state at t. Exchange holidays are
// not considered.
func MarketStatusAt(t time.Time) MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	minutes := now.Hour()*60 + now.Minute()
	switch {
	case minutes >= 9*60 && minutes < 9*60+15:
		return MarketPreOpen
	case minutes >= 9*60+15 && minutes < 15*60+30:
		return MarketOpen
	}
	return MarketClosed
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return MarketStatusAt(time.Now()) == MarketOpen
}
