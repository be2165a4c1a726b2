package trading

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

// weeklyMonthCodes maps a month to its single-character code in weekly
// contract symbols.
var weeklyMonthCodes = [...]string{
	time.January:   "1",
	time.February:  "2",
	time.March:     "3",
	time.April:     "4",
	time.May:       "5",
	time.June:      "6",
	time.July:      "7",
	time.August:    "8",
	time.September: "9",
	time.October:   "O",
	time.November:  "N",
	time.December:  "D",
}

// ParsedSymbol is the decoded form of an index option symbol.
type ParsedSymbol struct {
	Index          models.Index
	Expiry         civil.Date
	Classification models.ExpiryClassification
	Strike         int
	Direction      models.Direction
}

// ComposeSymbol derives the trading symbol for an index option.
//
// Monthly: INDEX + YY + MMM + STRIKE + CE|PE, e.g. NIFTY24JAN24950CE.
// Weekly:  INDEX + YY + M + DD + STRIKE + CE|PE, e.g. BANKNIFTY2420748100PE.
//
// YY is the year within its century; ParseSymbol reads it back as 20YY, so
// symbols round-trip only for expiries in 2000 through 2099.
func ComposeSymbol(index models.Index, direction models.Direction, spot float64, expiry *models.ExpiryRecord) (string, error) {
	if !index.Valid() {
		return "", apperrors.NewUnknownIndex(string(index))
	}
	if !direction.Valid() {
		return "", apperrors.NewInvalidDirection(string(direction))
	}
	strike, err := NearestStrike(spot, index)
	if err != nil {
		return "", err
	}
	return FormatSymbol(index, direction, strike, expiry)
}

// FormatSymbol renders a symbol for an already computed strike.
func FormatSymbol(index models.Index, direction models.Direction, strike int, expiry *models.ExpiryRecord) (string, error) {
	if !index.Valid() {
		return "", apperrors.NewUnknownIndex(string(index))
	}
	if !direction.Valid() {
		return "", apperrors.NewInvalidDirection(string(direction))
	}
	if expiry == nil || !expiry.Date.IsValid() {
		return "", apperrors.NewIncompleteExpiry(string(index))
	}

	var b strings.Builder
	b.WriteString(string(index))
	fmt.Fprintf(&b, "%02d", expiry.Date.Year%100)

	switch expiry.Classification {
	case models.ExpiryMonthly:
		b.WriteString(monthAbbrev(expiry.Date.Month))
	case models.ExpiryWeekly:
		b.WriteString(weeklyMonthCodes[expiry.Date.Month])
		fmt.Fprintf(&b, "%02d", expiry.Date.Day)
	default:
		return "", apperrors.NewIncompleteExpiry(string(index))
	}

	b.WriteString(strconv.Itoa(strike))
	b.WriteString(direction.Code())
	return b.String(), nil
}

// ParseSymbol decodes a symbol produced by ComposeSymbol. Monthly symbols
// carry no day, so their expiry is taken as the last Thursday of the month.
// The two-digit year is always placed in the 2000s.
func ParseSymbol(symbol string) (ParsedSymbol, error) {
	var p ParsedSymbol
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, string(models.NFO)+":")

	// Longest name first so a shorter index never claims a longer one's prefix.
	for _, index := range []models.Index{models.IndexBankNifty, models.IndexNifty} {
		if strings.HasPrefix(s, string(index)) {
			p.Index = index
			s = s[len(index):]
			break
		}
	}
	if p.Index == "" {
		return p, invalidSymbol(symbol, "unknown index")
	}

	if len(s) < 2 {
		return p, invalidSymbol(symbol, "missing option type")
	}
	direction, ok := models.ParseDirection(s[len(s)-2:])
	if !ok {
		return p, invalidSymbol(symbol, "missing option type")
	}
	p.Direction = direction
	s = s[:len(s)-2]

	if len(s) < 2 || !isDigits(s[:2]) {
		return p, invalidSymbol(symbol, "missing year")
	}
	year := 2000 + atoi(s[:2])
	s = s[2:]

	if len(s) >= 3 {
		if month, ok := parseMonthAbbrev(s[:3]); ok {
			p.Classification = models.ExpiryMonthly
			p.Expiry = LastThursday(year, month)
			s = s[3:]
		}
	}
	if p.Classification == "" {
		if len(s) < 3 || !isDigits(s[1:3]) {
			return p, invalidSymbol(symbol, "missing expiry")
		}
		month, ok := parseMonthCode(s[:1])
		if !ok {
			return p, invalidSymbol(symbol, "bad month code")
		}
		p.Expiry = civil.Date{Year: year, Month: month, Day: atoi(s[1:3])}
		if !p.Expiry.IsValid() {
			return p, invalidSymbol(symbol, "bad expiry day")
		}
		p.Classification = models.ExpiryWeekly
		s = s[3:]
	}

	if s == "" || !isDigits(s) {
		return p, invalidSymbol(symbol, "bad strike")
	}
	p.Strike = atoi(s)
	interval, _ := StrikeInterval(p.Index)
	if p.Strike <= 0 || p.Strike%interval != 0 {
		return p, invalidSymbol(symbol, fmt.Sprintf("strike must be a positive multiple of %d", interval))
	}
	return p, nil
}

func monthAbbrev(m time.Month) string {
	return strings.ToUpper(m.String()[:3])
}

func parseMonthAbbrev(s string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if monthAbbrev(m) == s {
			return m, true
		}
	}
	return 0, false
}

func parseMonthCode(s string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if weeklyMonthCodes[m] == s {
			return m, true
		}
	}
	return 0, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func invalidSymbol(symbol, reason string) error {
	return apperrors.NewInvalidInput("symbol", fmt.Sprintf("%q: %s", symbol, reason))
}
