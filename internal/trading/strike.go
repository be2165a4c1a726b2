package trading

import (
	"math"

	"github.com/shopspring/decimal"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

// maxStrike is the largest strike representable as an int.
var maxStrike = decimal.NewFromInt(int64(math.MaxInt))

// StrikeInterval returns the spacing between listed strikes for an index.
func StrikeInterval(index models.Index) (int, error) {
	spec, ok := models.LookupIndex(index)
	if !ok {
		return 0, apperrors.NewUnknownIndex(string(index))
	}
	return spec.StrikeInterval, nil
}

// NearestStrike rounds a spot price to the closest listed strike.
// An exact half interval rounds up, so NIFTY 24975 maps to 25000.
// Spot prices whose strike would not fit in an int are rejected.
func NearestStrike(spot float64, index models.Index) (int, error) {
	interval, err := StrikeInterval(index)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(spot) || math.IsInf(spot, 0) || spot <= 0 {
		return 0, apperrors.NewInvalidPrice(spot)
	}

	// Decimal arithmetic keeps values such as 24974.999999 from being
	// nudged across the half boundary by float error.
	step := decimal.NewFromInt(int64(interval))
	strike := decimal.NewFromFloat(spot).Div(step).Round(0).Mul(step)
	if strike.GreaterThan(maxStrike) {
		return 0, apperrors.NewInvalidPrice(spot)
	}
	return int(strike.IntPart()), nil
}
