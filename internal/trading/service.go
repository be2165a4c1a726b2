package trading

import (
	"context"

	"cloud.google.com/go/civil"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

// SpotPriceProvider supplies the current spot price of an index.
type SpotPriceProvider interface {
	GetSpotPrice(ctx context.Context, index models.Index) (float64, error)
}

// ExpiryDataProvider supplies the nearest upcoming expiry of an index.
type ExpiryDataProvider interface {
	GetNextExpiry(ctx context.Context, index models.Index) (civil.Date, error)
}

// SymbolQuote is a resolved contract together with the inputs used to
// derive it.
type SymbolQuote struct {
	Index     models.Index        `json:"index"`
	Direction models.Direction    `json:"direction"`
	Spot      float64             `json:"spot"`
	Strike    int                 `json:"strike"`
	Expiry    models.ExpiryRecord `json:"expiry"`
	Symbol    string              `json:"symbol"`
}

// SymbolService resolves the tradable option symbol for an index and
// direction from the live spot price and the cached expiry.
type SymbolService struct {
	prices   SpotPriceProvider
	expiries *ExpiryCache
}

// NewSymbolService creates a new symbol service.
func NewSymbolService(prices SpotPriceProvider, expiries *ExpiryCache) *SymbolService {
	return &SymbolService{
		prices:   prices,
		expiries: expiries,
	}
}

// GetTradingSymbol returns the symbol of the at-the-money option.
func (s *SymbolService) GetTradingSymbol(ctx context.Context, index models.Index, direction models.Direction, today civil.Date) (string, error) {
	q, err := s.Resolve(ctx, index, direction, today)
	if err != nil {
		return "", err
	}
	return q.Symbol, nil
}

// Resolve returns the symbol along with its spot, strike and expiry.
func (s *SymbolService) Resolve(ctx context.Context, index models.Index, direction models.Direction, today civil.Date) (*SymbolQuote, error) {
	if !index.Valid() {
		return nil, apperrors.NewUnknownIndex(string(index))
	}
	if !direction.Valid() {
		return nil, apperrors.NewInvalidDirection(string(direction))
	}

	spot, err := SpotPrice(ctx, s.prices, index)
	if err != nil {
		return nil, err
	}
	strike, err := NearestStrike(spot, index)
	if err != nil {
		return nil, err
	}

	expiry, err := s.expiries.GetExpiry(ctx, index, today)
	if err != nil {
		return nil, err
	}

	symbol, err := FormatSymbol(index, direction, strike, &expiry)
	if err != nil {
		return nil, err
	}

	return &SymbolQuote{
		Index:     index,
		Direction: direction,
		Spot:      spot,
		Strike:    strike,
		Expiry:    expiry,
		Symbol:    symbol,
	}, nil
}

// Expiries exposes the cache backing the service.
func (s *SymbolService) Expiries() *ExpiryCache {
	return s.expiries
}

// StrikeService computes strikes, either from a given spot or from the
// live spot price.
type StrikeService struct {
	prices SpotPriceProvider
}

// NewStrikeService creates a new strike service. prices may be nil when
// only GetStrike is used.
func NewStrikeService(prices SpotPriceProvider) *StrikeService {
	return &StrikeService{prices: prices}
}

// GetStrike rounds spot to the nearest strike of index.
func (s *StrikeService) GetStrike(index models.Index, spot float64) (int, error) {
	return NearestStrike(spot, index)
}

// CurrentStrike fetches the spot price and returns it with its strike.
func (s *StrikeService) CurrentStrike(ctx context.Context, index models.Index) (float64, int, error) {
	if !index.Valid() {
		return 0, 0, apperrors.NewUnknownIndex(string(index))
	}
	spot, err := SpotPrice(ctx, s.prices, index)
	if err != nil {
		return 0, 0, err
	}
	strike, err := NearestStrike(spot, index)
	if err != nil {
		return 0, 0, err
	}
	return spot, strike, nil
}

// SpotPrice queries p and wraps any failure as PriceUnavailable.
func SpotPrice(ctx context.Context, p SpotPriceProvider, index models.Index) (float64, error) {
	if p == nil {
		return 0, apperrors.NewPriceUnavailable(string(index), nil)
	}
	spot, err := p.GetSpotPrice(ctx, index)
	if err != nil {
		return 0, apperrors.NewPriceUnavailable(string(index), err)
	}
	return spot, nil
}
