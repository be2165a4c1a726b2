package models

import "time"

// Order represents a trading order.
type Order struct {
	ID           string
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Validity     string // DAY, IOC
	Tag          string
	Status       string
	FilledQty    int
	AveragePrice float64
	PlacedAt     time.Time
}

// GTTOrder is a two-leg good-till-triggered exit (stop loss below, target
// above) attached to an open long option.
type GTTOrder struct {
	ID            string
	Symbol        string
	Exchange      Exchange
	Product       ProductType
	Quantity      int
	LastPrice     float64
	StopLossPrice float64
	TargetPrice   float64
	Status        string
	CreatedAt     time.Time
}

// Position represents an open trading position.
type Position struct {
	Symbol       string      `json:"symbol"`
	Exchange     Exchange    `json:"exchange"`
	Product      ProductType `json:"product"`
	Quantity     int         `json:"quantity"`
	AveragePrice float64     `json:"average_price"`
	LTP          float64     `json:"ltp"`
	PnL          float64     `json:"pnl"`
	Multiplier   int         `json:"multiplier"`
}

// IsOpen reports whether the position still carries quantity.
func (p Position) IsOpen() bool {
	return p.Quantity != 0
}
