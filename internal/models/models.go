// Package models provides domain models for the quick trade application.
package models

import (
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	NFO Exchange = "NFO" // F&O
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)

// TradingMode selects where orders are routed.
type TradingMode string

const (
	ModeLive  TradingMode = "live"
	ModePaper TradingMode = "paper"
)

// Index is a derivatives index with listed weekly and monthly options.
type Index string

const (
	IndexNifty     Index = "NIFTY"
	IndexBankNifty Index = "BANKNIFTY"
)

// IndexSpec holds the fixed contract metadata for an index.
type IndexSpec struct {
	Index          Index
	StrikeInterval int
	QuoteSymbol    string // data-broker spot symbol
	LotSize        int
	Exchange       Exchange
}

var indexSpecs = map[Index]IndexSpec{
	IndexNifty: {
		Index:          IndexNifty,
		StrikeInterval: 50,
		QuoteSymbol:    "NSE:NIFTY50-INDEX",
		LotSize:        75,
		Exchange:       NFO,
	},
	IndexBankNifty: {
		Index:          IndexBankNifty,
		StrikeInterval: 100,
		QuoteSymbol:    "NSE:NIFTYBANK-INDEX",
		LotSize:        30,
		Exchange:       NFO,
	},
}

// Indices returns the supported indices in display order.
func Indices() []Index {
	return []Index{IndexNifty, IndexBankNifty}
}

// LookupIndex returns the contract metadata for an index.
func LookupIndex(i Index) (IndexSpec, bool) {
	spec, ok := indexSpecs[i]
	return spec, ok
}

// ParseIndex parses an index name case-insensitively.
func ParseIndex(s string) (Index, bool) {
	i := Index(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := indexSpecs[i]
	return i, ok
}

// Valid reports whether the index is supported.
func (i Index) Valid() bool {
	_, ok := indexSpecs[i]
	return ok
}

func (i Index) String() string {
	return string(i)
}

// Direction is the option side being bought.
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// Code returns the exchange suffix for the direction.
func (d Direction) Code() string {
	switch d {
	case DirectionCall:
		return "CE"
	case DirectionPut:
		return "PE"
	}
	return ""
}

// Valid reports whether the direction is CALL or PUT.
func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

// ParseDirection accepts CALL, PUT, CE or PE in any case.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "CE":
		return DirectionCall, true
	case "PUT", "PE":
		return DirectionPut, true
	}
	return "", false
}

// Quote represents a market quote.
type Quote struct {
	Symbol    string
	LTP       float64
	Timestamp time.Time
}
