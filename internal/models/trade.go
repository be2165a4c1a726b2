package models

import "time"

// TradeAction names what a journal entry records.
type TradeAction string

const (
	TradeActionEntry   TradeAction = "ENTRY"
	TradeActionExit    TradeAction = "EXIT"
	TradeActionExitAll TradeAction = "EXIT_ALL"
)

// TradeStatus is the outcome of a journaled broker call.
type TradeStatus string

const (
	TradeStatusPlaced TradeStatus = "PLACED"
	TradeStatusFailed TradeStatus = "FAILED"
)

// Trade is one journaled order attempt.
type Trade struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Action    TradeAction `json:"action"`
	Index     Index       `json:"index,omitempty"`
	Direction Direction   `json:"direction,omitempty"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Quantity  int         `json:"quantity"`
	Lots      int         `json:"lots,omitempty"`
	Strike    int         `json:"strike,omitempty"`
	OrderID   string      `json:"order_id,omitempty"`
	GTTID     string      `json:"gtt_id,omitempty"`
	Status    TradeStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	IsPaper   bool        `json:"is_paper"`
}

// TradeFilter narrows journal queries.
type TradeFilter struct {
	Symbol string
	Since  time.Time
	Limit  int
}
