// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"

	"cloud.google.com/go/civil"

	"quicktrade/internal/models"
)

// ExecutionBroker places and inspects orders.
type ExecutionBroker interface {
	Name() string
	IsAuthenticated() bool

	PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error)
	PlaceGTT(ctx context.Context, gtt *models.GTTOrder) (*GTTResult, error)
	GetQuote(ctx context.Context, exchange models.Exchange, symbol string) (*models.Quote, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
}

// DataBroker supplies index prices and the expiry calendar.
type DataBroker interface {
	Name() string
	IsAuthenticated() bool

	GetSpotPrice(ctx context.Context, index models.Index) (float64, error)
	GetNextExpiry(ctx context.Context, index models.Index) (civil.Date, error)
}

// Authenticator drives a broker's OAuth redirect login.
type Authenticator interface {
	Name() string
	IsAuthenticated() bool

	// LoginURL returns the broker page the user must visit.
	LoginURL(state string) string
	// CompleteLogin exchanges the code from the redirect for an access token.
	CompleteLogin(ctx context.Context, code string) (*models.BrokerSession, error)
	// VerifySession checks the current token against the broker.
	VerifySession(ctx context.Context) error
	Logout(ctx context.Context) error
}

// SessionStore persists broker access tokens.
type SessionStore interface {
	SaveSession(ctx context.Context, session models.BrokerSession) error
	GetSession(ctx context.Context, broker models.BrokerName) (*models.BrokerSession, error)
	DeleteSession(ctx context.Context, broker models.BrokerName) error
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID string
	Status  string
	Message string
}

// GTTResult represents the result of a GTT order placement.
type GTTResult struct {
	TriggerID string
	Status    string
	Message   string
}
