// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"quicktrade/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Broker sessions
	SaveSession(ctx context.Context, session models.BrokerSession) error
	GetSession(ctx context.Context, broker models.BrokerName) (*models.BrokerSession, error)
	DeleteSession(ctx context.Context, broker models.BrokerName) error
	ListSessions(ctx context.Context) ([]models.BrokerSession, error)
	ClearExpiredSessions(ctx context.Context, now time.Time, maxAge time.Duration) (int64, error)

	// Trade journal
	RecordTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error)

	// Expiry refresh audit
	RecordRefresh(ctx context.Context, refresh *models.ExpiryRefresh) error
	ListRefreshes(ctx context.Context, index models.Index, limit int) ([]models.ExpiryRefresh, error)

	// Job bookkeeping
	GetLastSync(job string) time.Time
	SetLastSync(job string, t time.Time) error

	// Backup writes a JSON snapshot into dir and returns its path.
	Backup(ctx context.Context, dir string) (string, error)

	// Lifecycle
	Close() error
}

// Snapshot is the content of a backup file.
type Snapshot struct {
	CreatedAt       time.Time              `json:"created_at"`
	Sessions        []models.BrokerSession `json:"broker_sessions"`
	Trades          []models.Trade         `json:"trades"`
	ExpiryRefreshes []models.ExpiryRefresh `json:"expiry_refreshes"`
}
