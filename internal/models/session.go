package models

import "time"

// BrokerName identifies a linked brokerage account.
type BrokerName string

const (
	BrokerZerodha BrokerName = "zerodha"
	BrokerFyers   BrokerName = "fyers"
)

// BrokerSession is a persisted access token for one broker.
type BrokerSession struct {
	Broker      BrokerName `json:"broker"`
	AccessToken string     `json:"access_token"`
	UserID      string     `json:"user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at t.
func (s BrokerSession) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}

// ExpiryRefresh is an audit entry for one expiry refresh attempt.
type ExpiryRefresh struct {
	ID             int64                `json:"id"`
	Index          Index                `json:"index"`
	ExpiryDate     string               `json:"expiry_date,omitempty"`
	Classification ExpiryClassification `json:"classification,omitempty"`
	Success        bool                 `json:"success"`
	Error          string               `json:"error,omitempty"`
	RefreshedAt    time.Time            `json:"refreshed_at"`
}
