package models

import (
	"time"

	"cloud.google.com/go/civil"
)

// ExpiryClassification distinguishes monthly from weekly contracts.
type ExpiryClassification string

const (
	ExpiryMonthly ExpiryClassification = "MONTHLY"
	ExpiryWeekly  ExpiryClassification = "WEEKLY"
)

// ExpiryRecord is the last known upcoming expiry for an index.
// Records are immutable once built; a refresh replaces the whole record.
type ExpiryRecord struct {
	Index          Index                `json:"index"`
	Date           civil.Date           `json:"date"`
	Classification ExpiryClassification `json:"classification"`
	FetchedAt      time.Time            `json:"fetched_at"`
}
