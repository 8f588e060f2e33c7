package model

import (
	"encoding/json"
	"time"
)

// LedgerSnapshot is the last-known authoritative balance and counters for a
// user, persisted locally so a failed remote fetch can fall back to it.
type LedgerSnapshot struct {
	TelegramID int64 `gorm:"primaryKey"`
	Balance    float64
	Counters   json.RawMessage
	UpdatedAt  time.Time
}

// AppliedReward records a confirmed reward delta by its idempotency key so a
// duplicate confirmation for the same key is never applied twice.
type AppliedReward struct {
	TelegramID int64  `gorm:"primaryKey;autoIncrement:false"`
	RewardKey  string `gorm:"primaryKey"`
	Amount     float64
	CreatedAt  time.Time
}
