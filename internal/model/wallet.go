package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletBalance is a read-only snapshot of the merchant float held at a
// vendor. It is derived per request and never persisted.
type WalletBalance struct {
	Provider        string          `json:"provider"`
	Balance         decimal.Decimal `json:"balance"`
	Currency        string          `json:"currency"`
	Threshold       decimal.Decimal `json:"threshold"`
	LowBalanceAlert bool            `json:"low_balance_alert"`
	LastUpdated     time.Time       `json:"last_updated"`
}
