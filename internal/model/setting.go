package model

import "time"

// Setting keys read at runtime.
const (
	SettingBillPaymentProvider = "bill_payment_provider"
	SettingWalletMinBalance    = "wallet_min_balance"
)

// Setting is an admin-editable override of a static config value.
type Setting struct {
	ID        uint64    `gorm:"primaryKey"`
	Key       string    `gorm:"size:64;not null;uniqueIndex"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }
