package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	// StatusPending is the entry state of a direct vend with no payment leg.
	StatusPending TransactionStatus = "pending"
	// StatusPendingPayment waits for the gateway to confirm the charge.
	StatusPendingPayment TransactionStatus = "pending_payment"
	// StatusPaid means the charge is confirmed and the vend has not finished.
	StatusPaid    TransactionStatus = "paid"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// transitions lists every forward edge of the state machine.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPendingPayment: {StatusPaid, StatusFailed},
	StatusPaid:           {StatusSuccess, StatusFailed},
	StatusPending:        {StatusSuccess, StatusFailed},
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to TransactionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the vend leg is finished.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type TransactionType string

const (
	TypeElectricity TransactionType = "electricity"
	TypeAirtime     TransactionType = "airtime"
	TypeData        TransactionType = "data"
	TypeCableTV     TransactionType = "cable_tv"
	TypeInternet    TransactionType = "internet"
)

type Vertical string

const (
	VerticalElectricity   Vertical = "electricity"
	VerticalTelecoms      Vertical = "telecoms"
	VerticalEntertainment Vertical = "entertainment"
)

// Vertical maps a transaction type onto the orchestrator that fulfils it.
func (t TransactionType) Vertical() Vertical {
	switch t {
	case TypeElectricity:
		return VerticalElectricity
	case TypeAirtime, TypeData:
		return VerticalTelecoms
	case TypeCableTV, TypeInternet:
		return VerticalEntertainment
	}
	return ""
}

func (t TransactionType) Valid() bool { return t.Vertical() != "" }

// Types returns the transaction types grouped under a vertical.
func (v Vertical) Types() []TransactionType {
	switch v {
	case VerticalElectricity:
		return []TransactionType{TypeElectricity}
	case VerticalTelecoms:
		return []TransactionType{TypeAirtime, TypeData}
	case VerticalEntertainment:
		return []TransactionType{TypeCableTV, TypeInternet}
	}
	return nil
}

type Transaction struct {
	ID           uint64                   `gorm:"primaryKey" json:"id"`
	Reference    string                   `gorm:"size:64;not null;uniqueIndex" json:"reference"`
	Type         TransactionType          `gorm:"size:32;not null;index" json:"type"`
	Amount       decimal.Decimal          `gorm:"type:numeric(20,2);not null" json:"amount"`
	Status       TransactionStatus        `gorm:"size:32;not null;index" json:"status"`
	ProviderName string                   `gorm:"size:32;index" json:"provider_name"`
	Meta         datatypes.JSONType[Meta] `json:"meta"`
	UserID       *uint64                  `gorm:"index" json:"user_id,omitempty"`
	CreatedAt    time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// Metadata returns a copy of the typed meta document.
func (t *Transaction) Metadata() Meta { return t.Meta.Data() }

// SetMetadata replaces the stored meta document.
func (t *Transaction) SetMetadata(m Meta) { t.Meta = datatypes.NewJSONType(m) }
