package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Meta is the structured attachment stored in Transaction.Meta. Each field is
// a known sub-document; fields are only ever added or appended to.
type Meta struct {
	BillData       *BillData        `json:"bill_data,omitempty"`
	Gateway        string           `json:"gateway,omitempty"`
	OriginalAmount *decimal.Decimal `json:"original_amount,omitempty"`
	Fee            *decimal.Decimal `json:"fee,omitempty"`
	Tax            *decimal.Decimal `json:"tax,omitempty"`
	InitError      string           `json:"init_error,omitempty"`

	PaymentDetails *PaymentDetails `json:"payment_details,omitempty"`

	VendResponse     *VendResponse `json:"vend_response,omitempty"`
	VendStatus       string        `json:"vend_status,omitempty"`
	VendOutcome      string        `json:"vend_outcome,omitempty"`
	VendError        string        `json:"vend_error,omitempty"`
	ElectricityToken string        `json:"electricity_token,omitempty"`
	VendAttempts     []VendAttempt `json:"vend_attempts,omitempty"`

	Notifications []NotificationAttempt `json:"notifications,omitempty"`
}

// BillData holds the bill-specific fields captured when the purchase started.
type BillData struct {
	MeterNumber     string `json:"meter_number,omitempty"`
	Disco           string `json:"disco,omitempty"`
	VendType        string `json:"vend_type,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	Network         string `json:"network,omitempty"`
	Type            string `json:"type,omitempty"`
	TariffClass     string `json:"tariff_class,omitempty"`
	DataPlan        string `json:"data_plan,omitempty"`
	PackageCode     string `json:"package_code,omitempty"`
	SmartcardNumber string `json:"smartcard_number,omitempty"`
	Provider        string `json:"provider,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
}

// PaymentDetails is what the gateway told us about the charge.
type PaymentDetails struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency,omitempty"`
	Channel         string          `json:"channel,omitempty"`
	PaidAt          string          `json:"paid_at,omitempty"`
	GatewayResponse string          `json:"gateway_response,omitempty"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	Source          string          `json:"source"`
}

// VendResponse is the normalized view of the latest vendor round trip.
type VendResponse struct {
	NormalizedStatus string          `json:"normalized_status"`
	ResponseCode     string          `json:"response_code,omitempty"`
	Message          string          `json:"message,omitempty"`
	VendorOrderID    string          `json:"vendor_order_id,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// VendAttempt is one audit entry per adapter call.
type VendAttempt struct {
	Provider string        `json:"provider"`
	Outcome  string        `json:"outcome"`
	Response *VendResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

type NotificationAttempt struct {
	Channel  string    `json:"channel"`
	Provider string    `json:"provider,omitempty"`
	Sent     bool      `json:"sent"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
