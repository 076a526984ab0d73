package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Security    SecurityConfig    `yaml:"security"`
	BillPayment BillPaymentConfig `yaml:"billpayment"`
	Payment     PaymentConfig     `yaml:"payment"`
	Wallet      WalletConfig      `yaml:"wallet"`
	Mail        MailConfig        `yaml:"mail"`
	SMS         SMSConfig         `yaml:"sms"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// SecurityConfig guards the merchant-facing API.
type SecurityConfig struct {
	ServerToken   string        `yaml:"server_token"`
	APIKey        string        `yaml:"api_key"`
	SigningSecret string        `yaml:"signing_secret"`
	ReplayWindow  time.Duration `yaml:"replay_window"`
}

type BillPaymentConfig struct {
	// Provider is the default adapter key when neither the request nor the
	// settings table names one.
	Provider      string            `yaml:"provider"`
	VendorTimeout time.Duration     `yaml:"vendor_timeout"`
	Breaker       BreakerConfig     `yaml:"breaker"`
	BuyPower      BuyPowerConfig    `yaml:"buypower"`
	VTPass        VTPassConfig      `yaml:"vtpass"`
	Interswitch   InterswitchConfig `yaml:"interswitch"`
	Paystack      PaystackBillpay   `yaml:"paystack"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenFor     time.Duration `yaml:"open_for"`
}

type BuyPowerConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type VTPassConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Secret  string `yaml:"secret"`
}

type InterswitchConfig struct {
	BaseURL    string `yaml:"base_url"`
	ClientID   string `yaml:"client_id"`
	Secret     string `yaml:"secret"`
	TerminalID string `yaml:"terminal_id"`
}

type PaystackBillpay struct {
	BaseURL   string `yaml:"base_url"`
	SecretKey string `yaml:"secret_key"`
}

// PaymentConfig configures the payment gateway leg.
type PaymentConfig struct {
	Gateway                 string          `yaml:"gateway"`
	BaseURL                 string          `yaml:"base_url"`
	SecretKey               string          `yaml:"secret_key"`
	CallbackURL             string          `yaml:"callback_url"`
	FrontendURL             string          `yaml:"frontend_url"`
	Timeout                 time.Duration   `yaml:"timeout"`
	MinAmount               decimal.Decimal `yaml:"min_amount"`
	Fee                     decimal.Decimal `yaml:"fee"`
	TaxRate                 decimal.Decimal `yaml:"tax_rate"`
	FeeVerticals            []string        `yaml:"fee_verticals"`
	RequireWebhookTimestamp bool            `yaml:"require_webhook_timestamp"`
}

type WalletConfig struct {
	Provider        string          `yaml:"provider"`
	MinBalance      decimal.Decimal `yaml:"min_balance"`
	Currency        string          `yaml:"currency"`
	CacheTTL        time.Duration   `yaml:"cache_ttl"`
	AlertRecipients []string        `yaml:"alert_recipients"`
}

type MailConfig struct {
	// Providers is the ordered fallback chain; the log mailer is always appended.
	Providers []string       `yaml:"providers"`
	FromEmail string         `yaml:"from_email"`
	FromName  string         `yaml:"from_name"`
	ReplyTo   string         `yaml:"reply_to"`
	Mailtrap  MailtrapConfig `yaml:"mailtrap"`
	SendGrid  SendGridConfig `yaml:"sendgrid"`
	SMTP      SMTPConfig     `yaml:"smtp"`
}

type MailtrapConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type SendGridConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type SMSConfig struct {
	Termii TermiiConfig `yaml:"termii"`
}

type TermiiConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	SenderID string `yaml:"sender_id"`
}

// Load reads yaml file, applies defaults and env overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes raw yaml. Split from Load for tests.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.BillPayment.Provider == "" {
		c.BillPayment.Provider = "buypower"
	}
	if c.BillPayment.VendorTimeout == 0 {
		c.BillPayment.VendorTimeout = 30 * time.Second
	}
	if c.BillPayment.Breaker.MaxFailures == 0 {
		c.BillPayment.Breaker.MaxFailures = 5
	}
	if c.BillPayment.Breaker.OpenFor == 0 {
		c.BillPayment.Breaker.OpenFor = 30 * time.Second
	}
	if c.Security.ReplayWindow == 0 {
		c.Security.ReplayWindow = 300 * time.Second
	}
	if c.Payment.Gateway == "" {
		c.Payment.Gateway = "paystack"
	}
	if c.Payment.BaseURL == "" {
		c.Payment.BaseURL = "https://api.paystack.co"
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 15 * time.Second
	}
	if c.Wallet.Currency == "" {
		c.Wallet.Currency = "NGN"
	}
	if c.Wallet.MinBalance.IsZero() {
		c.Wallet.MinBalance = decimal.NewFromInt(20000)
	}
	if c.Wallet.CacheTTL == 0 {
		c.Wallet.CacheTTL = time.Minute
	}
	if c.Wallet.Provider == "" {
		c.Wallet.Provider = "buypower"
	}
}

// applyEnv lets secrets live outside the yaml file.
func (c *Config) applyEnv() {
	strs := map[string]*string{
		"BILL_PAYMENT_PROVIDER":   &c.BillPayment.Provider,
		"BUYPOWER_BASE_URL":       &c.BillPayment.BuyPower.BaseURL,
		"BUYPOWER_TOKEN":          &c.BillPayment.BuyPower.Token,
		"VTPASS_BASE_URL":         &c.BillPayment.VTPass.BaseURL,
		"VTPASS_API_KEY":          &c.BillPayment.VTPass.APIKey,
		"VTPASS_SECRET":           &c.BillPayment.VTPass.Secret,
		"INTERSWITCH_BASE_URL":    &c.BillPayment.Interswitch.BaseURL,
		"INTERSWITCH_CLIENT_ID":   &c.BillPayment.Interswitch.ClientID,
		"INTERSWITCH_SECRET":      &c.BillPayment.Interswitch.Secret,
		"INTERSWITCH_TERMINAL_ID": &c.BillPayment.Interswitch.TerminalID,
		"PAYSTACK_SECRET_KEY":     &c.Payment.SecretKey,
		"FRONTEND_URL":            &c.Payment.FrontendURL,
		"INTERNAL_SERVER_TOKEN":   &c.Security.ServerToken,
		"MERCHANT_API_KEY":        &c.Security.APIKey,
		"MERCHANT_SIGNING_SECRET": &c.Security.SigningSecret,
		"MAILTRAP_API_KEY":        &c.Mail.Mailtrap.APIKey,
		"SENDGRID_API_KEY":        &c.Mail.SendGrid.APIKey,
		"SMTP_PASSWORD":           &c.Mail.SMTP.Password,
		"TERMII_API_KEY":          &c.SMS.Termii.APIKey,
		"REDIS_PASSWORD":          &c.Redis.Password,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v, err := strconv.ParseBool(os.Getenv("TERMII_ENABLED")); err == nil {
		c.SMS.Termii.Enabled = v
	}
	// billpay reuses the gateway secret unless told otherwise
	if c.BillPayment.Paystack.SecretKey == "" {
		c.BillPayment.Paystack.SecretKey = c.Payment.SecretKey
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
}
