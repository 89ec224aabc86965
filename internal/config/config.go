// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	Mode     string  `yaml:"mode"` // polling | webhook (future)
	Workers  int     `yaml:"workers"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

type CommunityConfig struct {
	ChatID     int64  `yaml:"chat_id"`
	SupportURL string `yaml:"support_url"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// SignatureScheme selects which custom parameters participate in the
// Robokassa result signature. Deployments differ here, so it is config.
type SignatureScheme string

const (
	SchemeAllParams SignatureScheme = "all_params"
	SchemeShpOnly   SignatureScheme = "shp_only"
)

type RobokassaConfig struct {
	Login           string          `yaml:"login"`
	Password1       string          `yaml:"password1"`
	Password2       string          `yaml:"password2"`
	TestMode        bool            `yaml:"test_mode"`
	SignatureScheme SignatureScheme `yaml:"signature_scheme"`
	// SubscriptionID is the provider-hosted recurring subscription page id.
	SubscriptionID string `yaml:"subscription_id"`
}

type CryptoCloudConfig struct {
	APIKey        string        `yaml:"api_key"`
	ShopID        string        `yaml:"shop_id"`
	WebhookSecret string        `yaml:"webhook_secret"`
	InvoiceTTL    time.Duration `yaml:"invoice_ttl"` // provider-enforced expiry window
}

type ProvidersConfig struct {
	Robokassa   RobokassaConfig   `yaml:"robokassa"`
	CryptoCloud CryptoCloudConfig `yaml:"cryptocloud"`
}

type SubscriptionConfig struct {
	PriceMinor int64  `yaml:"price_minor"` // kopecks
	Currency   string `yaml:"currency"`
}

type SweepConfig struct {
	RenewalInterval time.Duration `yaml:"renewal_interval"`
	ExpiryInterval  time.Duration `yaml:"expiry_interval"`
}

type AdminConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
	Password  string `yaml:"password"`
}

type Config struct {
	Bot          BotConfig          `yaml:"bot"`
	Community    CommunityConfig    `yaml:"community"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Admin        AdminConfig        `yaml:"admin"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Providers.Robokassa.SignatureScheme == "" {
		cfg.Providers.Robokassa.SignatureScheme = SchemeAllParams
	}
	if cfg.Providers.CryptoCloud.InvoiceTTL <= 0 {
		cfg.Providers.CryptoCloud.InvoiceTTL = 15 * time.Minute
	}
	if cfg.Subscription.PriceMinor <= 0 {
		cfg.Subscription.PriceMinor = 10000 // 100.00 RUB
	}
	if cfg.Subscription.Currency == "" {
		cfg.Subscription.Currency = "RUB"
	}
	if cfg.Sweep.RenewalInterval <= 0 {
		cfg.Sweep.RenewalInterval = 24 * time.Hour
	}
	if cfg.Sweep.ExpiryInterval <= 0 {
		cfg.Sweep.ExpiryInterval = 5 * time.Minute
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 3000
	}

	// Minimal validation
	if cfg.Bot.Token == "" {
		return nil, errors.New("bot.token is required")
	}
	if cfg.Community.ChatID == 0 {
		return nil, errors.New("community.chat_id is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if s := cfg.Providers.Robokassa.SignatureScheme; s != SchemeAllParams && s != SchemeShpOnly {
		return nil, fmt.Errorf("providers.robokassa.signature_scheme must be %q or %q", SchemeAllParams, SchemeShpOnly)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
