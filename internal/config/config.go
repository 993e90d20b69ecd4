package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var AppEnv Config

type Config struct {
	Port           string
	MongoURI       string
	DBName         string
	JWTSecret      string
	AccessTokenTTL time.Duration
	PublicBaseURL  string
	UploadsDir     string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string

	PayPalClientID     string
	PayPalClientSecret string
	PayPalAPIURL       string

	NowPaymentsAPIKey    string
	NowPaymentsIPNSecret string
	NowPaymentsAPIURL    string

	ShippoAPIKey         string
	ShippoAPIURL         string
	ShippoCarrierAccount string
	ShippoProvider       string

	CanadaPostUsername       string
	CanadaPostPassword       string
	CanadaPostCustomerNumber string
	CanadaPostAPIURL         string

	ResendAPIKey string
	ResendAPIURL string
	EmailFrom    string

	OpenAIAPIKey string
	OpenAIAPIURL string
	OpenAIModel  string

	FXAPIURL            string
	AffiliateWebhookURL string

	KafkaBrokers       string
	KafkaTopic         string
	OutboxPollInterval time.Duration
}

// Load reads .env, config.json and the process environment into AppEnv.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not loaded:", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Println("config.json not loaded:", err)
		}
	}

	cfg := fromViper(v)
	if cfg.MongoURI == "" {
		return cfg, errors.New("MONGO_URI is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("JWT_SECRET is required")
	}

	AppEnv = cfg
	return cfg, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Port:           getString(v, "port"),
		MongoURI:       getString(v, "mongo.uri"),
		DBName:         getString(v, "db.name"),
		JWTSecret:      getString(v, "jwt.secret"),
		AccessTokenTTL: getDuration(v, "access.token.ttl", time.Minute),
		PublicBaseURL:  strings.TrimRight(getString(v, "public.base.url"), "/"),
		UploadsDir:     getString(v, "uploads.dir"),

		StripeSecretKey:     getString(v, "stripe.secret.key"),
		StripeWebhookSecret: getString(v, "stripe.webhook.secret"),
		StripeAPIURL:        getString(v, "stripe.api.url"),

		PayPalClientID:     getString(v, "paypal.client.id"),
		PayPalClientSecret: getString(v, "paypal.client.secret"),
		PayPalAPIURL:       getString(v, "paypal.api.url"),

		NowPaymentsAPIKey:    getString(v, "nowpayments.api.key"),
		NowPaymentsIPNSecret: getString(v, "nowpayments.ipn.secret"),
		NowPaymentsAPIURL:    getString(v, "nowpayments.api.url"),

		ShippoAPIKey:         getString(v, "shippo.api.key"),
		ShippoAPIURL:         getString(v, "shippo.api.url"),
		ShippoCarrierAccount: getString(v, "shippo.carrier.account"),
		ShippoProvider:       getString(v, "shippo.provider"),

		CanadaPostUsername:       getString(v, "canadapost.username"),
		CanadaPostPassword:       getString(v, "canadapost.password"),
		CanadaPostCustomerNumber: getString(v, "canadapost.customer.number"),
		CanadaPostAPIURL:         getString(v, "canadapost.api.url"),

		ResendAPIKey: getString(v, "resend.api.key"),
		ResendAPIURL: getString(v, "resend.api.url"),
		EmailFrom:    getString(v, "email.from"),

		OpenAIAPIKey: getString(v, "openai.api.key"),
		OpenAIAPIURL: getString(v, "openai.api.url"),
		OpenAIModel:  getString(v, "openai.model"),

		FXAPIURL:            getString(v, "fx.api.url"),
		AffiliateWebhookURL: getString(v, "affiliate.webhook.url"),

		KafkaBrokers:       getString(v, "kafka.brokers"),
		KafkaTopic:         getString(v, "kafka.topic"),
		OutboxPollInterval: getDuration(v, "outbox.poll.interval", time.Second),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db.name", "storefront")
	v.SetDefault("access.token.ttl", 60)
	v.SetDefault("uploads.dir", "./uploads")
	v.SetDefault("stripe.api.url", "https://api.stripe.com")
	v.SetDefault("paypal.api.url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("nowpayments.api.url", "https://api.nowpayments.io")
	v.SetDefault("shippo.api.url", "https://api.goshippo.com")
	v.SetDefault("canadapost.api.url", "https://ct.soa-gw.canadapost.ca")
	v.SetDefault("resend.api.url", "https://api.resend.com")
	v.SetDefault("email.from", "orders@localhost")
	v.SetDefault("openai.api.url", "https://api.openai.com")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("fx.api.url", "https://open.er-api.com/v6/latest")
	v.SetDefault("kafka.topic", "storefront.orders")
	v.SetDefault("outbox.poll.interval", 5)
}

func getString(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// getDuration reads an integer count of unit. Non-positive values yield zero.
func getDuration(v *viper.Viper, key string, unit time.Duration) time.Duration {
	if n := v.GetInt(key); n > 0 {
		return time.Duration(n) * unit
	}
	return 0
}
