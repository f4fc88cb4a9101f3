package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCallbackURL is the externally reachable URL registered with Daraja.
const DefaultCallbackURL = "https://elimisha-backend-kce7.onrender.com/callback"

// MpesaConfig holds the Daraja credentials and STK push defaults.
type MpesaConfig struct {
	BaseURL           string        `yaml:"base_url"`
	ConsumerKey       string        `yaml:"consumer_key"`
	ConsumerSecret    string        `yaml:"consumer_secret"`
	BusinessShortCode string        `yaml:"business_short_code"`
	Passkey           string        `yaml:"passkey"`
	SandboxPhone      string        `yaml:"sandbox_phone"`
	CallbackURL       string        `yaml:"callback_url"`
	AccountReference  string        `yaml:"account_reference"`
	TransactionDesc   string        `yaml:"transaction_desc"`
	Timezone          string        `yaml:"timezone"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
}

// TwilioConfig holds the Verify service credentials used for OTP.
type TwilioConfig struct {
	AccountSID       string `yaml:"account_sid"`
	AuthToken        string `yaml:"auth_token"`
	VerifyServiceSID string `yaml:"verify_service_sid"`
}

// RedisConfig enables the shared token cache when URL is set.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config holds application configuration
type Config struct {
	ServiceName  string       `yaml:"service_name"`
	OTELEndpoint string       `yaml:"otel_endpoint"`
	Port         string       `yaml:"port"`
	LogLevel     string       `yaml:"log_level"`
	Mpesa        MpesaConfig  `yaml:"mpesa"`
	Twilio       TwilioConfig `yaml:"twilio"`
	Redis        RedisConfig  `yaml:"redis"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and finally the process environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServiceName: "mpesa-stk-service",
		Port:        "3000",
		LogLevel:    "info",
		Mpesa: MpesaConfig{
			BaseURL:          "https://sandbox.safaricom.co.ke",
			CallbackURL:      DefaultCallbackURL,
			AccountReference: "ElimishaApp",
			TransactionDesc:  "Loan Payment",
			Timezone:         "Africa/Nairobi",
			HTTPTimeout:      30 * time.Second,
		},
	}
}

func (c *Config) applyEnv() error {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.OTELEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTELEndpoint)
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Mpesa.BaseURL = getEnv("MPESA_BASE_URL", c.Mpesa.BaseURL)
	c.Mpesa.ConsumerKey = getEnv("CONSUMER_KEY", c.Mpesa.ConsumerKey)
	c.Mpesa.ConsumerSecret = getEnv("CONSUMER_SECRET", c.Mpesa.ConsumerSecret)
	c.Mpesa.BusinessShortCode = getEnv("BUSINESS_SHORT_CODE", c.Mpesa.BusinessShortCode)
	c.Mpesa.Passkey = getEnv("PASSKEY", c.Mpesa.Passkey)
	c.Mpesa.SandboxPhone = getEnv("SANDBOX_PHONE", c.Mpesa.SandboxPhone)
	c.Mpesa.CallbackURL = getEnv("CALLBACK_URL", c.Mpesa.CallbackURL)
	c.Mpesa.AccountReference = getEnv("ACCOUNT_REFERENCE", c.Mpesa.AccountReference)
	c.Mpesa.TransactionDesc = getEnv("TRANSACTION_DESC", c.Mpesa.TransactionDesc)
	c.Mpesa.Timezone = getEnv("MPESA_TIMEZONE", c.Mpesa.Timezone)

	timeout, err := getEnvDuration("HTTP_CLIENT_TIMEOUT", c.Mpesa.HTTPTimeout)
	if err != nil {
		return err
	}
	c.Mpesa.HTTPTimeout = timeout

	c.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", c.Twilio.AccountSID)
	c.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", c.Twilio.AuthToken)
	c.Twilio.VerifyServiceSID = getEnv("TWILIO_VERIFY_SERVICE_SID", c.Twilio.VerifyServiceSID)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	db, err := getEnvInt("REDIS_DB", c.Redis.DB)
	if err != nil {
		return err
	}
	c.Redis.DB = db

	return nil
}

// OTPEnabled reports whether every Twilio Verify setting is present.
func (c *Config) OTPEnabled() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.VerifyServiceSID != ""
}

// Location resolves the timezone used for STK push timestamps, falling back
// to the local zone when the name is unknown.
func (m MpesaConfig) Location() *time.Location {
	if m.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
