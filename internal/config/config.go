package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"
)

// TokenExpiryPolicy decides what happens to a pending vote whose codes all expired.
type TokenExpiryPolicy string

const (
	// BlockRetry keeps the expired pending vote; the user cannot vote again on that poll.
	BlockRetry TokenExpiryPolicy = "block_retry"
	// AllowRetry discards the expired pending vote when the user casts a new one.
	AllowRetry TokenExpiryPolicy = "allow_retry"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	APIPrefix   string
	JWTSecret   string
	JWTTTL      time.Duration
	DevMode     bool

	TokenExpiryPolicy TokenExpiryPolicy
	ValidationCodeTTL time.Duration

	FrontendURL string
	RedisURL    string

	Twilio TwilioConfig
	Brevo  BrevoConfig
}

// TwilioConfig holds the SMS channel credentials
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

// Enabled reports whether every Twilio setting is present.
func (c TwilioConfig) Enabled() bool {
	return strings.HasPrefix(c.AccountSID, "AC") && c.AuthToken != "" && c.PhoneNumber != ""
}

// BrevoConfig holds the e-mail channel credentials
type BrevoConfig struct {
	APIKey      string
	SenderEmail string
	SenderName  string
}

// Enabled reports whether the Brevo API key and sender are present.
func (c BrevoConfig) Enabled() bool {
	return c.APIKey != "" && c.SenderEmail != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:              "3000",
		APIPrefix:         "/api",
		JWTTTL:            7 * 24 * time.Hour,
		TokenExpiryPolicy: BlockRetry,
		ValidationCodeTTL: 15 * time.Minute,
		FrontendURL:       "http://localhost:5173",
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL
	logDatabaseTarget(databaseURL)

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if prefix, ok := os.LookupEnv("API_PREFIX"); ok {
		cfg.APIPrefix = strings.TrimRight(prefix, "/")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	var err error
	if cfg.JWTTTL, err = durationEnv("JWT_TTL", cfg.JWTTTL); err != nil {
		return nil, err
	}
	if cfg.ValidationCodeTTL, err = durationEnv("VALIDATION_CODE_TTL", cfg.ValidationCodeTTL); err != nil {
		return nil, err
	}

	if policy := os.Getenv("TOKEN_EXPIRY_POLICY"); policy != "" {
		switch p := TokenExpiryPolicy(strings.ToLower(policy)); p {
		case BlockRetry, AllowRetry:
			cfg.TokenExpiryPolicy = p
		default:
			return nil, fmt.Errorf("TOKEN_EXPIRY_POLICY must be %q or %q, got %q", BlockRetry, AllowRetry, policy)
		}
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	if frontend := os.Getenv("FRONTEND_URL"); frontend != "" {
		cfg.FrontendURL = frontend
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.Twilio = TwilioConfig{
		AccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		PhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
	}
	cfg.Brevo = BrevoConfig{
		APIKey:      os.Getenv("BREVO_API_KEY"),
		SenderEmail: os.Getenv("BREVO_SENDER_EMAIL"),
		SenderName:  os.Getenv("BREVO_SENDER_NAME"),
	}
	if cfg.Brevo.SenderName == "" {
		cfg.Brevo.SenderName = "Opina"
	}

	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

// logDatabaseTarget logs connection details with the password left out
func logDatabaseTarget(databaseURL string) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	log.Printf("DB connect: host=%s port=%s db=%s user=%s", host, port, strings.TrimPrefix(u.Path, "/"), user)
}
