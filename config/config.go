package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries every environment-provided setting the services need.
type Config struct {
	DatabaseURL string
	ListenAddr  string
	JWTSecret   string

	EmailAPIURL string
	EmailAPIKey string
	EmailFrom   string
	SMSAPIURL   string
	SMSAPIKey   string
	SMSSender   string

	StorageBucket string

	// AdminEmails is the comma-separated allowlist of back-office accounts.
	AdminEmails map[string]struct{}
}

// Load reads .env (if present) and the process environment into a Config.
// Missing optional provider keys are allowed; the database URL and JWT
// secret are not.
func Load() (Config, error) {
	// .env is a local development convenience; in deployment the variables
	// come from the runtime environment.
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		EmailAPIURL:   os.Getenv("EMAIL_API_URL"),
		EmailAPIKey:   os.Getenv("EMAIL_API_KEY"),
		EmailFrom:     os.Getenv("EMAIL_FROM"),
		SMSAPIURL:     os.Getenv("SMS_API_URL"),
		SMSAPIKey:     os.Getenv("SMS_API_KEY"),
		SMSSender:     os.Getenv("SMS_SENDER"),
		StorageBucket: os.Getenv("STORAGE_BUCKET"),
		AdminEmails:   parseAdminEmails(os.Getenv("ADMIN_EMAILS")),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}

	return cfg, nil
}

// IsAdmin reports whether the email is on the back-office allowlist.
func (c Config) IsAdmin(email string) bool {
	_, ok := c.AdminEmails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

func parseAdminEmails(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		email := strings.ToLower(strings.TrimSpace(part))
		if email != "" {
			out[email] = struct{}{}
		}
	}
	return out
}
