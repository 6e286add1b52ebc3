// Package config provides environment configuration for the widget server.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	PublicBaseURL      string

	// Tenant data
	DataDir     string
	ClientsPath string
	PromptsDir  string
	DemoLink    string

	// Storage
	DBPath     string
	AutoInitDB bool

	// LLM settings
	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	LLMTimeout      time.Duration

	// Admin
	AdminUser string
	AdminPass string

	// Lead delivery
	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPass          string
	SMTPFrom          string
	LeadEmailFallback string
	LeadEmailSubject  string

	// Billing
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePrices        map[string]string

	// Onboarding token settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// NATS settings (optional event stream)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Logging
	LogLevel string
	Env      string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	smtpUser := getEnv("SMTP_USER", "")

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://127.0.0.1:8080"),

		// Tenant data
		DataDir:     dataDir,
		ClientsPath: getEnv("CLIENTS_PATH", filepath.Join(dataDir, "clients.json")),
		PromptsDir:  getEnv("PROMPTS_DIR", filepath.Join(dataDir, "prompts")),
		DemoLink:    getEnv("DEMO_LINK", "mailto:hello@example.com"),

		// Storage
		DBPath:     getEnv("DB_PATH", filepath.Join(dataDir, "widget.sqlite3")),
		AutoInitDB: getBoolEnv("AUTO_INIT_DB", true),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 20*time.Second),

		// Admin
		AdminUser: getEnv("ADMIN_USER", "admin"),
		AdminPass: getEnv("ADMIN_PASS", "change-me-now"),

		// Lead delivery
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUser:          smtpUser,
		SMTPPass:          getEnv("SMTP_PASS", ""),
		SMTPFrom:          getEnv("SMTP_FROM", smtpUser),
		LeadEmailFallback: getEnv("LEAD_EMAIL_FALLBACK", ""),
		LeadEmailSubject:  getEnv("LEAD_EMAIL_SUBJECT", "[Widget] New lead: {client_id}"),

		// Billing
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePrices: map[string]string{
			"starter": getEnv("STRIPE_PRICE_STARTER", ""),
			"growth":  getEnv("STRIPE_PRICE_GROWTH", ""),
			"pro":     getEnv("STRIPE_PRICE_PRO", ""),
		},

		// Onboarding token
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 2*time.Hour),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("ENV", "production"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// SMTPEnabled reports whether lead e-mails can be delivered.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
