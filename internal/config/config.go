package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Security     SecurityConfig     `mapstructure:"security"`
	Email        EmailConfig        `mapstructure:"email"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AllowedOrigins lists the admin console origins allowed by CORS
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
	// Migrations is the golang-migrate source URL of the schema files
	Migrations string `mapstructure:"migrations"`
	// AutoMigrate applies pending migrations when the server starts
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	Operator     OperatorConfig     `mapstructure:"operator"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SubscribeLimit is the number of public subscription requests allowed per window and IP
	SubscribeLimit  int           `mapstructure:"subscribe_limit"`
	SubscribeWindow time.Duration `mapstructure:"subscribe_window"`
}

// OperatorConfig holds the settings for operator (admin console) bearer tokens
type OperatorConfig struct {
	// TokenSecret is the HS256 secret used to sign and verify operator tokens
	TokenSecret string        `mapstructure:"token_secret"`
	Issuer      string        `mapstructure:"issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// EmailConfig holds email delivery configuration
type EmailConfig struct {
	// Provider is the delivery provider to use: "gmail", "resend" or "log"
	Provider string `mapstructure:"provider"`
	// AppName is the organization name shown in emails
	AppName string `mapstructure:"app_name"`
	// PublicBaseURL is the externally reachable base URL used in confirmation links
	PublicBaseURL string            `mapstructure:"public_base_url"`
	// LinkSecret signs click-tracking links; empty falls back to the operator token secret
	LinkSecret    string            `mapstructure:"link_secret"`
	Gmail         GmailEmailConfig  `mapstructure:"gmail"`
	Resend        ResendEmailConfig `mapstructure:"resend"`
}

// ClickLinkSecret returns the secret used to sign click-tracking links
func (c *Config) ClickLinkSecret() string {
	if c.Email.LinkSecret != "" {
		return c.Email.LinkSecret
	}
	return c.Security.Operator.TokenSecret
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken string `mapstructure:"refresh_token"`
	// SenderAddress is the "From" email address
	SenderAddress string `mapstructure:"sender_address"`
	// SenderName is the display name for the sender
	SenderName string `mapstructure:"sender_name"`
}

// ResendEmailConfig holds Resend API configuration
type ResendEmailConfig struct {
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

// ConfirmationConfig holds double opt-in settings
type ConfirmationConfig struct {
	// ResendCooldown is the minimum time between confirmation email resends (default: 60s)
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
}

// DispatchConfig controls how one campaign is delivered to its audience
type DispatchConfig struct {
	// Concurrency is the number of recipients sent to in parallel
	Concurrency int `mapstructure:"concurrency"`
	// MaxAttempts bounds the sends per recipient when the provider reports a transient error
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	// SendTimeout bounds a single provider call; exceeding it counts as a transient error
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	// TerminalWriteAttempts bounds retries of the final sent/failed write
	TerminalWriteAttempts int `mapstructure:"terminal_write_attempts"`
}

// SchedulerConfig controls the background scan for due campaigns
type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	// StaleAfter is how long a campaign may sit in "sending" before the repair sweep reconciles it
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/newsletter")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "newsletter")
	v.SetDefault("database.user", "newsletter")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.migrations", "file://migrations")
	v.SetDefault("database.auto_migrate", false)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.subscribe_limit", 5)
	v.SetDefault("security.rate_limiting.subscribe_window", "1h")
	v.SetDefault("security.operator.token_secret", "")
	v.SetDefault("security.operator.issuer", "newsletter")
	v.SetDefault("security.operator.token_ttl", "12h")

	// Email defaults
	v.SetDefault("email.provider", "log")
	v.SetDefault("email.app_name", "Community Newsletter")
	v.SetDefault("email.public_base_url", "http://localhost:8080")
	v.SetDefault("email.link_secret", "")
	v.SetDefault("email.gmail.sender_address", "")
	v.SetDefault("email.gmail.sender_name", "Community Newsletter")
	v.SetDefault("email.resend.from_address", "onboarding@resend.dev")

	// Double opt-in defaults
	v.SetDefault("confirmation.resend_cooldown", "60s")

	// Dispatch defaults
	v.SetDefault("dispatch.concurrency", 4)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.base_backoff", "500ms")
	v.SetDefault("dispatch.max_backoff", "5s")
	v.SetDefault("dispatch.send_timeout", "15s")
	v.SetDefault("dispatch.terminal_write_attempts", 3)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "2m")
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("scheduler.stale_after", "30m")
}
