package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	VerifyMethodLocal      = "local"
	VerifyMethodIntrospect = "introspect"
)

// Config represents the complete application configuration
type Config struct {
	AppName       string
	Environment   string
	Server        ServerConfig
	Keycloak      KeycloakConfig
	Registry      RegistryConfig
	AuditDatabase *DatabaseConfig // Optional: nil disables the audit trail
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	SecurePort      int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	EnforceHTTPS    bool
	AllowedHosts    []string
	AdminToken      string // bearer token for /v1/admin; empty disables the admin routes
	TLS             struct {
		CertFile string
		KeyFile  string
	}
}

// KeycloakConfig holds identity provider settings
type KeycloakConfig struct {
	ServerURL      string
	HTTPTimeout    time.Duration
	JWKSCacheTTL   time.Duration // 0 fetches keys on every verification
	StrictAudience bool
	VerifyMethod   string // default method for token verification: local or introspect
}

// RegistryConfig points at the service definition document
type RegistryConfig struct {
	ServicesFile string
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getEnv("APP_NAME", "Windfire Security Authentication Service"),
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnvFirst("0.0.0.0", "API_HOST", "SERVER_HOST"),
			Port:            getPort(),
			SecurePort:      getEnvAsInt("API_PORT_SECURE", 8443),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			EnforceHTTPS:    getEnvAsBool("ENFORCE_HTTPS", false),
			AllowedHosts:    getEnvAsList("ALLOWED_HOSTS", []string{"*"}),
			AdminToken:      getEnv("ADMIN_TOKEN", ""),
		},
		Keycloak: KeycloakConfig{
			ServerURL:      getEnv("KEYCLOAK_SERVER_URL", ""),
			HTTPTimeout:    getEnvAsDuration("KEYCLOAK_HTTP_TIMEOUT", 10*time.Second),
			JWKSCacheTTL:   getEnvAsDuration("JWKS_CACHE_TTL", 0),
			StrictAudience: getEnvAsBool("STRICT_AUDIENCE", false),
			VerifyMethod:   strings.ToLower(getEnv("VERIFY_METHOD", VerifyMethodLocal)),
		},
		Registry: RegistryConfig{
			ServicesFile: getEnv("SERVICES_CONFIG_FILE", "config/config.json"),
		},
		AuditDatabase: loadAuditDatabaseConfig(),
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}
	cfg.Server.TLS.CertFile = getEnv("SSL_CERTFILE", "")
	cfg.Server.TLS.KeyFile = getEnv("SSL_KEYFILE", "")

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Keycloak.ServerURL == "" {
		return fmt.Errorf("keycloak server url is required: set KEYCLOAK_SERVER_URL")
	}
	u, err := url.Parse(c.Keycloak.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("keycloak server url must be an absolute http(s) URL: %q", c.Keycloak.ServerURL)
	}
	if c.Keycloak.HTTPTimeout <= 0 {
		return fmt.Errorf("keycloak http timeout must be positive")
	}

	switch c.Keycloak.VerifyMethod {
	case VerifyMethodLocal, VerifyMethodIntrospect:
	default:
		return fmt.Errorf("verify method must be %q or %q, got %q",
			VerifyMethodLocal, VerifyMethodIntrospect, c.Keycloak.VerifyMethod)
	}

	if c.Registry.ServicesFile == "" {
		return fmt.Errorf("services configuration file is required")
	}

	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("SSL_CERTFILE and SSL_KEYFILE must be set together")
	}

	// Observability validation
	switch c.Observability.LogLevel {
	case "":
		return fmt.Errorf("log level is required")
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Observability.LogLevel)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the plain HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SecureAddress returns the HTTPS server address
func (c *ServerConfig) SecureAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.SecurePort)
}

// TLSConfigured reports whether both certificate and key paths are set
func (c *ServerConfig) TLSConfigured() bool {
	return c.TLS.CertFile != "" && c.TLS.KeyFile != ""
}

// AllowsAnyHost reports whether host filtering is disabled
func (c *ServerConfig) AllowsAnyHost() bool {
	for _, h := range c.AllowedHosts {
		if h == "*" {
			return true
		}
	}
	return len(c.AllowedHosts) == 0
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return c.ConnectionString
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil || u.Host == "" {
		return "host=<from AUDIT_DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	db := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, db)
}

// loadAuditDatabaseConfig loads audit DB config from AUDIT_DATABASE_URL.
// Returns nil when not set.
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("AUDIT_DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

// getPort returns the plain HTTP port from API_PORT or PORT (default: 8000)
func getPort() int {
	for _, key := range []string{"API_PORT", "PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFirst returns the first non-empty variable among keys.
func getEnvFirst(defaultValue string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		// plain integers are seconds
		if secs, convErr := strconv.Atoi(valueStr); convErr == nil {
			return time.Duration(secs) * time.Second
		}
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
