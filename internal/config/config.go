// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 3000).
	Port int

	// BaseURL is the public-facing URL used for CORS and absolute links.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// MigrationsPath is the directory holding the SQL migration files.
	MigrationsPath string

	// TrustedProxies lists the CIDRs whose X-Forwarded-For / X-Real-IP
	// headers are believed when resolving the client IP for the audit trail.
	TrustedProxies []string

	// CORSOrigins lists the origins allowed to call the /api routes from a
	// browser. Empty means same-origin only.
	CORSOrigins []string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication, session and password policy settings.
	Auth AuthConfig

	// Audit holds audit recorder settings.
	Audit AuditConfig
}

// DatabaseConfig holds MariaDB connection parameters. If DATABASE_URL is
// set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() to safely handle special
// characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SessionIdleTimeout is how long a session survives without a request.
	// Enforced by the session store TTL.
	SessionIdleTimeout time.Duration

	// CookieName is the name of the opaque session id cookie.
	CookieName string

	// CookieSecure forces the Secure flag. When false the flag is still set
	// for requests that arrived over TLS or through an HTTPS proxy.
	CookieSecure bool

	// HashAlgorithm selects the algorithm for new digests: "bcrypt" or "argon2id".
	HashAlgorithm string

	// BcryptCost is the bcrypt work factor for new digests.
	BcryptCost int

	// Password policy thresholds.
	PasswordMinLength  int
	PasswordMaxLength  int
	PasswordMinClasses int
}

// AuditConfig holds audit recorder settings.
type AuditConfig struct {
	// BufferSize is the number of entries that can wait for the writer
	// before new entries are dropped.
	BufferSize int

	// WriteTimeout bounds a single audit insert.
	WriteTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; real
// environment variables always win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", slog.Any("error", err))
	}

	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 3000),
		BaseURL:        getEnv("BASE_URL", "http://localhost:3000"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{"127.0.0.1/8", "::1/128"}),
		CORSOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", nil),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "horacite"),
			Password:        getEnv("DB_PASSWORD", "horacite"),
			Name:            getEnv("DB_NAME", "horacite"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SessionIdleTimeout: getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
			CookieName:         getEnv("SESSION_COOKIE_NAME", "horacite_session"),
			CookieSecure:       getEnvBool("SESSION_COOKIE_SECURE", false),
			HashAlgorithm:      strings.ToLower(getEnv("PASSWORD_HASH_ALGORITHM", HashBcrypt)),
			BcryptCost:         getEnvInt("BCRYPT_ROUNDS", 12),
			PasswordMinLength:  getEnvInt("PASSWORD_MIN_LENGTH", 8),
			PasswordMaxLength:  getEnvInt("PASSWORD_MAX_LENGTH", 72),
			PasswordMinClasses: getEnvInt("PASSWORD_MIN_CLASSES", 3),
		},

		Audit: AuditConfig{
			BufferSize:   getEnvInt("AUDIT_BUFFER_SIZE", 256),
			WriteTimeout: getEnvDuration("AUDIT_WRITE_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that would make the server insecure or unusable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: invalid CIDR %q", cidr)
		}
	}

	a := c.Auth
	if a.SessionIdleTimeout < time.Minute {
		return fmt.Errorf("SESSION_TIMEOUT must be at least 1m, got %s", a.SessionIdleTimeout)
	}
	if a.CookieName == "" {
		return errors.New("SESSION_COOKIE_NAME must not be empty")
	}
	switch a.HashAlgorithm {
	case HashBcrypt, HashArgon2id:
	default:
		return fmt.Errorf("PASSWORD_HASH_ALGORITHM must be %q or %q, got %q", HashBcrypt, HashArgon2id, a.HashAlgorithm)
	}
	if a.BcryptCost < bcrypt.MinCost || a.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_ROUNDS must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, a.BcryptCost)
	}
	if a.PasswordMinLength < 1 {
		return fmt.Errorf("PASSWORD_MIN_LENGTH must be positive, got %d", a.PasswordMinLength)
	}
	if a.PasswordMaxLength < a.PasswordMinLength {
		return fmt.Errorf("PASSWORD_MAX_LENGTH (%d) must not be below PASSWORD_MIN_LENGTH (%d)", a.PasswordMaxLength, a.PasswordMinLength)
	}
	// bcrypt silently truncates input beyond 72 bytes.
	if a.HashAlgorithm == HashBcrypt && a.PasswordMaxLength > 72 {
		return fmt.Errorf("PASSWORD_MAX_LENGTH must be at most 72 with bcrypt, got %d", a.PasswordMaxLength)
	}
	if a.PasswordMinClasses < 1 || a.PasswordMinClasses > 4 {
		return fmt.Errorf("PASSWORD_MIN_CLASSES must be between 1 and 4, got %d", a.PasswordMinClasses)
	}

	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive, got %d", c.Audit.BufferSize)
	}
	if c.Audit.WriteTimeout <= 0 {
		return fmt.Errorf("AUDIT_WRITE_TIMEOUT must be positive, got %s", c.Audit.WriteTimeout)
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", ...) or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var, dropping empty items. An
// explicitly empty variable yields an empty list.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvDuration reads a duration env var (e.g., "30m") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
