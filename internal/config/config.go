package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/nodeclaim/internal/httputil"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// JWT
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	Verification    VerificationConfig
	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig
}

// VerificationConfig controls challenge issuance and the proof methods.
type VerificationConfig struct {
	ChallengeTTL    time.Duration
	ChallengeLength int

	// DNSServers are "host:port" recursive resolvers. Empty means resolv.conf.
	DNSServers  []string
	DNSTimeout  time.Duration
	DNSCooldown time.Duration

	// AddressVersion is the P2PKH version byte of identity addresses.
	AddressVersion int
	// SignedMessagePrefix is the magic string wallets prepend before
	// signing, e.g. "Dogecoin Signed Message:\n".
	SignedMessagePrefix string

	SweepSchedule string

	// TrustedProxies are the peers allowed to set X-Forwarded-For and
	// X-Real-IP for the probe confirm origin. Empty means the TCP peer.
	TrustedProxies httputil.TrustedProxies

	CrawlerAPIKey       string
	ModeratorTOTPSecret string

	// ProbeBaseURL is the public URL of the probe endpoints shown in instructions.
	ProbeBaseURL string
}

// RateLimitConfig holds per-route-group request limits.
type RateLimitConfig struct {
	Enabled bool

	ClaimantRequestsPerMinute   int
	ProbeRequestsPerMinute      int
	CrawlerRequestsPerMinute    int
	ModerationRequestsPerMinute int
	WindowMinutes               int
}

// SecurityHeadersConfig holds response security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// ValidationConfig holds request validation limits.
type ValidationConfig struct {
	MaxRequestBodySize int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults (matches podman setup: make postgres-start)
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 25432),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "nodeclaim"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		// JWT defaults
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "nodeclaim"),
		TokenTTL:  getEnvDuration("TOKEN_TTL", 12*time.Hour),

		Verification: VerificationConfig{
			ChallengeTTL:        getEnvDuration("CHALLENGE_TTL", 6*time.Hour),
			ChallengeLength:     getEnvInt("CHALLENGE_LENGTH", 40),
			DNSServers:          getEnvList("DNS_SERVERS"),
			DNSTimeout:          getEnvDuration("DNS_TIMEOUT", 5*time.Second),
			DNSCooldown:         getEnvDuration("DNS_CHECK_COOLDOWN", 30*time.Second),
			AddressVersion:      getEnvInt("ADDRESS_VERSION", 0),
			SignedMessagePrefix: strings.ReplaceAll(getEnv("SIGNED_MESSAGE_PREFIX", `Bitcoin Signed Message:\n`), `\n`, "\n"),
			SweepSchedule:       getEnv("SWEEP_SCHEDULE", "@every 5m"),
			CrawlerAPIKey:       getEnv("CRAWLER_API_KEY", ""),
			ModeratorTOTPSecret: getEnv("MODERATOR_TOTP_SECRET", ""),
			ProbeBaseURL:        getEnv("PROBE_BASE_URL", "http://localhost:8080/v1/probe"),
		},

		RateLimit: RateLimitConfig{
			Enabled:                     getEnvBool("RATE_LIMIT_ENABLED", true),
			ClaimantRequestsPerMinute:   getEnvInt("RATE_LIMIT_CLAIMANT", 60),
			ProbeRequestsPerMinute:      getEnvInt("RATE_LIMIT_PROBE", 20),
			CrawlerRequestsPerMinute:    getEnvInt("RATE_LIMIT_CRAWLER", 600),
			ModerationRequestsPerMinute: getEnvInt("RATE_LIMIT_MODERATION", 120),
			WindowMinutes:               getEnvInt("RATE_LIMIT_WINDOW_MINUTES", 1),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "0"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "no-referrer"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", ""),
		},

		Validation: ValidationConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 64*1024)),
		},
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Verification.AddressVersion < 0 || cfg.Verification.AddressVersion > 255 {
		return nil, fmt.Errorf("ADDRESS_VERSION must be a single byte, got %d", cfg.Verification.AddressVersion)
	}
	trusted, err := httputil.ParseTrustedProxies(getEnvList("TRUSTED_PROXIES"))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.Verification.TrustedProxies = trusted
	if cfg.Verification.ChallengeLength < 20 || cfg.Verification.ChallengeLength > 128 {
		return nil, fmt.Errorf("CHALLENGE_LENGTH must be between 20 and 128, got %d", cfg.Verification.ChallengeLength)
	}

	return cfg, nil
}

// HasCrawlerKey returns true if crawler endpoints are enabled.
func (c *Config) HasCrawlerKey() bool {
	return c.Verification.CrawlerAPIKey != ""
}

// HasModeratorStepUp returns true if moderator decisions require a TOTP code.
func (c *Config) HasModeratorStepUp() bool {
	return c.Verification.ModeratorTOTPSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
