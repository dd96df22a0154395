package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Set required JWT_SECRET
	t.Setenv("JWT_SECRET", "test-secret-key")

	// Clear any other env vars that might interfere
	envVars := []string{"SERVER_ADDR", "SERVER_PORT", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"CHALLENGE_TTL", "CHALLENGE_LENGTH", "DNS_SERVERS", "DNS_CHECK_COOLDOWN", "TRUSTED_PROXIES", "SIGNED_MESSAGE_PREFIX", "SWEEP_SCHEDULE"}
	for _, v := range envVars {
		t.Setenv(v, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Check defaults
	if cfg.ServerAddr != "0.0.0.0" {
		t.Errorf("ServerAddr = %q, want %q", cfg.ServerAddr, "0.0.0.0")
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 8080)
	}
	if cfg.DBName != "nodeclaim" {
		t.Errorf("DBName = %q, want %q", cfg.DBName, "nodeclaim")
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, want %q", cfg.DBSSLMode, "disable")
	}
	if cfg.Verification.ChallengeTTL != 6*time.Hour {
		t.Errorf("ChallengeTTL = %v, want %v", cfg.Verification.ChallengeTTL, 6*time.Hour)
	}
	if cfg.Verification.ChallengeLength != 40 {
		t.Errorf("ChallengeLength = %d, want %d", cfg.Verification.ChallengeLength, 40)
	}
	if cfg.Verification.DNSCooldown != 30*time.Second {
		t.Errorf("DNSCooldown = %v, want %v", cfg.Verification.DNSCooldown, 30*time.Second)
	}
	if cfg.Verification.DNSServers != nil {
		t.Errorf("DNSServers = %v, want nil", cfg.Verification.DNSServers)
	}
	if len(cfg.Verification.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v, want none", cfg.Verification.TrustedProxies)
	}
	if cfg.Verification.SignedMessagePrefix != "Bitcoin Signed Message:\n" {
		t.Errorf("SignedMessagePrefix = %q", cfg.Verification.SignedMessagePrefix)
	}
	if cfg.Verification.SweepSchedule != "@every 5m" {
		t.Errorf("SweepSchedule = %q, want %q", cfg.Verification.SweepSchedule, "@every 5m")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit should be enabled by default")
	}
}

func TestLoad_RequiredJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Error("Load should fail when JWT_SECRET is not set")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "custom-secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_HOST", "db.example.com")
	t.Setenv("CHALLENGE_TTL", "30m")
	t.Setenv("DNS_SERVERS", "1.1.1.1:53, 9.9.9.9:53,")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")
	t.Setenv("SIGNED_MESSAGE_PREFIX", `Dogecoin Signed Message:\n`)
	t.Setenv("ADDRESS_VERSION", "111")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 9090)
	}
	if cfg.DBHost != "db.example.com" {
		t.Errorf("DBHost = %q, want %q", cfg.DBHost, "db.example.com")
	}
	if cfg.Verification.ChallengeTTL != 30*time.Minute {
		t.Errorf("ChallengeTTL = %v, want %v", cfg.Verification.ChallengeTTL, 30*time.Minute)
	}
	want := []string{"1.1.1.1:53", "9.9.9.9:53"}
	if !reflect.DeepEqual(cfg.Verification.DNSServers, want) {
		t.Errorf("DNSServers = %v, want %v", cfg.Verification.DNSServers, want)
	}
	if len(cfg.Verification.TrustedProxies) != 2 {
		t.Errorf("TrustedProxies = %v, want 2 entries", cfg.Verification.TrustedProxies)
	}
	if cfg.Verification.SignedMessagePrefix != "Dogecoin Signed Message:\n" {
		t.Errorf("SignedMessagePrefix = %q, want a real newline", cfg.Verification.SignedMessagePrefix)
	}
	if cfg.Verification.AddressVersion != 111 {
		t.Errorf("AddressVersion = %d, want %d", cfg.Verification.AddressVersion, 111)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "address version too large", key: "ADDRESS_VERSION", value: "256"},
		{name: "challenge too short", key: "CHALLENGE_LENGTH", value: "19"},
		{name: "challenge too long", key: "CHALLENGE_LENGTH", value: "129"},
		{name: "bad trusted proxy", key: "TRUSTED_PROXIES", value: "10.0.0.0/99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load should fail for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestOptionalFeatures(t *testing.T) {
	tests := []struct {
		name        string
		crawlerKey  string
		totpSecret  string
		wantCrawler bool
		wantStepUp  bool
	}{
		{name: "both set", crawlerKey: "key", totpSecret: "JBSWY3DPEHPK3PXP", wantCrawler: true, wantStepUp: true},
		{name: "only crawler key", crawlerKey: "key", wantCrawler: true},
		{name: "only totp secret", totpSecret: "JBSWY3DPEHPK3PXP", wantStepUp: true},
		{name: "neither set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Verification: VerificationConfig{
				CrawlerAPIKey:       tt.crawlerKey,
				ModeratorTOTPSecret: tt.totpSecret,
			}}
			if cfg.HasCrawlerKey() != tt.wantCrawler {
				t.Errorf("HasCrawlerKey() = %v, want %v", cfg.HasCrawlerKey(), tt.wantCrawler)
			}
			if cfg.HasModeratorStepUp() != tt.wantStepUp {
				t.Errorf("HasModeratorStepUp() = %v, want %v", cfg.HasModeratorStepUp(), tt.wantStepUp)
			}
		})
	}
}

func TestGetEnvInt_InvalidValue(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")

	result := getEnvInt("TEST_INT", 42)
	if result != 42 {
		t.Errorf("getEnvInt should return default for invalid value, got %d", result)
	}
}

func TestGetEnvBool_InvalidValue(t *testing.T) {
	t.Setenv("TEST_BOOL", "maybe")

	if !getEnvBool("TEST_BOOL", true) {
		t.Error("getEnvBool should return default for invalid value")
	}
}

func TestGetEnvDuration_InvalidValue(t *testing.T) {
	t.Setenv("TEST_DURATION", "invalid")

	result := getEnvDuration("TEST_DURATION", 5*time.Minute)
	if result != 5*time.Minute {
		t.Errorf("getEnvDuration should return default for invalid value, got %v", result)
	}
}
