// Package config loads producer/worker configuration from environment
// variables (optionally overlaid from a flat --config file and, for
// secrets, from Vault), in the os.Getenv + validate-and-coerce idiom of
// apps/cdc-worker/cmd/worker/main.go.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting shared by the producer and worker binaries.
// Role-specific values (e.g. --stream/--group for the worker) are parsed
// directly from CLI flags in cmd/ and are not part of this struct.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IMAPHost string
	IMAPPort int
	IMAPTLS  bool

	AuthProvider   string // "gmail" or "outlook"
	OAuthClientID  string
	OAuthSecret    string
	OAuthTenant    string // outlook only; "" defaults to "common"
	TokenStorePath string

	PrimaryStream    string
	DLQStream        string
	ConsumerGroup    string
	MaxStreamLen     int64
	BodyPreviewBytes int

	IdempotencyTTL time.Duration

	HealthPort  int
	MetricsPort int

	VaultAddr       string
	VaultToken      string
	VaultSecretPath string

	LogLevel string
}

// overlay is a flat key=value map loaded from an optional --config file,
// consulted only for keys not already set in the process environment.
type overlay map[string]string

// loadOverlay reads a simple KEY=VALUE file, one assignment per line,
// blank lines and lines starting with '#' ignored. A missing path is not
// an error: it means no file override was requested.
func loadOverlay(path string) (overlay, error) {
	ov := overlay{}
	if path == "" {
		return ov, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ov[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return ov, nil
}

func (ov overlay) getenv(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return ov[key]
}

func (ov overlay) required(key string) (string, error) {
	v := ov.getenv(key)
	if v == "" {
		return "", fmt.Errorf("missing required configuration value %s", key)
	}
	return v, nil
}

func (ov overlay) optional(key, def string) string {
	if v := ov.getenv(key); v != "" {
		return v
	}
	return def
}

func (ov overlay) optionalInt(key string, def int) (int, error) {
	raw := ov.getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q: %w", key, raw, err)
	}
	return n, nil
}

func (ov overlay) optionalInt64(key string, def int64) (int64, error) {
	raw := ov.getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q: %w", key, raw, err)
	}
	return n, nil
}

func (ov overlay) optionalBool(key string, def bool) (bool, error) {
	raw := ov.getenv(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a bool, got %q: %w", key, raw, err)
	}
	return b, nil
}

func (ov overlay) optionalDuration(key string, def time.Duration) (time.Duration, error) {
	raw := ov.getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q: %w", key, raw, err)
	}
	return d, nil
}

// Load builds a Config from process env vars, overlaid onto an optional
// flat file at configPath. Hard-required: Redis address, IMAP host, and
// the auth provider identifier — everything else defaults sanely.
func Load(configPath string) (*Config, error) {
	ov, err := loadOverlay(configPath)
	if err != nil {
		return nil, err
	}

	redisAddr, err := ov.required("REDIS_ADDR")
	if err != nil {
		return nil, err
	}
	imapHost, err := ov.required("IMAP_HOST")
	if err != nil {
		return nil, err
	}
	authProvider, err := ov.required("AUTH_PROVIDER")
	if err != nil {
		return nil, err
	}
	if authProvider != "gmail" && authProvider != "outlook" {
		return nil, fmt.Errorf("AUTH_PROVIDER must be %q or %q, got %q", "gmail", "outlook", authProvider)
	}

	redisDB, err := ov.optionalInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	imapPort, err := ov.optionalInt("IMAP_PORT", 993)
	if err != nil {
		return nil, err
	}
	imapTLS, err := ov.optionalBool("IMAP_TLS", true)
	if err != nil {
		return nil, err
	}
	idempotencyTTL, err := ov.optionalDuration("IDEMPOTENCY_TTL", 0)
	if err != nil {
		return nil, err
	}
	healthPort, err := ov.optionalInt("HEALTH_PORT", 8080)
	if err != nil {
		return nil, err
	}
	metricsPort, err := ov.optionalInt("METRICS_PORT", 9090)
	if err != nil {
		return nil, err
	}
	maxStreamLen, err := ov.optionalInt64("MAX_STREAM_LENGTH", 10000)
	if err != nil {
		return nil, err
	}
	bodyPreviewBytes, err := ov.optionalInt("BODY_PREVIEW_BYTES", 2048)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RedisAddr:     redisAddr,
		RedisPassword: ov.optional("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		IMAPHost: imapHost,
		IMAPPort: imapPort,
		IMAPTLS:  imapTLS,

		AuthProvider:   authProvider,
		OAuthClientID:  ov.optional("OAUTH_CLIENT_ID", ""),
		OAuthSecret:    ov.optional("OAUTH_CLIENT_SECRET", ""),
		OAuthTenant:    ov.optional("OAUTH_TENANT", ""),
		TokenStorePath: ov.optional("TOKEN_STORE_PATH", ".emailflow/tokens"),

		PrimaryStream:    ov.optional("PRIMARY_STREAM", "email_ingestion_stream"),
		DLQStream:        ov.optional("DLQ_STREAM", "email_ingestion_dlq"),
		ConsumerGroup:    ov.optional("CONSUMER_GROUP", "email_processor_group"),
		MaxStreamLen:     maxStreamLen,
		BodyPreviewBytes: bodyPreviewBytes,

		IdempotencyTTL: idempotencyTTL,

		HealthPort:  healthPort,
		MetricsPort: metricsPort,

		VaultAddr:       ov.optional("VAULT_ADDR", ""),
		VaultToken:      ov.optional("VAULT_TOKEN", ""),
		VaultSecretPath: ov.optional("VAULT_SECRET_PATH", ""),

		LogLevel: ov.optional("LOG_LEVEL", "info"),
	}

	// When a Vault secret path is configured, pull the OAuth client secret
	// from there rather than requiring it in plain env — mirrors
	// cdc-worker's PG_URL/NATS_URL loading from a KV2 secret bundle.
	if cfg.VaultSecretPath != "" {
		if err := overlaySecrets(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func overlaySecrets(cfg *Config) error {
	addr := cfg.VaultAddr
	if addr == "" {
		addr = "http://localhost:8200"
	}
	mgr, err := NewSecretManager(addr, cfg.VaultToken)
	if err != nil {
		return fmt.Errorf("vault connection failed: %w", err)
	}

	data, err := mgr.GetKV2(cfg.VaultSecretPath)
	if err != nil {
		return fmt.Errorf("loading secrets from vault: %w", err)
	}

	if v, ok := StringSecret(data, "OAUTH_CLIENT_SECRET"); ok {
		cfg.OAuthSecret = v
	}
	if v, ok := StringSecret(data, "OAUTH_CLIENT_ID"); ok && cfg.OAuthClientID == "" {
		cfg.OAuthClientID = v
	}
	return nil
}
