// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server       ServerConfig
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Session      SessionConfig
	Mail         MailConfig
	Verification VerificationConfig
	Recovery     RecoveryConfig
	Ticketing    TicketingConfig
	RateLimit    RateLimitConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int // in MB
	// CIDR ranges of reverse proxies whose X-Forwarded-For is trusted.
	// Empty means the connection address is the client address.
	TrustedProxies []string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // namespace for every stash key
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	CookieName string // Session cookie name
	MaxAge     int    // Session max age in seconds
	HashKey    string // 32-byte hex string for HMAC signing
	BlockKey   string // 32-byte hex string for AES encryption (optional)
	Secure     bool   // HTTPS only cookie
}

// MailConfig selects the outgoing mail transport.
type MailConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Transport string // smtp, ses
	From      string
	FromName  string
	SMTP      SMTPConfig
	SES       SESConfig
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
}

type SESConfig struct {
	Region string
}

// VerificationConfig controls the login-time email code challenge.
type VerificationConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Enabled               bool // challenge logins at all
	RetryLimit            int  // failed submissions tolerated before the challenge fails
	CodeDigits            int  // length of the numeric login code
	RequireConfirmedEmail bool // exempt accounts whose email is not confirmed
	DebugLogCode          bool // log issued codes at debug level (never enable in production)
}

// RecoveryConfig controls the logged-out account recovery page.
type RecoveryConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Enabled      bool
	TokenExpiry  time.Duration // validity window of a confirmation link
	StashTTL     time.Duration // storage lifetime of a pending request
	SubmitLimit  int           // submissions per client within SubmitWindow
	SubmitWindow time.Duration
}

// TicketingConfig holds the support desk API settings.
type TicketingConfig struct { //nolint:govet // fieldalignment not critical for config structs
	URL          string
	Proxy        string
	Subject      string
	Email        string
	Token        string
	FormID       int64
	CustomFields []CustomField
	Tags         []string
}

// CustomField is a ticket custom field whose Value may contain the
// {username} and {registered_email} placeholders.
type CustomField struct {
	ID    int64
	Value string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

func NewFromCLI(cmd *cli.Command) (*Config, error) {
	customFields, err := ParseCustomFields(cmd.StringSlice("ticketing-custom-fields"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           cmd.String("host"),
			Port:           int(cmd.Int("port")),
			BaseURL:        cmd.String("base-url"),
			MaxBodySize:    int(cmd.Int("max-body-size")),
			TrustedProxies: cmd.StringSlice("trusted-proxies"),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		Redis: RedisConfig{
			Addr:      cmd.String("redis-addr"),
			Password:  cmd.String("redis-password"),
			DB:        int(cmd.Int("redis-db")),
			KeyPrefix: cmd.String("redis-key-prefix"),
		},
		Session: SessionConfig{
			CookieName: cmd.String("session-cookie-name"),
			MaxAge:     int(cmd.Int("session-max-age")),
			HashKey:    cmd.String("session-hash-key"),
			BlockKey:   cmd.String("session-block-key"),
			Secure:     cmd.Bool("session-secure"),
		},
		Mail: MailConfig{
			Transport: cmd.String("mail-transport"),
			From:      cmd.String("mail-from"),
			FromName:  cmd.String("mail-from-name"),
			SMTP: SMTPConfig{
				Host:     cmd.String("smtp-host"),
				Port:     int(cmd.Int("smtp-port")),
				Username: cmd.String("smtp-username"),
				Password: cmd.String("smtp-password"),
				TLS:      cmd.Bool("smtp-tls"),
			},
			SES: SESConfig{
				Region: cmd.String("ses-region"),
			},
		},
		Verification: VerificationConfig{
			Enabled:               cmd.Bool("verification-enabled"),
			RetryLimit:            int(cmd.Int("verification-retry-limit")),
			CodeDigits:            int(cmd.Int("verification-code-digits")),
			RequireConfirmedEmail: cmd.Bool("verification-require-confirmed-email"),
			DebugLogCode:          cmd.Bool("verification-debug-log-code"),
		},
		Recovery: RecoveryConfig{
			Enabled:      cmd.Bool("recovery-enabled"),
			TokenExpiry:  cmd.Duration("recovery-token-expiry"),
			StashTTL:     cmd.Duration("recovery-stash-ttl"),
			SubmitLimit:  int(cmd.Int("recovery-submit-limit")),
			SubmitWindow: cmd.Duration("recovery-submit-window"),
		},
		Ticketing: TicketingConfig{
			URL:          strings.TrimSuffix(cmd.String("ticketing-url"), "/"),
			Proxy:        cmd.String("ticketing-proxy"),
			Subject:      cmd.String("ticketing-subject"),
			Email:        cmd.String("ticketing-email"),
			Token:        cmd.String("ticketing-token"),
			FormID:       cmd.Int64("ticketing-form-id"),
			CustomFields: customFields,
			Tags:         cmd.StringSlice("ticketing-tags"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: int(cmd.Int("ratelimit-requests-per-minute")),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}
	cfg.Server.BaseURL = strings.TrimSuffix(cfg.Server.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every missing or inconsistent option at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if _, err := c.Server.TrustedNets(); err != nil {
		errs = append(errs, err)
	}

	if c.Session.HashKey != "" {
		if err := checkHexKey("session hash key", c.Session.HashKey); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Session.BlockKey != "" {
		if err := checkHexKey("session block key", c.Session.BlockKey); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Mail.From == "" {
		errs = append(errs, errors.New("mail from address is required"))
	}
	switch c.Mail.Transport {
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			errs = append(errs, errors.New("SMTP host is required"))
		}
	case "ses":
		if c.Mail.SES.Region == "" {
			errs = append(errs, errors.New("SES region is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail transport %q", c.Mail.Transport))
	}

	if c.Verification.RetryLimit < 1 {
		errs = append(errs, errors.New("verification retry limit must be at least 1"))
	}
	if c.Verification.CodeDigits < 6 || c.Verification.CodeDigits > 10 {
		errs = append(errs, errors.New("verification code digits must be between 6 and 10"))
	}

	if c.Recovery.Enabled {
		if c.Recovery.TokenExpiry <= 0 {
			errs = append(errs, errors.New("recovery token expiry must be positive"))
		}
		if c.Recovery.StashTTL <= c.Recovery.TokenExpiry {
			errs = append(errs, errors.New("recovery stash TTL must exceed the token expiry"))
		}
		if c.Ticketing.URL == "" {
			errs = append(errs, errors.New("ticketing URL is required"))
		}
		if c.Ticketing.Email == "" || c.Ticketing.Token == "" {
			errs = append(errs, errors.New("ticketing email and token are required"))
		}
	}

	return errors.Join(errs...)
}

// TrustedNets parses TrustedProxies.
func (s ServerConfig) TrustedNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(s.TrustedProxies))
	for _, cidr := range s.TrustedProxies {
		_, n, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy range %q: %w", cidr, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// ParseCustomFields parses "id=template" entries.
func ParseCustomFields(entries []string) ([]CustomField, error) {
	fields := make([]CustomField, 0, len(entries))
	for _, entry := range entries {
		idStr, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid custom field %q: expected id=value", entry)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid custom field id %q: %w", idStr, err)
		}
		fields = append(fields, CustomField{ID: id, Value: value})
	}
	return fields, nil
}

func checkHexKey(name, value string) error {
	key, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if len(key) != 32 {
		return fmt.Errorf("invalid %s: must be 32 bytes, got %d", name, len(key))
	}
	return nil
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port

	scheme := "http"
	if !IsLocalhost(host) {
		// Public deployments sit behind a TLS-terminating proxy
		scheme = "https"
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || scheme == "https" {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}
