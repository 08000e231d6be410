// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var (
	configFile   = "config.toml"
	configSource = altsrc.NewStringPtrSourcer(&configFile)
)

// source chains an environment variable with a key in the TOML config file.
func source(env, key string) cli.ValueSourceChain {
	chain := cli.EnvVars(env)
	chain.Chain = append(chain.Chain, toml.TOML(key, configSource))
	return chain
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       "config.toml",
			Usage:       "Path to configuration file",
			Destination: &configFile,
			Sources:     cli.EnvVars("CONFIG"),
		},
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: source("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: source("PORT", "server.port"),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL for links in emails",
			Sources: source("BASE_URL", "server.base_url"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: source("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringSliceFlag{
			Name:    "trusted-proxies",
			Usage:   "CIDR ranges of reverse proxies allowed to set X-Forwarded-For",
			Sources: source("TRUSTED_PROXIES", "server.trusted_proxies"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: source("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: source("LOG_FORMAT", "log.format"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/app.db",
			Usage:   "Database DSN",
			Sources: source("DATABASE_DSN", "database.dsn"),
		},
		// Redis flags
		&cli.StringFlag{
			Name:    "redis-addr",
			Value:   "localhost:6379",
			Usage:   "Redis address for the stash and session state",
			Sources: source("REDIS_ADDR", "redis.addr"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			Sources: source("REDIS_PASSWORD", "redis.password"),
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Value:   0,
			Usage:   "Redis database number",
			Sources: source("REDIS_DB", "redis.db"),
		},
		&cli.StringFlag{
			Name:    "redis-key-prefix",
			Value:   "emailauth",
			Usage:   "Prefix for all Redis keys",
			Sources: source("REDIS_KEY_PREFIX", "redis.key_prefix"),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "session-cookie-name",
			Value:   "_session",
			Usage:   "Session cookie name",
			Sources: source("SESSION_COOKIE_NAME", "session.cookie_name"),
		},
		&cli.IntFlag{
			Name:    "session-max-age",
			Value:   86400, // 1 day in seconds
			Usage:   "Session max age in seconds",
			Sources: source("SESSION_MAX_AGE", "session.max_age"),
		},
		&cli.StringFlag{
			Name:    "session-hash-key",
			Usage:   "Session hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: source("SESSION_HASH_KEY", "session.hash_key"),
		},
		&cli.StringFlag{
			Name:    "session-block-key",
			Usage:   "Session block key for encryption (32-byte hex, optional)",
			Sources: source("SESSION_BLOCK_KEY", "session.block_key"),
		},
		&cli.BoolFlag{
			Name:    "session-secure",
			Usage:   "Send the session cookie over HTTPS only",
			Sources: source("SESSION_SECURE", "session.secure"),
		},
		// Mail flags
		&cli.StringFlag{
			Name:    "mail-transport",
			Value:   "smtp",
			Usage:   "Mail transport (smtp, ses)",
			Sources: source("MAIL_TRANSPORT", "mail.transport"),
		},
		&cli.StringFlag{
			Name:    "mail-from",
			Usage:   "Sender address for outgoing mail",
			Sources: source("MAIL_FROM", "mail.from"),
		},
		&cli.StringFlag{
			Name:    "mail-from-name",
			Usage:   "Sender display name",
			Sources: source("MAIL_FROM_NAME", "mail.from_name"),
		},
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP server host",
			Sources: source("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP server port",
			Sources: source("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: source("SMTP_USERNAME", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: source("SMTP_PASSWORD", "smtp.password"),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: source("SMTP_TLS", "smtp.tls"),
		},
		&cli.StringFlag{
			Name:    "ses-region",
			Usage:   "AWS region for SES",
			Sources: source("SES_REGION", "ses.region"),
		},
		// Verification flags
		&cli.BoolFlag{
			Name:    "verification-enabled",
			Value:   true,
			Usage:   "Require an emailed code at login",
			Sources: source("VERIFICATION_ENABLED", "verification.enabled"),
		},
		&cli.IntFlag{
			Name:    "verification-retry-limit",
			Value:   3,
			Usage:   "Wrong codes tolerated before a login fails",
			Sources: source("VERIFICATION_RETRY_LIMIT", "verification.retry_limit"),
		},
		&cli.IntFlag{
			Name:    "verification-code-digits",
			Value:   6,
			Usage:   "Number of digits in login codes",
			Sources: source("VERIFICATION_CODE_DIGITS", "verification.code_digits"),
		},
		&cli.BoolFlag{
			Name:    "verification-require-confirmed-email",
			Usage:   "Skip verification for accounts without a confirmed email",
			Sources: source("VERIFICATION_REQUIRE_CONFIRMED_EMAIL", "verification.require_confirmed_email"),
		},
		&cli.BoolFlag{
			Name:    "verification-debug-log-code",
			Usage:   "Log issued login codes at debug level",
			Sources: source("VERIFICATION_DEBUG_LOG_CODE", "verification.debug_log_code"),
		},
		// Recovery flags
		&cli.BoolFlag{
			Name:    "recovery-enabled",
			Usage:   "Enable the account recovery page",
			Sources: source("RECOVERY_ENABLED", "recovery.enabled"),
		},
		&cli.DurationFlag{
			Name:    "recovery-token-expiry",
			Value:   15 * time.Minute,
			Usage:   "How long a confirmation link is valid",
			Sources: source("RECOVERY_TOKEN_EXPIRY", "recovery.token_expiry"),
		},
		&cli.DurationFlag{
			Name:    "recovery-stash-ttl",
			Value:   24 * time.Hour,
			Usage:   "How long pending recovery requests are stored",
			Sources: source("RECOVERY_STASH_TTL", "recovery.stash_ttl"),
		},
		&cli.IntFlag{
			Name:    "recovery-submit-limit",
			Value:   5,
			Usage:   "Recovery submissions allowed per client and window",
			Sources: source("RECOVERY_SUBMIT_LIMIT", "recovery.submit_limit"),
		},
		&cli.DurationFlag{
			Name:    "recovery-submit-window",
			Value:   time.Hour,
			Usage:   "Window for the recovery submission limit",
			Sources: source("RECOVERY_SUBMIT_WINDOW", "recovery.submit_window"),
		},
		// Ticketing flags
		&cli.StringFlag{
			Name:    "ticketing-url",
			Usage:   "Support desk base URL",
			Sources: source("TICKETING_URL", "ticketing.url"),
		},
		&cli.StringFlag{
			Name:    "ticketing-proxy",
			Usage:   "Outbound HTTP proxy for the support desk",
			Sources: source("TICKETING_PROXY", "ticketing.proxy"),
		},
		&cli.StringFlag{
			Name:    "ticketing-subject",
			Value:   "Account recovery request",
			Usage:   "Ticket subject line",
			Sources: source("TICKETING_SUBJECT", "ticketing.subject"),
		},
		&cli.StringFlag{
			Name:    "ticketing-email",
			Usage:   "Service identity email",
			Sources: source("TICKETING_EMAIL", "ticketing.email"),
		},
		&cli.StringFlag{
			Name:    "ticketing-token",
			Usage:   "Service identity API token",
			Sources: source("TICKETING_TOKEN", "ticketing.token"),
		},
		&cli.Int64Flag{
			Name:    "ticketing-form-id",
			Usage:   "Ticket form id",
			Sources: source("TICKETING_FORM_ID", "ticketing.form_id"),
		},
		&cli.StringSliceFlag{
			Name:    "ticketing-custom-fields",
			Usage:   "Ticket custom fields as id=template",
			Sources: source("TICKETING_CUSTOM_FIELDS", "ticketing.custom_fields"),
		},
		&cli.StringSliceFlag{
			Name:    "ticketing-tags",
			Usage:   "Tags added to every ticket",
			Sources: source("TICKETING_TAGS", "ticketing.tags"),
		},
		&cli.IntFlag{
			Name:    "ratelimit-requests-per-minute",
			Value:   20,
			Usage:   "Per-IP request limit for login and recovery endpoints",
			Sources: source("RATELIMIT_REQUESTS_PER_MINUTE", "ratelimit.requests_per_minute"),
		},
	}
}
