// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/config"
	"codeberg.org/oliverandrich/emailauth/internal/repository"
	"codeberg.org/oliverandrich/emailauth/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "localhost", Port: 8080, BaseURL: "http://localhost:8080", MaxBodySize: 1},
		Database: config.DatabaseConfig{DSN: ":memory:"},
		Redis:    config.RedisConfig{KeyPrefix: "test"},
		Session: config.SessionConfig{
			CookieName: "_session",
			MaxAge:     3600,
			HashKey:    "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		},
		Mail:         config.MailConfig{Transport: "smtp", From: "noreply@example.org"},
		Verification: config.VerificationConfig{Enabled: true, RetryLimit: 3, CodeDigits: 6},
		Recovery: config.RecoveryConfig{
			TokenExpiry:  15 * time.Minute,
			StashTTL:     24 * time.Hour,
			SubmitLimit:  5,
			SubmitWindow: time.Hour,
		},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 100},
	}
}

type testServer struct {
	*Server
	mr     *miniredis.Miniredis
	mailer *testutil.FakeMailer
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	mr, client := testutil.NewTestRedis(t)
	mailer := &testutil.FakeMailer{}

	s, err := New(context.Background(), cfg, testutil.QuietLogger(),
		WithRedis(client),
		WithMailer(mailer),
		WithGateway(&testutil.FakeGateway{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &testServer{Server: s, mr: mr, mailer: mailer}
}

func (s *testServer) request(method, path, body string) *httptest.ResponseRecorder {
	return s.requestFrom("", method, path, body)
}

// requestFrom sends a request from 192.0.2.1 carrying forwardedFor as
// X-Forwarded-For when it is set.
func (s *testServer) requestFrom(forwardedFor, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "192.0.2.1:1234"
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_StashDown(t *testing.T) {
	s := newTestServer(t)
	s.mr.Close()

	rec := s.request(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Failing []string `json:"failing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"stash"}, body.Failing)
}

func TestTrailingSlashRedirect(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodGet, "/health/", "")

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/health", rec.Header().Get("Location"))
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodGet, "/health", "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestLoginSendsCodeAndCountsMetric(t *testing.T) {
	s := newTestServer(t)
	testutil.NewTestUser(t, repository.New(s.db), "alice", "alice@example.org")

	rec := s.request(http.MethodPost, "/auth/login",
		`{"username":"alice","password":"`+testutil.TestPassword+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "verification_required")
	require.Len(t, s.mailer.Sent(), 1)
	assert.Equal(t, "alice@example.org", s.mailer.Last().To)

	metrics := s.request(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "emailauth_challenge_total")
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.RateLimit.RequestsPerMinute = 2 })

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, s.request(http.MethodPost, "/auth/login", `{"username":"nobody","password":"x"}`).Code)
	}

	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestLoginWithVerificationDisabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Verification.Enabled = false })
	testutil.NewTestUser(t, repository.New(s.db), "alice", "alice@example.org")

	rec := s.request(http.MethodPost, "/auth/login",
		`{"username":"alice","password":"`+testutil.TestPassword+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Empty(t, s.mailer.Sent())
}

func TestLoginRateLimit_IgnoresSpoofedForwardedFor(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.RateLimit.RequestsPerMinute = 2 })

	codes := make([]int, 0, 3)
	for _, xff := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		codes = append(codes, s.requestFrom(xff, http.MethodPost, "/auth/login", `{"username":"nobody","password":"x"}`).Code)
	}

	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestLoginRateLimit_TrustedProxyForwardsClientIP(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.RequestsPerMinute = 2
		c.Server.TrustedProxies = []string{"192.0.2.0/24"}
	})

	codes := make([]int, 0, 3)
	for _, xff := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		codes = append(codes, s.requestFrom(xff, http.MethodPost, "/auth/login", `{"username":"nobody","password":"x"}`).Code)
	}

	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized}, codes)
}

func TestNew_InvalidTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"not-a-cidr"}
	_, client := testutil.NewTestRedis(t)

	_, err := New(context.Background(), cfg, testutil.QuietLogger(), WithRedis(client), WithMailer(&testutil.FakeMailer{}))

	assert.ErrorContains(t, err, "invalid trusted proxy range")
}

func TestRecoveryUnknownPathsShowForm(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Recovery.Enabled = true })

	for _, path := range []string{"/account-recovery/confirm", "/account-recovery/other", "/account-recovery/confirm/not-hex"} {
		t.Run(path, func(t *testing.T) {
			rec := s.request(http.MethodGet, path, "")

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "contact_email_confirm")
		})
	}
}

func TestRecoveryDisabledByDefault(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.request(http.MethodGet, "/account-recovery", "").Code)
}

func TestRecoveryEnabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Recovery.Enabled = true })

	rec := s.request(http.MethodGet, "/account-recovery", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "contact_email_confirm")
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(http.MethodPost, "/auth/login", `{"username":"`+strings.Repeat("a", 2<<20)+`"}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
