// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package ticketing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"codeberg.org/oliverandrich/emailauth/internal/config"
	"codeberg.org/oliverandrich/emailauth/internal/metrics"
	"codeberg.org/oliverandrich/emailauth/internal/services/ticketing"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu      sync.Mutex
	request *http.Request
	body    map[string]any
}

func (c *capture) payload(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotNil(t, c.body, "no request captured")
	return c.body["request"].(map[string]any)
}

func newServer(t *testing.T, status int, contentType, body string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.request = r
		_ = json.Unmarshal(raw, &c.body)
		c.mu.Unlock()

		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func testConfig(url string) config.TicketingConfig {
	return config.TicketingConfig{
		URL:     url + "/",
		Subject: "Account recovery request",
		Email:   "bot@example.org",
		Token:   "TOKEN123",
		FormID:  1234567890,
		CustomFields: []config.CustomField{
			{ID: 100, Value: "static_value"},
			{ID: 200, Value: "{username}"},
			{ID: 300, Value: "{registered_email}"},
		},
		Tags: []string{"account_recovery", "emailauth"},
	}
}

func newClient(cfg config.TicketingConfig, logger *slog.Logger, m *metrics.Metrics) *ticketing.Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return ticketing.NewClientWithHTTP(cfg, http.DefaultClient, logger, m)
}

func aliceRequest() ticketing.Request {
	return ticketing.Request{
		RequesterEmail:  "alice@example.org",
		RequesterName:   "Alice",
		RegisteredEmail: "old@example.org",
		Description:     "please help",
	}
}

func TestCreateTicket_Success(t *testing.T) {
	srv, captured := newServer(t, http.StatusCreated, "application/json", `{"request":{"id":1}}`)
	client := newClient(testConfig(srv.URL), nil, nil)

	err := client.CreateTicket(context.Background(), aliceRequest())

	require.NoError(t, err)

	r := captured.request
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "/api/v2/requests.json", r.URL.Path)
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", r.Header.Get("Accept"))
	assert.Equal(t, "emailauth/1.0", r.Header.Get("User-Agent"))
	user, pass, ok := r.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "bot@example.org/token", user)
	assert.Equal(t, "TOKEN123", pass)
}

func TestCreateTicket_Payload(t *testing.T) {
	srv, captured := newServer(t, http.StatusCreated, "application/json", `{}`)
	client := newClient(testConfig(srv.URL), nil, nil)

	require.NoError(t, client.CreateTicket(context.Background(), aliceRequest()))

	req := captured.payload(t)
	assert.Equal(t, "Account recovery request", req["subject"])
	assert.Equal(t, "incident", req["type"])
	assert.Equal(t, "normal", req["priority"])
	assert.Equal(t, []any{"account_recovery", "emailauth"}, req["tags"])
	assert.InDelta(t, 1234567890, req["ticket_form_id"], 0)
	assert.Equal(t, map[string]any{"email": "alice@example.org", "name": "Alice"}, req["requester"])
	assert.Equal(t, []any{
		map[string]any{"id": float64(100), "value": "static_value"},
		map[string]any{"id": float64(200), "value": "Alice"},
		map[string]any{"id": float64(300), "value": "old@example.org"},
	}, req["custom_fields"])

	body := req["comment"].(map[string]any)["body"]
	assert.Equal(t, "Account recovery request\n\n"+
		"Username: Alice\n"+
		"Email registered with account: old@example.org\n"+
		"Contact email: alice@example.org\n\n"+
		"Additional comments:\nplease help", body)
}

func TestCreateTicket_PayloadOptionalFields(t *testing.T) {
	srv, captured := newServer(t, http.StatusCreated, "application/json", `{}`)
	cfg := testConfig(srv.URL)
	cfg.FormID = 0
	cfg.Tags = nil
	client := newClient(cfg, nil, nil)

	err := client.CreateTicket(context.Background(), ticketing.Request{RequesterEmail: "alice@example.org"})
	require.NoError(t, err)

	req := captured.payload(t)
	assert.NotContains(t, req, "ticket_form_id")
	assert.Equal(t, []any{}, req["tags"])
	assert.Equal(t, map[string]any{"email": "alice@example.org"}, req["requester"])
	// Only the static field survives placeholder substitution
	assert.Equal(t, []any{map[string]any{"id": float64(100), "value": "static_value"}}, req["custom_fields"])

	body := req["comment"].(map[string]any)["body"]
	assert.Equal(t, "Account recovery request\n\n"+
		"Contact email: alice@example.org\n\n"+
		"Additional comments:\nNone provided", body)
}

func TestCreateTicket_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        ticketing.Kind
	}{
		{"rate limited non-json", http.StatusTooManyRequests, "text/html", "<html>slow down</html>", ticketing.KindRateLimited},
		{"rate limited json", http.StatusTooManyRequests, "application/json", `{"error":"InvalidEmail"}`, ticketing.KindRateLimited},
		{"invalid email", http.StatusBadRequest, "application/json", `{"error":"InvalidEmail","description":"bad"}`, ticketing.KindInvalidData},
		{"record invalid", http.StatusUnprocessableEntity, "application/json; charset=utf-8", `{"error":"RecordInvalid"}`, ticketing.KindInvalidData},
		{"too many requests code", http.StatusBadRequest, "application/json", `{"error":"TooManyRequests"}`, ticketing.KindRateLimited},
		{"rate limited code", http.StatusBadRequest, "application/json", `{"error":"RateLimited"}`, ticketing.KindRateLimited},
		{"unauthorized", http.StatusUnauthorized, "application/json", `{"error":"Unauthorized"}`, ticketing.KindServiceUnavailable},
		{"forbidden", http.StatusForbidden, "application/json", `{"error":"Forbidden"}`, ticketing.KindServiceUnavailable},
		{"unknown code", http.StatusBadRequest, "application/json", `{"error":"TotallyUnknown"}`, ticketing.KindGeneric},
		{"json without code", http.StatusBadRequest, "application/json", `{"description":"x"}`, ticketing.KindGeneric},
		{"malformed json", http.StatusBadRequest, "application/json", `{not json`, ticketing.KindGeneric},
		{"html 400", http.StatusBadRequest, "text/html", `{"error":"InvalidEmail"}`, ticketing.KindGeneric},
		{"server error json", http.StatusInternalServerError, "application/json", `{"error":"InvalidEmail"}`, ticketing.KindGeneric},
		{"bad gateway", http.StatusBadGateway, "", "", ticketing.KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.status, tt.contentType, tt.body)
			client := newClient(testConfig(srv.URL), nil, nil)

			err := client.CreateTicket(context.Background(), aliceRequest())

			require.Error(t, err)
			var te *ticketing.Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.want, te.Kind)
			assert.Equal(t, tt.want, ticketing.KindOf(err))
		})
	}
}

func TestCreateTicket_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := newClient(testConfig(url), nil, nil)

	err := client.CreateTicket(context.Background(), aliceRequest())

	assert.Equal(t, ticketing.KindGeneric, ticketing.KindOf(err))
}

func TestCreateTicket_LogsHashNotBody(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, "text/plain", "secret alice@example.org")
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	client := newClient(testConfig(srv.URL), logger, nil)

	_ = client.CreateTicket(context.Background(), aliceRequest())

	out := buf.String()
	assert.NotContains(t, out, "alice@example.org")
	assert.Contains(t, out, `"content_length":24`)
	assert.Contains(t, out, `"content_hash":"`)
}

func TestCreateTicket_Metrics(t *testing.T) {
	srv, _ := newServer(t, http.StatusTooManyRequests, "", "")
	m := metrics.New(prometheus.NewRegistry())
	client := newClient(testConfig(srv.URL), nil, m)

	_ = client.CreateTicket(context.Background(), aliceRequest())

	assert.InDelta(t, 1, promtest.ToFloat64(m.Ticketing.WithLabelValues("rate_limited")), 0)
}

func TestNewClient_InvalidProxy(t *testing.T) {
	cfg := testConfig("https://example.zendesk.com")
	cfg.Proxy = "://bad"

	_, err := ticketing.NewClient(cfg, nil, nil)

	assert.Error(t, err)
}

func TestNewClient_WithProxy(t *testing.T) {
	cfg := testConfig("https://example.zendesk.com")
	cfg.Proxy = "http://proxy.internal:3128"

	client, err := ticketing.NewClient(cfg, nil, nil)

	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ticketing.KindGeneric, ticketing.KindOf(errors.New("plain")))
	assert.Equal(t, ticketing.KindInvalidData, ticketing.KindOf(&ticketing.Error{Kind: ticketing.KindInvalidData}))
}
