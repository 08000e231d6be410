// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package ticketing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/config"
	"codeberg.org/oliverandrich/emailauth/internal/metrics"
)

const (
	ConnectTimeout = 10 * time.Second
	RequestTimeout = 30 * time.Second

	userAgent       = "emailauth/1.0"
	maxResponseBody = 1 << 20
)

// Client talks to the Zendesk request API.
type Client struct {
	cfg     config.TicketingConfig
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient builds a Client with bounded connect and total timeouts and the
// configured outbound proxy.
func NewClient(cfg config.TicketingConfig, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
		TLSHandshakeTimeout: ConnectTimeout,
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid ticketing proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return NewClientWithHTTP(cfg, &http.Client{Transport: transport, Timeout: RequestTimeout}, logger, m), nil
}

// NewClientWithHTTP uses an existing HTTP client.
func NewClientWithHTTP(cfg config.TicketingConfig, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &Client{cfg: cfg, http: httpClient, logger: logger, metrics: m}
}

type payload struct {
	Request ticketRequest `json:"request"`
}

type ticketRequest struct {
	Subject      string        `json:"subject"`
	Type         string        `json:"type"`
	Priority     string        `json:"priority"`
	Tags         []string      `json:"tags"`
	TicketFormID *int64        `json:"ticket_form_id,omitempty"`
	Comment      comment       `json:"comment"`
	Requester    requester     `json:"requester"`
	CustomFields []customField `json:"custom_fields"`
}

type comment struct {
	Body string `json:"body"`
}

type requester struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type customField struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

type apiError struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

// CreateTicket files req as a new incident. Every failure is returned as an
// *Error; panics from the transport are not recovered here.
func (c *Client) CreateTicket(ctx context.Context, req Request) error {
	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return c.fail(KindGeneric, fmt.Errorf("encoding ticket: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/v2/requests.json", bytes.NewReader(body))
	if err != nil {
		return c.fail(KindGeneric, fmt.Errorf("building request: %w", err))
	}
	httpReq.SetBasicAuth(c.cfg.Email+"/token", c.cfg.Token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Error("ticketing request failed", "error", err)
		return c.fail(KindGeneric, err)
	}
	defer func() { _ = resp.Body.Close() }()

	content, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return c.classify(resp, content)
}

func (c *Client) classify(resp *http.Response, content []byte) error {
	status := resp.StatusCode

	if status >= 200 && status < 300 {
		c.logger.Info("ticket created for account recovery request")
		c.metrics.TicketingResult("success")
		return nil
	}

	// 429 bodies from rate limiters are often not JSON
	if status == http.StatusTooManyRequests {
		c.logger.Warn("ticketing rate limit hit", "status", status)
		return c.fail(KindRateLimited, nil)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "application/json") && status >= 400 && status < 500 {
		var apiErr apiError
		if err := json.Unmarshal(content, &apiErr); err == nil {
			code := apiErr.Error
			if code == "" {
				code = "Unknown error"
			}
			description := apiErr.Description
			if description == "" {
				description = "No description"
			}
			c.logger.Error("ticketing API error",
				"status", status,
				"error_code", code,
				"description", description,
			)
			return c.fail(mapErrorCode(code), nil)
		}
	}

	sum := sha256.Sum256(content)
	c.logger.Error("unknown ticketing error",
		"status", status,
		"content_length", len(content),
		"content_hash", hex.EncodeToString(sum[:]),
	)
	return c.fail(KindGeneric, fmt.Errorf("unexpected status %d", status))
}

func mapErrorCode(code string) Kind {
	switch code {
	case "InvalidEmail", "RecordInvalid":
		return KindInvalidData
	case "TooManyRequests", "RateLimited":
		return KindRateLimited
	case "Unauthorized", "Forbidden":
		return KindServiceUnavailable
	default:
		return KindGeneric
	}
}

func (c *Client) fail(kind Kind, err error) error {
	c.metrics.TicketingResult(string(kind))
	return &Error{Kind: kind, Err: err}
}

func (c *Client) buildPayload(req Request) payload {
	fields := make([]customField, 0, len(c.cfg.CustomFields))
	replacer := strings.NewReplacer(
		"{username}", req.RequesterName,
		"{registered_email}", req.RegisteredEmail,
	)
	for _, f := range c.cfg.CustomFields {
		value := replacer.Replace(f.Value)
		if value == "" {
			continue
		}
		fields = append(fields, customField{ID: f.ID, Value: value})
	}

	tags := c.cfg.Tags
	if tags == nil {
		tags = []string{}
	}

	var formID *int64
	if c.cfg.FormID != 0 {
		id := c.cfg.FormID
		formID = &id
	}

	return payload{Request: ticketRequest{
		Subject:      c.cfg.Subject,
		Type:         "incident",
		Priority:     "normal",
		Tags:         tags,
		TicketFormID: formID,
		Comment:      comment{Body: c.formatBody(req)},
		Requester: requester{
			Email: req.RequesterEmail,
			Name:  req.RequesterName,
		},
		CustomFields: fields,
	}}
}

func (c *Client) formatBody(req Request) string {
	var b strings.Builder
	b.WriteString(c.cfg.Subject)
	b.WriteString("\n\n")

	if req.RequesterName != "" {
		b.WriteString("Username: " + req.RequesterName + "\n")
	}
	if req.RegisteredEmail != "" {
		b.WriteString("Email registered with account: " + req.RegisteredEmail + "\n")
	}
	b.WriteString("Contact email: " + req.RequesterEmail + "\n\n")

	b.WriteString("Additional comments:\n")
	if req.Description != "" {
		b.WriteString(req.Description)
	} else {
		b.WriteString("None provided")
	}

	return b.String()
}
