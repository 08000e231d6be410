// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package testutil

import (
	"context"
	"sync"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/services/email"
	"codeberg.org/oliverandrich/emailauth/internal/services/ticketing"
)

// FakeMailer records messages instead of sending them.
type FakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (m *FakeMailer) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return &email.DeliveryError{Err: m.err}
	}
	m.sent = append(m.sent, msg)
	return nil
}

// FailWith makes subsequent sends fail with err; nil restores success.
func (m *FakeMailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *FakeMailer) Sent() []email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]email.Message(nil), m.sent...)
}

// Last returns the most recent message, or the zero Message.
func (m *FakeMailer) Last() email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return email.Message{}
	}
	return m.sent[len(m.sent)-1]
}

// FakeGateway records ticket requests.
type FakeGateway struct {
	mu       sync.Mutex
	requests []ticketing.Request
	Err      error
	Panic    any
}

func (g *FakeGateway) CreateTicket(_ context.Context, req ticketing.Request) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.Panic != nil {
		panic(g.Panic)
	}
	return g.Err
}

func (g *FakeGateway) Requests() []ticketing.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ticketing.Request(nil), g.requests...)
}

// FakeLimiter allows or denies every key.
type FakeLimiter struct {
	mu   sync.Mutex
	Deny bool
	Err  error
	keys []string
}

func (l *FakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.Err != nil {
		return false, l.Err
	}
	return !l.Deny, nil
}

func (l *FakeLimiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
