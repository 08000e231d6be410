// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token generates login codes and recovery link tokens.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

const (
	DefaultCodeDigits = 6

	// recoveryTokenBytes yields 256 bits of entropy, 64 hex characters.
	recoveryTokenBytes = 32
)

var ErrInvalidDigits = errors.New("login code digits must be between 6 and 10")

// Generator produces unguessable tokens from crypto/rand.
type Generator struct {
	digits int
}

// NewGenerator returns a Generator for login codes of the given length.
func NewGenerator(digits int) (*Generator, error) {
	if digits == 0 {
		digits = DefaultCodeDigits
	}
	if digits < 6 || digits > 10 {
		return nil, ErrInvalidDigits
	}
	return &Generator{digits: digits}, nil
}

// Digits returns the configured login code length.
func (g *Generator) Digits() int {
	return g.digits
}

// LoginCode returns a zero-padded decimal code drawn uniformly from
// [0, 10^digits).
func (g *Generator) LoginCode() (string, error) {
	var b strings.Builder
	b.Grow(g.digits)

	ten := big.NewInt(10)
	for range g.digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// RecoveryToken returns a hex token suitable as a URL path segment.
func (g *Generator) RecoveryToken() (string, error) {
	b := make([]byte, recoveryTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
