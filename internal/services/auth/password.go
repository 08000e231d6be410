// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrPasswordTooShort   = errors.New("password is too short")
	ErrPasswordNumeric    = errors.New("password is entirely numeric")
	ErrPasswordTooSimilar = errors.New("password is too similar to the username or email")
)

// PasswordPolicy rejects weak passwords at account creation.
type PasswordPolicy struct {
	MinLength           int
	RejectNumeric       bool
	CheckUserSimilarity bool
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:           12,
		RejectNumeric:       true,
		CheckUserSimilarity: true,
	}
}

// Check returns the first rule password violates, or nil.
func (p PasswordPolicy) Check(password string, userAttributes ...string) error {
	if utf8.RuneCountInString(password) < p.MinLength {
		return ErrPasswordTooShort
	}
	if p.RejectNumeric && isEntirelyNumeric(password) {
		return ErrPasswordNumeric
	}
	if p.CheckUserSimilarity && containsUserAttribute(password, userAttributes) {
		return ErrPasswordTooSimilar
	}
	return nil
}

func isEntirelyNumeric(password string) bool {
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// containsUserAttribute matches the username and the local part of an
// email, ignoring case. Attributes shorter than 3 characters are skipped.
func containsUserAttribute(password string, attributes []string) bool {
	lower := strings.ToLower(password)
	for _, attr := range attributes {
		attr, _, _ = strings.Cut(strings.ToLower(attr), "@")
		if len(attr) >= 3 && strings.Contains(lower, attr) {
			return true
		}
	}
	return false
}
