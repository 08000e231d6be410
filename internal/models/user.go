// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"database/sql"
	"time"
)

type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID               int64        `db:"id" json:"id"`
	Username         string       `db:"username" json:"username"`
	Email            string       `db:"email" json:"email"`
	EmailConfirmedAt sql.NullTime `db:"email_confirmed_at" json:"-"`
	PasswordHash     string       `db:"password_hash" json:"-"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// HasEmail reports whether an address is on file.
func (u *User) HasEmail() bool {
	return u.Email != ""
}

// EmailConfirmed reports whether the address on file has been confirmed.
func (u *User) EmailConfirmed() bool {
	return u.EmailConfirmedAt.Valid
}
