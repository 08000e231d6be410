// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"github.com/vinovest/sqlx"
)

// Repository provides database access for the account store.
type Repository struct {
	db *sqlx.DB
}

// New creates a new Repository.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying database connection.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}
