package repository

import (
	"context"
	"database/sql"

	"github.com/content-store-api/internal/database"
)

type pgTransactor struct {
	db               *database.DB
	textSearchConfig string
}

// WithinTx runs fn with repositories bound to a single transaction.
// Nested calls reuse the outer transaction.
func (t *pgTransactor) WithinTx(ctx context.Context, fn func(repos *Repositories) error) error {
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		repos := newRepositories(tx, t.textSearchConfig)
		repos.Tx = nestedTx{repos: repos}
		return fn(repos)
	})
	return mapError("transaction", err)
}

type nestedTx struct {
	repos *Repositories
}

func (n nestedTx) WithinTx(_ context.Context, fn func(repos *Repositories) error) error {
	return fn(n.repos)
}
