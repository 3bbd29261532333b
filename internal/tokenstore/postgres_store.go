package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbd888/checkoutkit/migrations"
)

// PostgresStore persists recurring tokens in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed token store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded goose migrations.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if err := migrations.Up(ctx, p.db); err != nil {
		return fmt.Errorf("tokenstore: migrate: %w", err)
	}
	return nil
}

func (p *PostgresStore) Put(ctx context.Context, shopperReference, token string) error {
	if err := validate(shopperReference, token); err != nil {
		observe("postgres", "put", err)
		return err
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO recurring_tokens (shopper_reference, recurring_detail_reference, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (shopper_reference) DO UPDATE
		SET recurring_detail_reference = EXCLUDED.recurring_detail_reference,
		    updated_at = NOW()`,
		shopperReference, token,
	)
	observe("postgres", "put", err)
	if err != nil {
		return fmt.Errorf("tokenstore: put: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, shopperReference string) (*Token, error) {
	t := &Token{}
	err := p.db.QueryRowContext(ctx, `
		SELECT shopper_reference, recurring_detail_reference, created_at, updated_at
		FROM recurring_tokens WHERE shopper_reference = $1`, shopperReference,
	).Scan(&t.ShopperReference, &t.RecurringDetailReference, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		observe("postgres", "get", ErrTokenNotFound)
		return nil, ErrTokenNotFound
	}
	observe("postgres", "get", err)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: get: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) Delete(ctx context.Context, shopperReference string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM recurring_tokens WHERE shopper_reference = $1`, shopperReference)
	observe("postgres", "delete", err)
	if err != nil {
		return false, fmt.Errorf("tokenstore: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tokenstore: delete: %w", err)
	}
	return n > 0, nil
}

func (p *PostgresStore) Exists(ctx context.Context, shopperReference string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM recurring_tokens WHERE shopper_reference = $1)`,
		shopperReference,
	).Scan(&exists)
	observe("postgres", "exists", err)
	if err != nil {
		return false, fmt.Errorf("tokenstore: exists: %w", err)
	}
	return exists, nil
}

// Ping checks database connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Pinger = (*PostgresStore)(nil)
)
