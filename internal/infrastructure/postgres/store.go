package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store owns the pool. Repositories resolve the transaction from the context so a use case
// can compose several of them inside WithinTx.
type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

type txKey struct{}

// WithinTx implements application.Transactor. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) db(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// Repositories bundles the per-aggregate views over one Store.
type Repositories struct {
	Products     *ProductRepository
	Reservations *ReservationRepository
	Orders       *OrderRepository
	Customers    *CustomerRepository
	Ledger       *Ledger
	Animals      *AnimalRepository
	Settings     *SettingsRepository
	Events       *EventLog
	Outbox       *OutboxStore
}

func (s *Store) Repositories() Repositories {
	return Repositories{
		Products:     &ProductRepository{s: s},
		Reservations: &ReservationRepository{s: s},
		Orders:       &OrderRepository{s: s},
		Customers:    &CustomerRepository{s: s},
		Ledger:       &Ledger{s: s},
		Animals:      &AnimalRepository{s: s},
		Settings:     &SettingsRepository{s: s},
		Events:       &EventLog{s: s},
		Outbox:       &OutboxStore{s: s},
	}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Decimals travel as text; pgx sends string parameters in text format and numeric columns
// are selected with ::text.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: decimal %q: %w", s, err)
	}
	return d, nil
}

// limitArg maps "no limit" (0) to NULL for LIMIT NULLIF($n, 0).
func limitArg(limit int) int {
	if limit < 0 {
		return 0
	}
	return limit
}
