// Package rates implements the negotiated-rate repository backed by SQLite
// (modernc.org/sqlite, pure Go, no CGO).
package rates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Kind discriminates how a negotiated rate is expressed.
type Kind string

const (
	KindAmount     Kind = "AMOUNT"
	KindPercentage Kind = "PERCENTAGE"
)

// NegotiatedRate is the insurer-negotiated price for a service at a provider.
// Only Kind == AMOUNT with Found == true is eligible for calculation.
type NegotiatedRate struct {
	Amount decimal.Decimal
	Kind   Kind
	Found  bool
}

// Query identifies one service-at-provider rate row.
type Query struct {
	ServiceCode    string
	PlaceOfService string
	ProviderID     string
	NetworkID      string
	SpecialtyCode  string
}

// Summary returns a short description of the query for error records.
func (q Query) Summary() string {
	return "rate service=" + q.ServiceCode + " provider=" + q.ProviderID
}

// Store is the SQLite-backed rate repository.
type Store struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &Store{db: db}, nil
}

// Migrate creates the rate table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS negotiated_rates (
			service_code TEXT NOT NULL,
			place_of_service TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL,
			network_id TEXT NOT NULL DEFAULT '',
			specialty_code TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'AMOUNT',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (service_code, place_of_service, provider_id, network_id, specialty_code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rates_provider ON negotiated_rates(provider_id)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate rates: %w", err)
		}
	}
	return nil
}

// Lookup returns the negotiated rate for the query. A missing row is not an
// error; it comes back as Found == false and the caller decides how to
// surface it.
func (s *Store) Lookup(ctx context.Context, q Query) (NegotiatedRate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT amount, kind FROM negotiated_rates
		 WHERE service_code = ? AND place_of_service = ? AND provider_id = ?
		   AND network_id = ? AND specialty_code = ?`,
		q.ServiceCode, q.PlaceOfService, q.ProviderID, q.NetworkID, q.SpecialtyCode)

	var amountStr, kindStr string
	if err := row.Scan(&amountStr, &kindStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NegotiatedRate{Found: false}, nil
		}
		return NegotiatedRate{}, fmt.Errorf("lookup rate: %w", err)
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return NegotiatedRate{}, fmt.Errorf("corrupt rate amount %q: %w", amountStr, err)
	}
	return NegotiatedRate{Amount: amount, Kind: Kind(kindStr), Found: true}, nil
}

// Upsert inserts or replaces a rate row.
func (s *Store) Upsert(ctx context.Context, q Query, amount decimal.Decimal, kind Kind) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO negotiated_rates
		   (service_code, place_of_service, provider_id, network_id, specialty_code, amount, kind, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (service_code, place_of_service, provider_id, network_id, specialty_code)
		 DO UPDATE SET amount = excluded.amount, kind = excluded.kind, updated_at = CURRENT_TIMESTAMP`,
		q.ServiceCode, q.PlaceOfService, q.ProviderID, q.NetworkID, q.SpecialtyCode,
		amount.String(), string(kind))
	if err != nil {
		return fmt.Errorf("upsert rate: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
