package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mswatii/pokedex-prices/internal/models"
)

// Config holds the Postgres connection settings
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// Enabled reports whether a database was configured at all
func (c Config) Enabled() bool {
	return c.Host != ""
}

// DSN builds a URL-encoded connection string
func (c Config) DSN() string {
	port := c.Port
	if port == "" {
		port = "5432"
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + port,
		Path:   "/" + c.Name,
	}
	return u.String()
}

// Database records observed card prices and set values
type Database struct {
	pool *pgxpool.Pool
}

// NewDatabase creates a new database connection
func NewDatabase(ctx context.Context, cfg Config) (*Database, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test the connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Database{pool: pool}, nil
}

// Close closes the database connection
func (db *Database) Close() {
	db.pool.Close()
}

// Ping checks the connection is still usable
func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// CreateTables creates the necessary tables if they don't exist
func (db *Database) CreateTables(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS card_prices (
			card_id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			set_name VARCHAR(255) NOT NULL DEFAULT '',
			set_code VARCHAR(64) NOT NULL DEFAULT '',
			rarity VARCHAR(64) NOT NULL DEFAULT '',
			price_usd DECIMAL(12,2) NOT NULL,
			price_source VARCHAR(32) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("error creating card_prices table: %w", err)
	}

	_, err = db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS set_value_snapshots (
			set_code VARCHAR(64) NOT NULL,
			snapshot_date DATE NOT NULL,
			set_name VARCHAR(255) NOT NULL,
			total_cards INTEGER NOT NULL,
			priced_cards INTEGER NOT NULL,
			total_value_usd DECIMAL(14,2) NOT NULL,
			enriched BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (set_code, snapshot_date)
		)
	`)
	if err != nil {
		return fmt.Errorf("error creating set_value_snapshots table: %w", err)
	}

	return nil
}

// CardPrice is one observed card price
type CardPrice struct {
	Card   models.Card
	Price  float64
	Source string
}

// SetSnapshot is the value of a whole set on one day
type SetSnapshot struct {
	SetCode     string
	SetName     string
	Date        time.Time
	TotalCards  int
	PricedCards int
	TotalValue  string // Decimal rendered with two places
	Enriched    bool
}

// UpsertCardPrices stores the latest observed price for each card in one batch.
// Cards without a usable price are skipped.
func (db *Database) UpsertCardPrices(ctx context.Context, prices []CardPrice) error {
	batch := &pgx.Batch{}
	for _, p := range prices {
		if p.Price <= 0 || p.Card.ID == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO card_prices (
				card_id, name, set_name, set_code, rarity, price_usd, price_source
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (card_id)
			DO UPDATE SET
				name = $2,
				set_name = $3,
				set_code = $4,
				rarity = $5,
				price_usd = $6,
				price_source = $7,
				updated_at = NOW()
		`,
			p.Card.ID, p.Card.Name, p.Card.SetName, p.Card.SetCode, p.Card.Rarity, p.Price, p.Source,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("error upserting card prices: %w", err)
	}
	return nil
}

// RecordSetSnapshot stores (or replaces) today's value for a set
func (db *Database) RecordSetSnapshot(ctx context.Context, s SetSnapshot) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO set_value_snapshots (
			set_code, snapshot_date, set_name, total_cards, priced_cards, total_value_usd, enriched
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		ON CONFLICT (set_code, snapshot_date)
		DO UPDATE SET
			set_name = $3,
			total_cards = $4,
			priced_cards = $5,
			total_value_usd = $6::numeric,
			enriched = $7
	`,
		s.SetCode, s.Date, s.SetName, s.TotalCards, s.PricedCards, s.TotalValue, s.Enriched,
	)
	if err != nil {
		return fmt.Errorf("error recording set snapshot: %w", err)
	}
	return nil
}

// SetHistory returns a set's most recent snapshots, newest first. limit <= 0 returns all of them.
func (db *Database) SetHistory(ctx context.Context, setCode string, limit int) ([]SetSnapshot, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT set_code, set_name, snapshot_date, total_cards, priced_cards,
		       total_value_usd::text, enriched
		FROM set_value_snapshots
		WHERE set_code = $1
		ORDER BY snapshot_date DESC
		LIMIT $2
	`, setCode, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error querying set history: %w", err)
	}
	defer rows.Close()

	var history []SetSnapshot
	for rows.Next() {
		var s SetSnapshot
		if err := rows.Scan(&s.SetCode, &s.SetName, &s.Date, &s.TotalCards, &s.PricedCards, &s.TotalValue, &s.Enriched); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		history = append(history, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return history, nil
}

// historyLimit binds LIMIT; NULL means no limit in Postgres
func historyLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
