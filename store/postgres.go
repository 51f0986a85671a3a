// Package store mirrors committed stations into Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-stations/models"
)

const (
	defaultBatch    = 200
	defaultMaxConns = 2
)

// Store upserts stations keyed by provider id. It implements pipeline.Mirror.
type Store struct {
	pool  *pgxpool.Pool
	table string
	batch int
}

// Open connects to dsn. viaBouncer switches to the simple protocol for
// transaction-pooling proxies.
func Open(ctx context.Context, dsn, schema string, maxConns int, viaBouncer bool) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	cfg.MaxConns = int32(maxConns)
	if viaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, table: tableName(schema), batch: defaultBatch}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func tableName(schema string) string {
	if strings.TrimSpace(schema) == "" {
		schema = "public"
	}
	return pgx.Identifier{schema, "fuel_stations"}.Sanitize()
}

// EnsureSchema creates the stations table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		station_id     TEXT PRIMARY KEY,
		station_name   TEXT NOT NULL,
		brand          TEXT,
		address_line1  TEXT,
		city           TEXT,
		state          TEXT,
		zip            TEXT,
		latitude       DOUBLE PRECISION,
		longitude      DOUBLE PRECISION,
		regular_cash   DOUBLE PRECISION,
		regular_credit DOUBLE PRECISION,
		prices         JSONB NOT NULL DEFAULT '[]'::jsonb,
		amenities      JSONB NOT NULL DEFAULT '{}'::jsonb,
		rating         DOUBLE PRECISION,
		query_region   TEXT NOT NULL,
		scraped_at     TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create stations table: %w", err)
	}
	return nil
}

const upsertColumns = `(station_id, station_name, brand, address_line1, city, state, zip,
	latitude, longitude, regular_cash, regular_credit, prices, amenities, rating,
	query_region, scraped_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb,$13::jsonb,$14,$15,$16)
	ON CONFLICT (station_id) DO UPDATE SET
		station_name = EXCLUDED.station_name,
		brand = EXCLUDED.brand,
		address_line1 = EXCLUDED.address_line1,
		city = EXCLUDED.city,
		state = EXCLUDED.state,
		zip = EXCLUDED.zip,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		regular_cash = EXCLUDED.regular_cash,
		regular_credit = EXCLUDED.regular_credit,
		prices = EXCLUDED.prices,
		amenities = EXCLUDED.amenities,
		rating = EXCLUDED.rating,
		query_region = EXCLUDED.query_region,
		scraped_at = EXCLUDED.scraped_at`

// Upsert writes stations in batches; a later scrape of a station overwrites
// the earlier row.
func (s *Store) Upsert(ctx context.Context, stations []models.Station) error {
	query := `INSERT INTO ` + s.table + ` ` + upsertColumns
	for i := 0; i < len(stations); i += s.batch {
		j := min(i+s.batch, len(stations))

		b := &pgx.Batch{}
		for k := i; k < j; k++ {
			args, err := rowArgs(&stations[k])
			if err != nil {
				return err
			}
			b.Queue(query, args...)
		}

		br := s.pool.SendBatch(ctx, b)
		for k := 0; k < b.Len(); k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert station: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
	}
	return nil
}

// rowArgs maps a station onto the upsert placeholders.
func rowArgs(st *models.Station) ([]any, error) {
	prices, err := json.Marshal(st.Prices)
	if err != nil {
		return nil, fmt.Errorf("encode prices of %s: %w", st.ID, err)
	}
	if st.Prices == nil {
		prices = []byte("[]")
	}
	amenities, err := json.Marshal(st.Amenities)
	if err != nil {
		return nil, fmt.Errorf("encode amenities of %s: %w", st.ID, err)
	}

	var cash, credit *float64
	if q := st.Quote("regular_gas"); q != nil {
		if q.Cash != nil {
			cash = &q.Cash.Price
		}
		if q.Credit != nil {
			credit = &q.Credit.Price
		}
	}

	return []any{
		st.ID, st.Name, nullable(st.Brand), nullable(st.Address.Line1),
		nullable(st.Address.Locality), nullable(st.Address.Region), nullable(st.Address.PostalCode),
		st.Address.Latitude, st.Address.Longitude, cash, credit,
		string(prices), string(amenities), st.StarRating,
		string(st.Region), st.ScrapedAt,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
