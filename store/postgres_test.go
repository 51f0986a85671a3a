package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aluiziolira/go-scrape-stations/models"
)

func TestRowArgs(t *testing.T) {
	lat := 29.78
	st := &models.Station{
		ID:      "1001",
		Name:    "Shell",
		Address: models.Address{Region: "TX", Latitude: &lat},
		Prices: []models.PriceQuote{
			{FuelProduct: "regular_gas", Cash: &models.PricePoint{Price: 2.79}},
		},
		Region:    "77494",
		ScrapedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	args, err := rowArgs(st)
	if err != nil {
		t.Fatalf("rowArgs: %v", err)
	}
	if len(args) != 16 {
		t.Fatalf("args = %d, want 16", len(args))
	}
	if args[0] != "1001" || args[14] != "77494" {
		t.Fatalf("unexpected key columns: %v %v", args[0], args[14])
	}
	if brand := args[2].(*string); brand != nil {
		t.Fatalf("empty brand should be NULL, got %q", *brand)
	}
	if cash := args[9].(*float64); cash == nil || *cash != 2.79 {
		t.Fatalf("regular cash = %v", cash)
	}
	if credit := args[10].(*float64); credit != nil {
		t.Fatalf("regular credit should be NULL, got %v", *credit)
	}
	if args[12] != "{}" {
		t.Fatalf("amenities = %v", args[12])
	}

	empty, _ := rowArgs(&models.Station{ID: "2"})
	if empty[11] != "[]" {
		t.Fatalf("nil prices should encode as [], got %v", empty[11])
	}
}

func TestTableName(t *testing.T) {
	if got := tableName(""); got != `"public"."fuel_stations"` {
		t.Fatalf("tableName(\"\") = %s", got)
	}
	if got := tableName(`odd"schema`); got != `"odd""schema"."fuel_stations"` {
		t.Fatalf("tableName quoting = %s", got)
	}
}

// TestStoreUpsert runs against a real database when STATIONS_TEST_PG_DSN is set.
func TestStoreUpsert(t *testing.T) {
	dsn := os.Getenv("STATIONS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("STATIONS_TEST_PG_DSN not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, dsn, "public", 2, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	id := "test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), `DELETE FROM `+s.table+` WHERE station_id = $1`, id)
	})

	first := models.Station{ID: id, Name: "Before", Region: "77494", ScrapedAt: time.Now()}
	second := models.Station{ID: id, Name: "After", Region: "77450", ScrapedAt: time.Now()}
	if err := s.Upsert(ctx, []models.Station{first}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, []models.Station{second}); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	var name, region string
	err = s.pool.QueryRow(ctx, `SELECT station_name, query_region FROM `+s.table+` WHERE station_id = $1`, id).Scan(&name, &region)
	if err == pgx.ErrNoRows {
		t.Fatal("row missing")
	}
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "After" || region != "77450" {
		t.Fatalf("row = %s/%s, want the latest scrape", name, region)
	}
}
