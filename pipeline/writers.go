package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aluiziolira/go-scrape-stations/models"
	"github.com/aluiziolira/go-scrape-stations/parser"
)

// SchemaVersion tags every emitted row.
const SchemaVersion = "v1"

// Fuel product keys reported by the provider.
const (
	FuelRegular  = "regular_gas"
	FuelMidgrade = "midgrade"
	FuelPremium  = "premium"
	FuelDiesel   = "diesel"
)

// Header is the CSV column layout of SchemaVersion.
var Header = []string{
	"station_id", "station_name", "brand",
	"address_line1", "city", "state", "zip",
	"latitude", "longitude",
	"regular_cash_price", "regular_cash_posted_time", "regular_cash_reporter",
	"regular_credit_price", "regular_credit_posted_time", "regular_credit_reporter",
	"midgrade_cash_price", "midgrade_credit_price",
	"premium_cash_price", "premium_credit_price",
	"diesel_cash_price", "diesel_credit_price",
	"has_convenience_store", "has_car_wash", "has_restrooms",
	"accepts_credit_cards", "rating",
	"scraped_at", "query_region", "schema_version",
}

// CSVWriter appends station rows to a CSV file. Each Write opens the file in
// append mode and closes it again, so rows survive a crash between regions.
// Callers serialise Write calls.
type CSVWriter struct {
	path string
}

// NewCSVWriter prepares the output directory for path.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return &CSVWriter{path: path}, nil
}

// Write appends one row per station, writing the header first when the file
// is new or empty.
func (cw *CSVWriter) Write(stations []models.Station) (err error) {
	f, err := os.OpenFile(cw.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close csv file: %w", cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(Header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	for i := range stations {
		if err := writer.Write(Record(&stations[i])); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	return validateFile(cw.path, "csv")
}

// Record flattens a station into a row matching Header.
func Record(s *models.Station) []string {
	regular := s.Quote(FuelRegular)
	row := []string{
		s.ID,
		s.Name,
		s.Brand,
		s.Address.Line1,
		s.Address.Locality,
		s.Address.Region,
		s.Address.PostalCode,
		formatOptional(s.Address.Latitude),
		formatOptional(s.Address.Longitude),
	}
	row = append(row, pointColumns(cashOf(regular))...)
	row = append(row, pointColumns(creditOf(regular))...)
	for _, fuel := range []string{FuelMidgrade, FuelPremium, FuelDiesel} {
		q := s.Quote(fuel)
		row = append(row, priceOf(cashOf(q)), priceOf(creditOf(q)))
	}
	row = append(row,
		formatFlag(s.Amenities.HasConvenienceStore),
		formatFlag(s.Amenities.HasCarWash),
		formatFlag(s.Amenities.HasRestrooms),
		formatFlag(s.Amenities.AcceptsCreditCards),
		formatOptional(s.StarRating),
		formatTime(s.ScrapedAt),
		string(s.Region),
		SchemaVersion,
	)
	return row
}

func cashOf(q *models.PriceQuote) *models.PricePoint {
	if q == nil {
		return nil
	}
	return q.Cash
}

func creditOf(q *models.PriceQuote) *models.PricePoint {
	if q == nil {
		return nil
	}
	return q.Credit
}

func priceOf(p *models.PricePoint) string {
	if p == nil {
		return ""
	}
	return parser.FormatPrice(p.Price)
}

func pointColumns(p *models.PricePoint) []string {
	if p == nil {
		return []string{"", "", ""}
	}
	return []string{parser.FormatPrice(p.Price), p.PostedTime, p.Reporter}
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatFlag(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// JSONWriter appends newline-delimited JSON station records.
type JSONWriter struct {
	path string
}

// NewJSONWriter prepares the output directory for path.
func NewJSONWriter(path string) (*JSONWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return &JSONWriter{path: path}, nil
}

type jsonRecord struct {
	*models.Station
	SchemaVersion string `json:"schema_version"`
}

// Write appends stations in JSONL format.
func (jw *JSONWriter) Write(stations []models.Station) (err error) {
	f, err := os.OpenFile(jw.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open json file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close json file: %w", cerr)
		}
	}()

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	for i := range stations {
		if err := encoder.Encode(jsonRecord{Station: &stations[i], SchemaVersion: SchemaVersion}); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.path, "json")
}

func validateFile(path, kind string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
