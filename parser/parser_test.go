package parser

import (
	"testing"

	"github.com/aluiziolira/go-scrape-stations/models"
)

func TestValidateStation(t *testing.T) {
	tests := []struct {
		name    string
		station *models.Station
		wantErr bool
	}{
		{
			name:    "valid station",
			station: &models.Station{ID: "12345", Name: "Shell"},
			wantErr: false,
		},
		{
			name:    "missing name is accepted",
			station: &models.Station{ID: "12345"},
			wantErr: false,
		},
		{
			name:    "missing id",
			station: &models.Station{Name: "Shell"},
			wantErr: true,
		},
		{
			name:    "blank id",
			station: &models.Station{ID: "   ", Name: "Shell"},
			wantErr: true,
		},
		{
			name:    "nil station",
			station: nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStation(tt.station)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStation() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeStation(t *testing.T) {
	st := &models.Station{
		ID:    " 77 ",
		Name:  "  Costco  ",
		Brand: " Costco ",
		Address: models.Address{
			Line1:      " 1 Main St ",
			Locality:   " Katy ",
			Region:     " tx ",
			PostalCode: " 77494 ",
		},
		Prices: []models.PriceQuote{{FuelProduct: " regular_gas "}},
	}

	NormalizeStation(st)

	if st.ID != " 77 " {
		t.Errorf("ID = %q, identifiers must be carried unmodified", st.ID)
	}
	if st.Name != "Costco" || st.Brand != "Costco" {
		t.Errorf("Name/Brand = %q/%q", st.Name, st.Brand)
	}
	if st.Address.Region != "TX" {
		t.Errorf("Region = %q, want TX", st.Address.Region)
	}
	if st.Address.Line1 != "1 Main St" || st.Address.Locality != "Katy" || st.Address.PostalCode != "77494" {
		t.Errorf("address not trimmed: %+v", st.Address)
	}
	if st.Prices[0].FuelProduct != "regular_gas" {
		t.Errorf("FuelProduct = %q", st.Prices[0].FuelProduct)
	}
}

func TestExcluded(t *testing.T) {
	excluded := map[string]struct{}{"ON": {}, "QC": {}}
	tests := []struct {
		region string
		want   bool
	}{
		{region: "NY", want: false},
		{region: "on", want: true},
		{region: "QC ", want: true},
		{region: "", want: false},
	}
	for _, tt := range tests {
		st := models.Station{ID: "1", Address: models.Address{Region: tt.region}}
		if got := Excluded(&st, excluded); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.region, got, tt.want)
		}
		if Excluded(&st, nil) {
			t.Errorf("empty exclusion set should keep %q", tt.region)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{3.19, "3.19"},
		{3.5, "3.5"},
		{4, "4"},
		{2.899, "2.899"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
