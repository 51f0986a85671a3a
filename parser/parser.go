package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-stations/models"
)

// ValidateStation ensures the record carries an id to deduplicate on.
func ValidateStation(s *models.Station) error {
	if s == nil {
		return fmt.Errorf("station is nil")
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("station missing id")
	}
	return nil
}

// NormalizeStation trims text fields and upper-cases the jurisdiction code.
// The identifier is left untouched.
func NormalizeStation(s *models.Station) {
	s.Name = strings.TrimSpace(s.Name)
	s.Brand = strings.TrimSpace(s.Brand)
	s.Address.Line1 = strings.TrimSpace(s.Address.Line1)
	s.Address.Line2 = strings.TrimSpace(s.Address.Line2)
	s.Address.Locality = strings.TrimSpace(s.Address.Locality)
	s.Address.Region = NormalizeJurisdiction(s.Address.Region)
	s.Address.PostalCode = strings.TrimSpace(s.Address.PostalCode)
	for i := range s.Prices {
		s.Prices[i].FuelProduct = strings.TrimSpace(s.Prices[i].FuelProduct)
	}
}

// NormalizeJurisdiction returns the canonical form of a state/province code.
func NormalizeJurisdiction(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Excluded reports whether the station lies in an excluded jurisdiction.
func Excluded(s *models.Station, excluded map[string]struct{}) bool {
	if len(excluded) == 0 {
		return false
	}
	_, ok := excluded[NormalizeJurisdiction(s.Address.Region)]
	return ok
}
