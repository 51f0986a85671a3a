// Package models defines data structures for the scraper.
package models

import "time"

// Region is a query key (a postal code) the provider paginates stations for.
type Region string

// Station is a normalized fuel station record.
type Station struct {
	ID         string       `json:"station_id"`
	Name       string       `json:"station_name"`
	Brand      string       `json:"brand"`
	Address    Address      `json:"address"`
	Prices     []PriceQuote `json:"prices"`
	Amenities  Amenities    `json:"amenities"`
	StarRating *float64     `json:"rating,omitempty"`
	// Region is the query region the station was collected under.
	Region    Region    `json:"query_region"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Address holds the postal address of a station.
type Address struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	Locality   string   `json:"locality"`
	Region     string   `json:"region"`
	PostalCode string   `json:"postal_code"`
	Country    string   `json:"country,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// PriceQuote is the latest reported price for one fuel product.
type PriceQuote struct {
	FuelProduct string      `json:"fuel_product"`
	Cash        *PricePoint `json:"cash,omitempty"`
	Credit      *PricePoint `json:"credit,omitempty"`
}

// PricePoint is a single posted price and who reported it.
type PricePoint struct {
	Price      float64 `json:"price"`
	PostedTime string  `json:"posted_time"`
	Reporter   string  `json:"reporter"`
}

// Amenities are optional flags; nil means the provider did not say.
type Amenities struct {
	HasConvenienceStore *bool `json:"has_convenience_store,omitempty"`
	HasCarWash          *bool `json:"has_car_wash,omitempty"`
	HasRestrooms        *bool `json:"has_restrooms,omitempty"`
	AcceptsCreditCards  *bool `json:"accepts_credit_cards,omitempty"`
}

// Quote returns the price quote for a fuel product, or nil.
func (s *Station) Quote(fuelProduct string) *PriceQuote {
	for i := range s.Prices {
		if s.Prices[i].FuelProduct == fuelProduct {
			return &s.Prices[i]
		}
	}
	return nil
}

// Page is one paginated fetch result.
type Page struct {
	Stations []Station
	// Total is the provider's declared station count for the whole region.
	Total    int
	HasTotal bool
	// Cursor points at the next page; empty means this is the last page.
	Cursor string
}

// Status is the terminal state of a region collection.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// CollectionResult is the outcome of collecting one region.
type CollectionResult struct {
	Region        Region
	Stations      []Station
	Status        Status
	Reason        string
	Err           error
	TotalExpected int
	Pages         int
	Retries       int
	Filtered      int
	Refreshes     int
	Duration      time.Duration
}

// RunSummary holds the overall result of a collection run.
type RunSummary struct {
	RunID            string
	StartTime        time.Time
	EndTime          time.Time
	Queued           int
	AlreadyDone      int
	Completed        int
	Partial          int
	Failed           int
	Stations         int64
	Pages            int64
	Retries          int64
	SessionRefreshes int64
	FailedByReason   map[string]int
	Interrupted      bool
}
