package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-stations/models"
)

// flexString accepts a JSON string, number, or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type wireStations struct {
	Count  *int `json:"count"`
	Cursor *struct {
		Next flexString `json:"next"`
	} `json:"cursor"`
	Results []wireStation `json:"results"`
}

type wireStation struct {
	ID     flexString `json:"id"`
	Name   string     `json:"name"`
	Brands []struct {
		Name string `json:"name"`
	} `json:"brands"`
	Brand *struct {
		Name string `json:"name"`
	} `json:"brand"`
	Address    wireAddress    `json:"address"`
	Prices     []wirePrice    `json:"prices"`
	Amenities  *wireAmenities `json:"amenities"`
	StarRating *float64       `json:"starRating"`
}

type wireAddress struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2"`
	Locality   string   `json:"locality"`
	Region     string   `json:"region"`
	PostalCode string   `json:"postalCode"`
	Country    string   `json:"country"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

type wirePrice struct {
	FuelProduct string     `json:"fuelProduct"`
	Cash        *wirePoint `json:"cash"`
	Credit      *wirePoint `json:"credit"`
}

type wirePoint struct {
	Price      *float64 `json:"price"`
	PostedTime string   `json:"postedTime"`
	Nickname   string   `json:"nickname"`
}

type wireAmenities struct {
	HasConvenienceStore *bool `json:"hasConvenienceStore"`
	HasCarWash          *bool `json:"hasCarWash"`
	HasRestrooms        *bool `json:"hasRestrooms"`
	AcceptsCreditCards  *bool `json:"acceptsCreditCards"`
}

// UnmarshalJSON accepts either the flag object or a list of named amenities.
// With a list, every flag is known: listed means true, unlisted false.
func (a *wireAmenities) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		type flags wireAmenities
		return json.Unmarshal(data, (*flags)(a))
	}

	var list []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	var store, wash, restrooms, credit bool
	for _, item := range list {
		name := strings.ToLower(item.Name)
		switch {
		case strings.Contains(name, "convenience"):
			store = true
		case strings.Contains(name, "car wash"):
			wash = true
		case strings.Contains(name, "restroom"):
			restrooms = true
		case strings.Contains(name, "credit"):
			credit = true
		}
	}
	*a = wireAmenities{
		HasConvenienceStore: &store,
		HasCarWash:          &wash,
		HasRestrooms:        &restrooms,
		AcceptsCreditCards:  &credit,
	}
	return nil
}

func (w *wireStations) page() *models.Page {
	page := &models.Page{}
	if w == nil {
		return page
	}
	if w.Count != nil {
		page.Total = *w.Count
		page.HasTotal = true
	}
	if w.Cursor != nil {
		page.Cursor = strings.TrimSpace(string(w.Cursor.Next))
	}
	page.Stations = make([]models.Station, 0, len(w.Results))
	for i := range w.Results {
		page.Stations = append(page.Stations, w.Results[i].station())
	}
	return page
}

func (w *wireStation) station() models.Station {
	st := models.Station{
		ID:         string(w.ID),
		Name:       w.Name,
		StarRating: w.StarRating,
		Address: models.Address{
			Line1:      w.Address.Line1,
			Line2:      w.Address.Line2,
			Locality:   w.Address.Locality,
			Region:     w.Address.Region,
			PostalCode: w.Address.PostalCode,
			Country:    w.Address.Country,
			Latitude:   w.Address.Latitude,
			Longitude:  w.Address.Longitude,
		},
	}
	for _, b := range w.Brands {
		if b.Name != "" {
			st.Brand = b.Name
			break
		}
	}
	if st.Brand == "" && w.Brand != nil {
		st.Brand = w.Brand.Name
	}
	for _, p := range w.Prices {
		st.Prices = append(st.Prices, models.PriceQuote{
			FuelProduct: p.FuelProduct,
			Cash:        p.Cash.point(),
			Credit:      p.Credit.point(),
		})
	}
	if w.Amenities != nil {
		st.Amenities = models.Amenities{
			HasConvenienceStore: w.Amenities.HasConvenienceStore,
			HasCarWash:          w.Amenities.HasCarWash,
			HasRestrooms:        w.Amenities.HasRestrooms,
			AcceptsCreditCards:  w.Amenities.AcceptsCreditCards,
		}
	}
	return st
}

func (p *wirePoint) point() *models.PricePoint {
	if p == nil || p.Price == nil {
		return nil
	}
	return &models.PricePoint{
		Price:      *p.Price,
		PostedTime: p.PostedTime,
		Reporter:   p.Nickname,
	}
}

// FormatPrice renders a price without trailing zeros noise.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
