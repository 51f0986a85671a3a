package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-stations/models"
)

type apiResponse struct {
	Data *struct {
		LocationBySearchTerm *struct {
			Stations *wireStations `json:"stations"`
		} `json:"locationBySearchTerm"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// PageFromResponse decodes a paged API response body.
//
// A response whose location or station listing is null is a valid empty page
// without a declared total; a response carrying only errors is not.
func PageFromResponse(body []byte) (*models.Page, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode api response: %w", err)
	}

	if resp.Data == nil || resp.Data.LocationBySearchTerm == nil {
		if len(resp.Errors) > 0 {
			msgs := make([]string, 0, len(resp.Errors))
			for _, e := range resp.Errors {
				msgs = append(msgs, e.Message)
			}
			return nil, errors.New("api errors: " + strings.Join(msgs, "; "))
		}
		return &models.Page{}, nil
	}
	return resp.Data.LocationBySearchTerm.Stations.page(), nil
}
