package parser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aluiziolira/go-scrape-stations/models"
)

const maxRefDepth = 32

// PageFromState decodes a normalized "Type:id"-keyed state object into the
// first page of a region: the station list, its declared count and cursor.
//
// A state without any station listing yields an empty page with no total.
func PageFromState(raw string) (*models.Page, error) {
	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode embedded state: %w", err)
	}

	listing, ok := findStationListing(state)
	if !ok {
		return &models.Page{}, nil
	}

	resolved, err := resolveRefs(listing, state, 0)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("re-encode station listing: %w", err)
	}
	var ws wireStations
	if err := json.Unmarshal(encoded, &ws); err != nil {
		return nil, fmt.Errorf("decode station listing: %w", err)
	}
	return ws.page(), nil
}

// findStationListing returns the stations(...) field of the first Location entry.
func findStationListing(state map[string]any) (any, bool) {
	keys := make([]string, 0, len(state))
	for key := range state {
		if strings.HasPrefix(key, "Location:") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry, ok := state[key].(map[string]any)
		if !ok {
			continue
		}
		fields := make([]string, 0, len(entry))
		for field := range entry {
			if strings.HasPrefix(field, "stations") {
				fields = append(fields, field)
			}
		}
		sort.Strings(fields)
		for _, field := range fields {
			if listing, ok := entry[field].(map[string]any); ok {
				return listing, true
			}
		}
	}
	return nil, false
}

// resolveRefs inlines {"__ref": "Type:id"} pointers. Dangling refs become null.
func resolveRefs(v any, state map[string]any, depth int) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if ref, ok := t["__ref"].(string); ok && len(t) == 1 {
			if depth >= maxRefDepth {
				return nil, fmt.Errorf("embedded state: reference chain too deep at %q", ref)
			}
			target, ok := state[ref]
			if !ok {
				return nil, nil
			}
			return resolveRefs(target, state, depth+1)
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			r, err := resolveRefs(child, state, depth)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			r, err := resolveRefs(child, state, depth)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}
