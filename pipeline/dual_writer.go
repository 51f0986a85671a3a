package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-stations/models"
)

// DualWriter outputs to both CSV and JSONL formats.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
}

// NewDualWriter creates a writer for both formats.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		return nil, fmt.Errorf("create json writer: %w", err)
	}
	return &DualWriter{csvWriter: csvWriter, jsonWriter: jsonWriter}, nil
}

// Write writes stations to CSV and then to JSONL.
func (dw *DualWriter) Write(stations []models.Station) error {
	if err := dw.csvWriter.Write(stations); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	if err := dw.jsonWriter.Write(stations); err != nil {
		return fmt.Errorf("json write: %w", err)
	}
	return nil
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	return errors.Join(dw.csvWriter.Validate(), dw.jsonWriter.Validate())
}

// NewWriter returns the writer for format ("csv", "json" or "dual") at path.
// The JSONL companion of a dual writer replaces the extension of path.
func NewWriter(format, path string) (OutputWriter, error) {
	var (
		w   OutputWriter
		err error
	)
	switch format {
	case "", "csv":
		w, err = NewCSVWriter(path)
	case "json":
		w, err = NewJSONWriter(path)
	case "dual":
		w, err = NewDualWriter(path, jsonCompanion(path))
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func jsonCompanion(path string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		return path[:i] + ".jsonl"
	}
	return path + ".jsonl"
}
