// scraper/csv_parser.go
package scraper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/jszwec/csvutil"

	"github.com/gewnthar/encwind/models"
)

// ErrMissingNameColumn is returned when a field metadata CSV has no "name" column.
var ErrMissingNameColumn = errors.New("field metadata CSV has no 'name' column")

// ParseCodeDictionary reads a code dictionary CSV with the header
// column_name,code,value.
func ParseCodeDictionary(reader io.Reader) ([]models.CodeEntry, error) {
	var entries []models.CodeEntry

	decoder, err := csvutil.NewDecoder(csv.NewReader(reader))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create CSV decoder for code dictionary: %w", err)
	}
	if err := decoder.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode code dictionary CSV data: %w", err)
	}
	return entries, nil
}

// LoadCodeDictionary opens and parses a code dictionary file.
func LoadCodeDictionary(path string) ([]models.CodeEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open code dictionary %s: %w", path, err)
	}
	defer f.Close()
	entries, err := ParseCodeDictionary(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseFieldDefinitions reads a field metadata CSV with the header
// name,alias,description. Only "name" is required.
func ParseFieldDefinitions(reader io.Reader) ([]models.FieldDefinition, error) {
	var defs []models.FieldDefinition

	decoder, err := csvutil.NewDecoder(csv.NewReader(reader))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingNameColumn
		}
		return nil, fmt.Errorf("failed to create CSV decoder for field metadata: %w", err)
	}
	if !slices.Contains(decoder.Header(), "name") {
		return nil, ErrMissingNameColumn
	}
	if err := decoder.Decode(&defs); err != nil {
		return nil, fmt.Errorf("failed to decode field metadata CSV data: %w", err)
	}
	return defs, nil
}

// LoadFieldDefinitions opens and parses a field metadata file.
func LoadFieldDefinitions(path string) ([]models.FieldDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open field metadata %s: %w", path, err)
	}
	defer f.Close()
	defs, err := ParseFieldDefinitions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}
