// Package scenario loads, validates and stores simulation scenarios.
package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aristath/horizon/internal/domain"
)

// Parse decodes a scenario from JSON. Unknown fields are rejected so a typo
// in a config file fails loudly instead of silently using a default.
func Parse(data []byte) (*domain.Scenario, error) {
	var scn domain.Scenario
	if err := unmarshalStrict(data, &scn); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &scn, nil
}

// Load reads and decodes a scenario file.
func Load(path string) (*domain.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return Parse(data)
}

// Encode serializes a scenario to indented JSON.
func Encode(scn *domain.Scenario) ([]byte, error) {
	data, err := json.MarshalIndent(scn, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding scenario: %w", err)
	}
	return data, nil
}

func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
