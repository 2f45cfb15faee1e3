// Package taxonomy maps specific incident types ("shooting", "house_fire")
// to broad groups ("violent", "fire") for similarity scoring. The table is
// deliberately coarse: exact match, same group, or nothing.
package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Table maps a lowercased specific incident type to its broad group.
type Table map[string]string

// Default returns the built-in type-to-group table. Operators extend or
// replace it at startup via LoadFile without touching scoring logic.
func Default() Table {
	return Table{
		"shooting":         "violent",
		"stabbing":         "violent",
		"assault":          "violent",
		"robbery":          "violent",
		"burglary":         "property",
		"theft":            "property",
		"vehicle_breakin":  "property",
		"vandalism":        "property",
		"house_fire":       "fire",
		"structure_fire":   "fire",
		"vehicle_fire":     "fire",
		"car_accident":     "traffic",
		"traffic_accident": "traffic",
		"hit_and_run":      "traffic",
	}
}

// LoadFile reads a JSON object of {"type": "group"} entries. Keys are
// lowercased on load so lookups stay case-insensitive.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading taxonomy file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing taxonomy file: %w", err)
	}

	table := make(Table, len(raw))
	for k, v := range raw {
		table[strings.ToLower(k)] = v
	}
	return table, nil
}

// Group returns the broad group for an incident type. Unmapped types act as
// their own group, so two distinct unmapped types never collide.
func (t Table) Group(incidentType string) string {
	key := strings.ToLower(incidentType)
	if group, ok := t[key]; ok {
		return group
	}
	return key
}

// Similarity scores two incident types: 1.0 for an exact (case-insensitive)
// match, 0.5 for the same broad group, 0.0 otherwise.
func (t Table) Similarity(a, b string) float64 {
	if strings.EqualFold(a, b) {
		return 1.0
	}
	if t.Group(a) == t.Group(b) {
		return 0.5
	}
	return 0.0
}
