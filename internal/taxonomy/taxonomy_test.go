package taxonomy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSimilarity_ExactMatch(t *testing.T) {
	table := Default()
	if got := table.Similarity("shooting", "shooting"); got != 1.0 {
		t.Errorf("expected 1.0 for exact match, got %f", got)
	}
}

func TestSimilarity_CaseInsensitive(t *testing.T) {
	table := Default()
	if got := table.Similarity("Shooting", "SHOOTING"); got != 1.0 {
		t.Errorf("expected 1.0 for case-insensitive match, got %f", got)
	}
}

func TestSimilarity_SameGroup(t *testing.T) {
	table := Default()
	if got := table.Similarity("shooting", "stabbing"); got != 0.5 {
		t.Errorf("expected 0.5 for same group, got %f", got)
	}
	if got := table.Similarity("house_fire", "vehicle_fire"); got != 0.5 {
		t.Errorf("expected 0.5 for same group, got %f", got)
	}
}

func TestSimilarity_DifferentGroup(t *testing.T) {
	table := Default()
	if got := table.Similarity("shooting", "burglary"); got != 0.0 {
		t.Errorf("expected 0.0 for different groups, got %f", got)
	}
}

func TestSimilarity_UnmappedTypes(t *testing.T) {
	table := Default()

	// Two different unmapped types each act as their own group
	if got := table.Similarity("drone_sighting", "power_outage"); got != 0.0 {
		t.Errorf("expected 0.0 for distinct unmapped types, got %f", got)
	}

	// Unmapped vs mapped never share a group
	if got := table.Similarity("drone_sighting", "shooting"); got != 0.0 {
		t.Errorf("expected 0.0 for unmapped vs mapped, got %f", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.json")
	content := `{"Drone_Sighting": "aerial", "laser_strike": "aerial"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write taxonomy file: %v", err)
	}

	table, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if got := table.Similarity("drone_sighting", "laser_strike"); got != 0.5 {
		t.Errorf("expected 0.5 for loaded group match, got %f", got)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := LoadFile("/nonexistent/taxonomy.json"); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
