package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineSamePoint(t *testing.T) {
	if d := HaversineKm(37.5665, 126.978, 37.5665, 126.978); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestOffsetNorthRoundTrip(t *testing.T) {
	lat := OffsetNorth(37.5665, 100)
	d := DistanceMeters(37.5665, 126.978, lat, 126.978)
	if math.Abs(d-100) > 0.01 {
		t.Fatalf("expected 100m, got %v", d)
	}
}
