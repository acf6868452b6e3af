package geo

import (
	"math"
	"testing"

	"trail/internal/types"
)

func TestDistanceMeters_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantM     float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 59.437, Lng: 24.7536},
			b:         types.Point{Lat: 59.437, Lng: 24.7536},
			wantM:     0,
			tolerance: 0,
		},
		{
			name:      "Tallinn Town Hall Square to Kadriorg Palace (~2.6km)",
			a:         types.Point{Lat: 59.4372, Lng: 24.7453},
			b:         types.Point{Lat: 59.4381, Lng: 24.7910},
			wantM:     2600,
			tolerance: 150,
		},
		{
			name:      "one degree of latitude (~111km)",
			a:         types.Point{Lat: 0, Lng: 0},
			b:         types.Point{Lat: 1, Lng: 0},
			wantM:     111195,
			tolerance: 10,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantM:     3944000,
			tolerance: 50000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.a, tt.b)
			if math.Abs(got-tt.wantM) > tt.tolerance {
				t.Errorf("DistanceMeters() = %f, want %f (±%f)", got, tt.wantM, tt.tolerance)
			}
		})
	}
}

func TestDistanceMeters_Symmetry(t *testing.T) {
	pairs := [][2]types.Point{
		{{Lat: 25.0, Lng: 121.0}, {Lat: 26.0, Lng: 122.0}},
		{{Lat: -45.5, Lng: 170.1}, {Lat: 10.2, Lng: -179.9}},
		{{Lat: 89.9, Lng: 0}, {Lat: -89.9, Lng: 180}},
	}
	for _, p := range pairs {
		d1 := DistanceMeters(p[0], p[1])
		d2 := DistanceMeters(p[1], p[0])
		if math.Abs(d1-d2) > 1e-6 {
			t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
		}
	}
}

func TestDistanceMeters_Zero(t *testing.T) {
	for _, p := range []types.Point{{Lat: 0, Lng: 0}, {Lat: 90, Lng: 180}, {Lat: -12.34, Lng: 56.78}} {
		if d := DistanceMeters(p, p); d != 0 {
			t.Errorf("DistanceMeters(%v, %v) = %f, want 0", p, p, d)
		}
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{0, "0 m"},
		{49.6, "50 m"},
		{999.4, "999 m"},
		{999.5, "1.0 km"},
		{1000, "1.0 km"},
		{1049, "1.0 km"},
		{1060, "1.1 km"},
		{12345, "12.3 km"},
		{-1, ""},
		{math.NaN(), ""},
	}
	for _, tt := range tests {
		if got := FormatDistance(tt.meters); got != tt.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", tt.meters, got, tt.want)
		}
	}
}

func TestSortByDistance_Stable(t *testing.T) {
	type item struct {
		id   string
		dist float64
	}
	items := []item{{"c", 5}, {"a", 1}, {"b1", 3}, {"b2", 3}, {"a2", 1}}

	SortByDistance(items, func(i item) float64 { return i.dist })

	want := []string{"a", "a2", "b1", "b2", "c"}
	for i, w := range want {
		if items[i].id != w {
			t.Fatalf("unexpected sort order at %d: got %v", i, items)
		}
	}
}

func TestSortByDistance_Empty(t *testing.T) {
	var items []float64
	SortByDistance(items, func(f float64) float64 { return f })
}
