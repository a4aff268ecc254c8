package geo

import (
	"errors"
	"math"
	"testing"
)

func TestCoordinate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		coord   Coordinate
		wantErr bool
	}{
		{"origin", Coordinate{0, 0}, false},
		{"manila", Coordinate{14.5995, 120.9842}, false},
		{"north pole", Coordinate{90, 0}, false},
		{"antimeridian", Coordinate{0, -180}, false},
		{"latitude too high", Coordinate{90.0001, 0}, true},
		{"latitude too low", Coordinate{-91, 0}, true},
		{"longitude too high", Coordinate{0, 181}, true},
		{"nan latitude", Coordinate{math.NaN(), 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCoordinate) {
					t.Errorf("expected ErrInvalidCoordinate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCoordinate_StringAndKey(t *testing.T) {
	c := Coordinate{Latitude: 14.5995, Longitude: 120.9842}

	if got := c.String(); got != "14.5995,120.9842" {
		t.Errorf("String() = %q", got)
	}
	if got := c.Key(); got != "14.599500,120.984200" {
		t.Errorf("Key() = %q", got)
	}
}

func TestParse(t *testing.T) {
	c, err := Parse(" 14.5995 , 120.9842 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Latitude != 14.5995 || c.Longitude != 120.9842 {
		t.Errorf("unexpected coordinate %+v", c)
	}

	for _, bad := range []string{"", "14.5", "a,b", "95,10"} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidCoordinate) {
			t.Errorf("Parse(%q): expected ErrInvalidCoordinate, got %v", bad, err)
		}
	}
}

func TestDistance(t *testing.T) {
	// One degree of latitude is roughly 111 km.
	d := Distance(Coordinate{0, 0}, Coordinate{1, 0})
	if math.Abs(d-111195) > 100 {
		t.Errorf("expected ~111195m, got %f", d)
	}

	if d := Distance(Coordinate{14.5, 121}, Coordinate{14.5, 121}); d != 0 {
		t.Errorf("expected 0 for identical points, got %f", d)
	}
}
