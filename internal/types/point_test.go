package types

import (
	"math"
	"testing"

	"trail/internal/apperr"
)

func TestPointValidate(t *testing.T) {
	neg := -1.0
	acc := 12.5
	tests := []struct {
		name      string
		p         Point
		wantField string
	}{
		{name: "valid", p: Point{Lat: 59.437, Lng: 24.7536}},
		{name: "valid with accuracy", p: Point{Lat: -33.86, Lng: 151.2, Accuracy: &acc}},
		{name: "poles and antimeridian", p: Point{Lat: 90, Lng: -180}},
		{name: "lat too high", p: Point{Lat: 90.01, Lng: 0}, wantField: "lat"},
		{name: "lng too low", p: Point{Lat: 0, Lng: -180.5}, wantField: "lng"},
		{name: "negative accuracy", p: Point{Lat: 1, Lng: 1, Accuracy: &neg}, wantField: "accuracy"},
		{name: "nan lat", p: Point{Lat: math.NaN(), Lng: 1}, wantField: "lat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Fatalf("Validate() kind = %v, want validation (err=%v)", apperr.KindOf(err), err)
			}
			if _, ok := apperr.FieldsOf(err)[tt.wantField]; !ok {
				t.Errorf("expected field %q in %v", tt.wantField, apperr.FieldsOf(err))
			}
		})
	}
}

func TestPointWithinDelta(t *testing.T) {
	a := Point{Lat: 59.4370, Lng: 24.7536}
	if !a.WithinDelta(Point{Lat: 59.4375, Lng: 24.7530}, 0.001) {
		t.Error("expected small move to be within delta")
	}
	if a.WithinDelta(Point{Lat: 59.4385, Lng: 24.7536}, 0.001) {
		t.Error("expected 0.0015 deg move to exceed delta")
	}
}
