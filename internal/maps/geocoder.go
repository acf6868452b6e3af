// README: Reverse geocoding of device coordinates via Google Maps.
package maps

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"trail/internal/types"
)

var ErrNoResult = errors.New("no maps result")

// NewClient creates a Google Maps client. Extra options (for example a
// base URL in tests) are applied after the API key.
func NewClient(apiKey string, opts ...maps.ClientOption) (*maps.Client, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

type Geocoder struct {
	client   *maps.Client
	language string
}

func NewGeocoder(client *maps.Client, language string) *Geocoder {
	return &Geocoder{client: client, language: language}
}

// ReverseGeocode returns the formatted address closest to pt.
func (g *Geocoder) ReverseGeocode(ctx context.Context, pt types.Point) (string, error) {
	ll := latLng(pt)
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &ll,
		Language: g.language,
	})
	if err != nil {
		return "", fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 || results[0].FormattedAddress == "" {
		return "", ErrNoResult
	}
	return results[0].FormattedAddress, nil
}

func latLng(pt types.Point) maps.LatLng {
	return maps.LatLng{Lat: pt.Lat, Lng: pt.Lng}
}
