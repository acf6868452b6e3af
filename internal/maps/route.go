// README: Walking estimates between the user and a task location via Google Maps.
package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"trail/internal/types"
)

// RouteService handles interactions with the Google Maps Directions API.
type RouteService struct {
	client *maps.Client
}

func NewRouteService(client *maps.Client) *RouteService {
	return &RouteService{client: client}
}

// WalkingEstimate returns the walking duration and the human readable
// distance from origin to destination.
func (s *RouteService) WalkingEstimate(ctx context.Context, origin, destination types.Point) (time.Duration, string, error) {
	from, to := latLng(origin), latLng(destination)
	r := &maps.DirectionsRequest{
		Origin:      from.String(),
		Destination: to.String(),
		Mode:        maps.TravelModeWalking,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, "", fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, "", ErrNoResult
	}

	leg := routes[0].Legs[0]
	return leg.Duration, leg.Distance.HumanReadable, nil
}
