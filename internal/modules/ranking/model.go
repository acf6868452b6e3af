// README: Ranked location views produced from the catalog and the live position.
package ranking

import (
	"trail/internal/modules/catalog"
	"trail/internal/modules/position"
	"trail/internal/types"
)

type RankedLocation struct {
	catalog.TaskLocation
	DistanceMeters *float64 `json:"distance_meters"`
	DistanceLabel  string   `json:"distance_label,omitempty"`
	Visited        bool     `json:"visited"`
}

// Ranking is an immutable ordered view. A new Ranking value is created for
// every re-rank; holders of an older one keep a consistent snapshot.
type Ranking struct {
	Items    []RankedLocation   `json:"items"`
	Position *position.Position `json:"position,omitempty"`
	Version  uint64             `json:"version"`
}

// Visited reports whether a location has already been responded to.
type Visited interface {
	IsVisited(id types.ID) bool
}

type Config struct {
	// ThresholdDegrees suppresses re-ranks for moves smaller than this on both axes.
	ThresholdDegrees float64
	// ClosestN is the default size of the closest-unvisited view.
	ClosestN int
}

func DefaultConfig() Config {
	return Config{ThresholdDegrees: 0.001, ClosestN: 5}
}
