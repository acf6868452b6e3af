// README: GeoJSON map view of a ranking, framed on the closest unvisited locations.
package ranking

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// MapView renders every ranked location as a marker feature plus the user
// position, with a bounding box that frames the n closest unvisited
// locations. Without unvisited entries it frames all markers, and without
// markers the user position.
func MapView(rk *Ranking, n int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	var frame, all orb.MultiPoint
	for _, item := range closestUnvisited(rk, n) {
		frame = append(frame, orb.Point{item.Point.Lng, item.Point.Lat})
	}

	for _, item := range rk.Items {
		pt := orb.Point{item.Point.Lng, item.Point.Lat}
		all = append(all, pt)

		f := geojson.NewFeature(pt)
		f.ID = string(item.ID)
		f.Properties["kind"] = "location"
		f.Properties["name"] = item.Name
		f.Properties["visited"] = item.Visited
		if item.DistanceMeters != nil {
			f.Properties["distance_meters"] = *item.DistanceMeters
			f.Properties["distance_label"] = item.DistanceLabel
		}
		fc.Append(f)
	}

	if rk.Position != nil {
		pt := orb.Point{rk.Position.Lng, rk.Position.Lat}
		f := geojson.NewFeature(pt)
		f.Properties["kind"] = "user"
		f.Properties["source"] = string(rk.Position.Source)
		if rk.Position.Accuracy != nil {
			f.Properties["accuracy"] = *rk.Position.Accuracy
		}
		fc.Append(f)
		if len(frame) > 0 {
			frame = append(frame, pt)
		}
	}

	switch {
	case len(frame) > 0:
		fc.BBox = geojson.NewBBox(frame.Bound())
	case len(all) > 0:
		fc.BBox = geojson.NewBBox(all.Bound())
	case rk.Position != nil:
		fc.BBox = geojson.NewBBox(orb.Point{rk.Position.Lng, rk.Position.Lat}.Bound())
	}
	return fc
}
