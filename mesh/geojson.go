package mesh

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

func orbPoint(p Point) orb.Point {
	return orb.Point{p.X, p.Y}
}

// OutcomeToFeatureCollection exports a fit as GeoJSON in target coordinates.
// Each correspondence becomes a LineString from the transformed source to the
// target, tagged with its id, residual and inlier flag. When the fit
// succeeded, the bounding box of the inlier targets is added as a Polygon.
func OutcomeToFeatureCollection(o FitOutcome) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	inliers := make(map[int]bool, len(o.Inliers))
	for _, id := range o.Inliers {
		inliers[id] = true
	}

	var inlierTargets orb.MultiPoint
	for _, c := range o.Pairs {
		projected := TransformPoint(c.Source, o.Transform)
		line := orb.LineString{orbPoint(projected), orbPoint(c.Target)}

		f := geojson.NewFeature(line)
		f.Properties["id"] = c.ID
		f.Properties["inlier"] = inliers[c.ID]
		f.Properties["residual"] = planar.Distance(line[0], line[1])
		fc.Append(f)

		if inliers[c.ID] {
			inlierTargets = append(inlierTargets, orbPoint(c.Target))
		}
	}

	if o.OK && len(inlierTargets) > 0 {
		bound := inlierTargets.Bound()
		f := geojson.NewFeature(bound.ToPolygon())
		f.Properties["kind"] = "inlier_bound"
		f.Properties["model"] = o.Model
		f.Properties["errorMetric"] = o.ErrorMetric
		fc.Append(f)
	}

	return fc
}
