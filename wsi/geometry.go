package wsi

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Point2d is a 2d point in level-0 (full resolution) pixel space.
type Point2d struct {
	X, Y float64
}

func (p Point2d) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Add returns the sum of two points.
func (p Point2d) Add(q Point2d) Point2d {
	return Point2d{p.X + q.X, p.Y + q.Y}
}

// Scale returns the point with both coordinates multiplied by s.
func (p Point2d) Scale(s float64) Point2d {
	return Point2d{p.X * s, p.Y * s}
}

// Polygon is a closed polygon given by its vertices in order.  The closing
// edge from the last vertex back to the first is implicit.
type Polygon []Point2d

func (poly Polygon) ring() orb.Ring {
	r := make(orb.Ring, len(poly))
	for i, v := range poly {
		r[i] = orb.Point{v.X, v.Y}
	}
	return r
}

// Bounds returns the min and max corners of the polygon's bounding box.
func (poly Polygon) Bounds() (min, max Point2d) {
	if len(poly) == 0 {
		return
	}
	b := poly.ring().Bound()
	return Point2d{b.Min.X(), b.Min.Y()}, Point2d{b.Max.X(), b.Max.Y()}
}

// Contains returns true if the point is inside the polygon or on its boundary.
// Polygons with fewer than three vertices contain nothing.
func (poly Polygon) Contains(p Point2d) bool {
	if len(poly) < 3 {
		return false
	}
	return planar.RingContains(poly.ring(), orb.Point{p.X, p.Y})
}
