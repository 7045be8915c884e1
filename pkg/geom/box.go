package geom

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// Box2 is an axis-aligned 2D bounding box.
type Box2 struct {
	Min, Max mgl64.Vec2
}

// EmptyBox returns a box that contains nothing; extending it with a point yields that point.
func EmptyBox() Box2 {
	return Box2{
		Min: mgl64.Vec2{math.Inf(1), math.Inf(1)},
		Max: mgl64.Vec2{math.Inf(-1), math.Inf(-1)},
	}
}

// BoxOf returns the bounding box of pts.
func BoxOf(pts []mgl64.Vec2) Box2 {
	b := EmptyBox()
	for _, p := range pts {
		b = b.Extend(p)
	}
	return b
}

// Extend returns b grown to contain p.
func (b Box2) Extend(p mgl64.Vec2) Box2 {
	return Box2{
		Min: mgl64.Vec2{math.Min(b.Min[0], p[0]), math.Min(b.Min[1], p[1])},
		Max: mgl64.Vec2{math.Max(b.Max[0], p[0]), math.Max(b.Max[1], p[1])},
	}
}

// Empty reports whether the box contains no point.
func (b Box2) Empty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1]
}

// Width returns the horizontal extent.
func (b Box2) Width() float64 {
	if b.Empty() {
		return 0
	}
	return b.Max[0] - b.Min[0]
}

// Height returns the vertical extent.
func (b Box2) Height() float64 {
	if b.Empty() {
		return 0
	}
	return b.Max[1] - b.Min[1]
}

// Area returns Width * Height.
func (b Box2) Area() float64 {
	return b.Width() * b.Height()
}

// Overlaps reports whether the interiors of b and o intersect.
// Boxes that only touch along an edge do not overlap.
func (b Box2) Overlaps(o Box2) bool {
	return b.Min[0] < o.Max[0] && o.Min[0] < b.Max[0] &&
		b.Min[1] < o.Max[1] && o.Min[1] < b.Max[1]
}

// ConvexHull returns the convex hull of pts in counter-clockwise order
// using Andrew's monotone chain. Collinear points are dropped.
func ConvexHull(pts []mgl64.Vec2) []mgl64.Vec2 {
	if len(pts) < 3 {
		return append([]mgl64.Vec2(nil), pts...)
	}
	sorted := append([]mgl64.Vec2(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b mgl64.Vec2) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	hull := make([]mgl64.Vec2, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// MinAreaRect finds the rotation that minimizes the axis-aligned bounding box
// of the given convex hull. It returns the cosine and sine of the rotation to
// apply to the points, oriented so the longer side ends up horizontal.
func MinAreaRect(hull []mgl64.Vec2) (cos, sin float64) {
	cos, sin = 1, 0
	if len(hull) < 3 {
		return cos, sin
	}
	best := BoxOf(hull).Area()
	for i := range hull {
		e := hull[(i+1)%len(hull)].Sub(hull[i])
		l := e.Len()
		if l < Epsilon {
			continue
		}
		// Rotate so that edge e lies along +X.
		c, s := e[0]/l, -e[1]/l
		box := EmptyBox()
		for _, p := range hull {
			box = box.Extend(Rotate(p, c, s))
		}
		if area := box.Area(); area < best-Epsilon {
			best = area
			cos, sin = c, s
		}
	}

	box := EmptyBox()
	for _, p := range hull {
		box = box.Extend(Rotate(p, cos, sin))
	}
	if box.Height() > box.Width() {
		// Quarter turn: (c, s) -> rotation by an extra 90 degrees.
		cos, sin = -sin, cos
	}
	return cos, sin
}
