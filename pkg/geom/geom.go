// Package geom provides the small set of geometric helpers shared by the atlas stages.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/exp/constraints"
)

// Epsilon is the tolerance used for near-zero lengths and areas.
const Epsilon = 1e-12

// Clamp returns f clamped to the range [low, high].
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Normalize returns a unit vector, or the zero vector when v has no length.
func Normalize(v mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l < Epsilon || math.IsNaN(l) {
		return mgl64.Vec3{}
	}
	return v.Mul(1 / l)
}

// TriangleNormal returns the unnormalized normal of triangle abc.
// Its length is twice the triangle area.
func TriangleNormal(a, b, c mgl64.Vec3) mgl64.Vec3 {
	return b.Sub(a).Cross(c.Sub(a))
}

// TriangleArea returns the area of the 3D triangle abc.
func TriangleArea(a, b, c mgl64.Vec3) float64 {
	return 0.5 * TriangleNormal(a, b, c).Len()
}

// SignedArea returns the signed area of the 2D triangle abc.
// Positive means counter-clockwise.
func SignedArea(a, b, c mgl64.Vec2) float64 {
	return 0.5 * ((b[0]-a[0])*(c[1]-a[1]) - (c[0]-a[0])*(b[1]-a[1]))
}

// PlaneBasis returns two unit tangents spanning the plane orthogonal to n.
// The triple (u, v, n) is right-handed.
func PlaneBasis(n mgl64.Vec3) (u, v mgl64.Vec3) {
	n = Normalize(n)
	if n.Len() == 0 {
		return mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 0}
	}
	// Pick the world axis least aligned with n.
	ax, ay, az := math.Abs(n[0]), math.Abs(n[1]), math.Abs(n[2])
	var axis mgl64.Vec3
	switch {
	case ax <= ay && ax <= az:
		axis = mgl64.Vec3{1, 0, 0}
	case ay <= az:
		axis = mgl64.Vec3{0, 1, 0}
	default:
		axis = mgl64.Vec3{0, 0, 1}
	}
	u = Normalize(axis.Sub(n.Mul(axis.Dot(n))))
	v = n.Cross(u)
	return u, v
}

// Project maps p onto the plane basis (u, v).
func Project(p, u, v mgl64.Vec3) mgl64.Vec2 {
	return mgl64.Vec2{p.Dot(u), p.Dot(v)}
}

// Rotate rotates p counter-clockwise by the angle whose cosine and sine are given.
func Rotate(p mgl64.Vec2, cos, sin float64) mgl64.Vec2 {
	return mgl64.Vec2{p[0]*cos - p[1]*sin, p[0]*sin + p[1]*cos}
}

// IsFinite reports whether both components are real numbers.
func IsFinite(p mgl64.Vec2) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
