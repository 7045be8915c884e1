package pack

import (
	"image"
	"image/draw"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/image/vector"

	"github.com/Faultbox/uvatlas/pkg/atlas/param"
	"github.com/Faultbox/uvatlas/pkg/geom"
)

// prepared holds an island rotated to its minimum-area rectangle.
type prepared struct {
	rot  mgl64.Mat3 // Island UV to the rotated frame, box minimum at the origin
	w, h float64    // Extent in surface units
}

// footprint is the occupancy mask of one island at a given scale and rotation.
type footprint struct {
	mask     *bitGrid   // Includes padding
	local    mgl64.Mat3 // Island UV to mask texels
	rotation int
	w, h     float64 // Island extent in texels, before padding
}

func prepare(is *param.Island) prepared {
	hull := geom.ConvexHull(is.UV)
	cos, sin := geom.MinAreaRect(hull)
	r := affine(cos, -sin, sin, cos, 0, 0)

	box := geom.EmptyBox()
	for _, uv := range is.UV {
		box = box.Extend(apply(r, uv))
	}
	return prepared{
		rot: affine(1, 0, 0, 1, -box.Min[0], -box.Min[1]).Mul3(r),
		w:   box.Width(),
		h:   box.Height(),
	}
}

// quarterTurn returns the rotation by r*90 degrees counter-clockwise that maps
// the rectangle [0,w]x[0,h] back into the positive quadrant.
func quarterTurn(r int, w, h float64) mgl64.Mat3 {
	switch r & 3 {
	case 1:
		return affine(0, -1, 1, 0, h, 0)
	case 2:
		return affine(-1, 0, 0, -1, w, h)
	case 3:
		return affine(0, 1, -1, 0, 0, w)
	default:
		return mgl64.Ident3()
	}
}

// buildFootprint scales p by s texels per unit, turns it by rotation quarter
// turns and rasterizes it with the given padding.
func buildFootprint(is *param.Island, p *prepared, s float64, rotation, pad int, tight, blockAlign bool) footprint {
	w, h := p.w*s, p.h*s
	turn := quarterTurn(rotation, w, h)
	if rotation&1 == 1 {
		w, h = h, w
	}
	local := affine(1, 0, 0, 1, float64(pad), float64(pad)).
		Mul3(turn).
		Mul3(affine(s, 0, 0, s, 0, 0)).
		Mul3(p.rot)

	cw, ch := cells(w), cells(h)
	if blockAlign {
		cw, ch = alignUp(cw+2*pad, 4)-2*pad, alignUp(ch+2*pad, 4)-2*pad
	}

	var core *bitGrid
	if tight {
		core = rasterize(is, affine(1, 0, 0, 1, -float64(pad), -float64(pad)).Mul3(local), cw, ch)
	} else {
		core = newBitGrid(cw, ch)
		core.fill()
	}
	return footprint{
		mask:     core.dilated(pad),
		local:    local,
		rotation: rotation,
		w:        w,
		h:        h,
	}
}

// rasterize marks every texel covered by a triangle of the island, plus the
// texels holding its vertices, into a cw x ch grid.
func rasterize(is *param.Island, m mgl64.Mat3, cw, ch int) *bitGrid {
	z := vector.NewRasterizer(cw, ch)
	z.DrawOp = draw.Src
	for i := range is.Faces {
		a := apply(m, is.CornerUV(i, 0))
		b := apply(m, is.CornerUV(i, 1))
		c := apply(m, is.CornerUV(i, 2))
		// Mixed windings would cancel in the accumulation buffer.
		if geom.SignedArea(a, b, c) < 0 {
			b, c = c, b
		}
		z.MoveTo(float32(a[0]), float32(a[1]))
		z.LineTo(float32(b[0]), float32(b[1]))
		z.LineTo(float32(c[0]), float32(c[1]))
		z.ClosePath()
	}
	dst := image.NewAlpha(image.Rect(0, 0, cw, ch))
	z.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})

	g := newBitGrid(cw, ch)
	for y := range ch {
		for x := range cw {
			if dst.AlphaAt(x, y).A > 0 {
				g.set(x, y)
			}
		}
	}
	for _, uv := range is.UV {
		q := apply(m, uv)
		x := geom.Clamp(int(math.Floor(q[0])), 0, cw-1)
		y := geom.Clamp(int(math.Floor(q[1])), 0, ch-1)
		g.set(x, y)
	}
	return g
}

// cells returns the number of whole texels needed to hold extent v.
func cells(v float64) int {
	return max(1, int(math.Ceil(v)))
}

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}

// affine builds the 2D transform [a b tx; c d ty].
func affine(a, b, c, d, tx, ty float64) mgl64.Mat3 {
	return mgl64.Mat3{a, c, 0, b, d, 0, tx, ty, 1}
}

func apply(m mgl64.Mat3, p mgl64.Vec2) mgl64.Vec2 {
	return m.Mul3x1(mgl64.Vec3{p[0], p[1], 1}).Vec2()
}
