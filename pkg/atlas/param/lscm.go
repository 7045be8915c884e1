package param

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/geom"
)

// ErrPinnedVertices is returned when no two distinct vertices can be pinned.
var ErrPinnedVertices = errors.New("cannot pin two distinct vertices")

// Conjugate gradient limits.
const (
	cgTolerance    = 1e-10
	cgMinIters     = 1000
	cgMaxIters     = 20000
	cgItersPerUnit = 4
)

// lscmRow is one row of the conformal energy matrix: a triangle contributes a
// real and an imaginary row over the u and v of its three corners.
type lscmRow struct {
	cols [6]int
	vals [6]float64
}

// solveLSCM minimizes the conformal energy with two vertices pinned at their
// current (projected) coordinates. is.UV holds the initial guess on entry.
func solveLSCM(m *mesh.Mesh, is *Island) error {
	n := len(is.UV)
	p0, p1, err := pins(m, is)
	if err != nil {
		return err
	}

	rows := make([]lscmRow, 0, len(is.Faces)*2)
	for i, f := range is.Faces {
		w := localCoords(m, f)
		d := w[1].X() * w[2].Y() // twice the area
		if !(d > 0) {
			continue
		}
		s := 1 / math.Sqrt(d)
		// W_j = w_{j+2} - w_{j+1}
		var re, im lscmRow
		for j := range 3 {
			wj := w[(j+2)%3].Sub(w[(j+1)%3])
			cu, cv := 2*is.Corners[i][j], 2*is.Corners[i][j]+1
			re.cols[2*j], re.vals[2*j] = cu, s*wj.X()
			re.cols[2*j+1], re.vals[2*j+1] = cv, -s*wj.Y()
			im.cols[2*j], im.vals[2*j] = cu, s*wj.Y()
			im.cols[2*j+1], im.vals[2*j+1] = cv, s*wj.X()
		}
		rows = append(rows, re, im)
	}

	x := make([]float64, 2*n)
	for i, p := range is.UV {
		x[2*i], x[2*i+1] = p.X(), p.Y()
	}
	fixed := make([]bool, 2*n)
	fixed[2*p0], fixed[2*p0+1] = true, true
	fixed[2*p1], fixed[2*p1+1] = true, true

	iters := geom.Clamp(cgItersPerUnit*n, cgMinIters, cgMaxIters)
	conjugateGradient(rows, x, fixed, iters)

	for i := range is.UV {
		is.UV[i] = mgl64.Vec2{x[2*i], x[2*i+1]}
	}
	return nil
}

// localCoords places face f in its own plane: corner 0 at the origin and
// corner 1 on the positive x axis, so the triangle winds counter-clockwise.
func localCoords(m *mesh.Mesh, f int) [3]mgl64.Vec2 {
	a, b, c := m.Position(f, 0), m.Position(f, 1), m.Position(f, 2)
	e := b.Sub(a)
	l := e.Len()
	ex := e.Mul(1 / l)
	ey := geom.Normalize(m.Faces[f].Normal.Cross(ex))
	d := c.Sub(a)
	return [3]mgl64.Vec2{{0, 0}, {l, 0}, {d.Dot(ex), d.Dot(ey)}}
}

// pins picks the extreme chart vertices along the widest axis of the chart's
// bounding box.
func pins(m *mesh.Mesh, is *Island) (int, int, error) {
	lo, hi := m.Positions[is.XRef[0]], m.Positions[is.XRef[0]]
	for _, x := range is.XRef {
		p := m.Positions[x]
		for a := range 3 {
			lo[a] = math.Min(lo[a], p[a])
			hi[a] = math.Max(hi[a], p[a])
		}
	}
	axis := 0
	ext := hi.Sub(lo)
	if ext[1] > ext[axis] {
		axis = 1
	}
	if ext[2] > ext[axis] {
		axis = 2
	}

	minV, maxV := 0, 0
	for i, x := range is.XRef {
		p := m.Positions[x][axis]
		if p < m.Positions[is.XRef[minV]][axis] {
			minV = i
		}
		if p > m.Positions[is.XRef[maxV]][axis] {
			maxV = i
		}
	}
	if minV == maxV || is.UV[minV].ApproxEqualThreshold(is.UV[maxV], geom.Epsilon) {
		return 0, 0, ErrPinnedVertices
	}
	return minV, maxV, nil
}

// conjugateGradient minimizes |A x|² over the free entries of x by running
// conjugate gradients on the normal equations AᵀA x = 0 with fixed entries
// held at their values.
func conjugateGradient(rows []lscmRow, x []float64, fixed []bool, maxIters int) int {
	mulNormal := func(in, out []float64) {
		for i := range out {
			out[i] = 0
		}
		for _, r := range rows {
			var ax float64
			for j, c := range r.cols {
				ax += r.vals[j] * in[c]
			}
			for j, c := range r.cols {
				out[c] += r.vals[j] * ax
			}
		}
		for i, f := range fixed {
			if f {
				out[i] = 0
			}
		}
	}

	n := len(x)
	r := make([]float64, n)
	p := make([]float64, n)
	q := make([]float64, n)

	mulNormal(x, r)
	for i := range r {
		r[i] = -r[i]
	}
	copy(p, r)
	rr := dot(r, r)
	if rr == 0 {
		return 0
	}
	stop := rr * cgTolerance * cgTolerance

	for it := range maxIters {
		mulNormal(p, q)
		pq := dot(p, q)
		if pq <= 0 {
			return it
		}
		alpha := rr / pq
		for i := range x {
			x[i] += alpha * p[i]
			r[i] -= alpha * q[i]
		}
		next := dot(r, r)
		if next <= stop {
			return it + 1
		}
		beta := next / rr
		rr = next
		for i := range p {
			p[i] = r[i] + beta*p[i]
		}
	}
	return maxIters
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
