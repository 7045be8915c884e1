// Package param flattens charts into 2D islands.
package param

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/uvatlas/pkg/atlas/chart"
	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/geom"
)

// Parameterization errors.
var (
	ErrFlippedFace = errors.New("face flipped in parameterization")
	ErrZeroArea    = errors.New("island has zero area")
	ErrNotFinite   = errors.New("parameterization produced non-finite coordinates")
	ErrEmptyChart  = errors.New("chart has no faces")
)

// planarCos is the normal cosine above which every face counts as coplanar.
const planarCos = 1 - 1e-9

// Method names the flattening technique used for an island.
type Method int

const (
	MethodProjection Method = iota
	MethodLSCM
	MethodExisting // Existing UVs, packOnly
)

func (m Method) String() string {
	switch m {
	case MethodProjection:
		return "projection"
	case MethodLSCM:
		return "lscm"
	case MethodExisting:
		return "existing"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Island is a flattened chart. UV is indexed by chart vertex.
type Island struct {
	Chart   int
	Method  Method
	Faces   []int        // Mesh faces, ascending
	Corners [][3]int     // Chart vertex per face corner, parallel to Faces
	XRef    []int        // Mesh position index per chart vertex
	UV      []mgl64.Vec2 // Chart vertex coordinates, in surface units
	Area    float64      // Parametric area
	Box     geom.Box2
}

// VertexCount returns the number of chart vertices.
func (is *Island) VertexCount() int { return len(is.UV) }

// CornerUV returns the coordinate of corner k of the i-th island face.
func (is *Island) CornerUV(i, k int) mgl64.Vec2 {
	return is.UV[is.Corners[i][k]]
}

// Parameterize flattens chart c of mesh m. Coplanar charts are projected onto
// their plane; others are solved with least-squares conformal maps. The island
// is scaled so its parametric area equals the chart's surface area.
func Parameterize(m *mesh.Mesh, c *chart.Chart) (*Island, error) {
	is, err := weld(m, c, false)
	if err != nil {
		return nil, err
	}

	planar := true
	for _, f := range c.Faces {
		if m.Faces[f].Normal.Dot(c.AverageNormal) < planarCos {
			planar = false
			break
		}
	}

	u, v := geom.PlaneBasis(c.AverageNormal)
	for i, x := range is.XRef {
		is.UV[i] = geom.Project(m.Positions[x], u, v)
	}
	if planar {
		is.Method = MethodProjection
	} else {
		is.Method = MethodLSCM
		if err := solveLSCM(m, is); err != nil {
			return nil, fmt.Errorf("chart %d: %w", c.ID, err)
		}
	}

	if err := is.check(true); err != nil {
		return nil, fmt.Errorf("chart %d: %w", c.ID, err)
	}
	if c.Area > 0 {
		is.scale(math.Sqrt(c.Area / is.Area))
	}
	return is, nil
}

// FromUVs builds an island from the mesh's existing texture coordinates.
// Mirrored islands are accepted as-is.
func FromUVs(m *mesh.Mesh, c *chart.Chart) (*Island, error) {
	is, err := weld(m, c, true)
	if err != nil {
		return nil, err
	}
	is.Method = MethodExisting
	if err := is.check(false); err != nil {
		return nil, fmt.Errorf("chart %d: %w", c.ID, err)
	}
	return is, nil
}

// weld assigns chart vertices: corners are merged only across edges whose
// both faces belong to the chart, so cuts inside the chart stay open.
func weld(m *mesh.Mesh, c *chart.Chart, existingUVs bool) (*Island, error) {
	if len(c.Faces) == 0 {
		return nil, fmt.Errorf("chart %d: %w", c.ID, ErrEmptyChart)
	}
	faces := append([]int(nil), c.Faces...)
	sort.Ints(faces)
	local := func(f int) int {
		i := sort.SearchInts(faces, f)
		if i < len(faces) && faces[i] == f {
			return i
		}
		return -1
	}

	uf := newUnionFind(len(faces) * 3)
	for i, f := range faces {
		for k := range 3 {
			o := m.Opposite(f, k)
			if o < 0 {
				continue
			}
			j := local(o)
			if j < 0 {
				continue
			}
			if existingUVs && m.Flags(f, k)&mesh.EdgeTextureSeam != 0 {
				continue
			}
			k1 := (k + 1) % 3
			if a := m.OppositeCorner(f, k, o); a >= 0 {
				uf.union(i*3+k, j*3+a)
			}
			if b := m.OppositeCorner(f, k1, o); b >= 0 {
				uf.union(i*3+k1, j*3+b)
			}
		}
	}

	is := &Island{
		Chart:   c.ID,
		Faces:   faces,
		Corners: make([][3]int, len(faces)),
	}
	ids := make(map[int]int)
	for i, f := range faces {
		for k := range 3 {
			root := uf.find(i*3 + k)
			id, ok := ids[root]
			if !ok {
				id = len(is.XRef)
				ids[root] = id
				is.XRef = append(is.XRef, m.Faces[f].V[k])
				var uv mgl64.Vec2
				if existingUVs {
					uv = m.CornerUV(f, k)
				}
				is.UV = append(is.UV, uv)
			}
			is.Corners[i][k] = id
		}
	}
	return is, nil
}

// check validates coordinates and computes area and bounds. With oriented set,
// every face must keep a positive winding.
func (is *Island) check(oriented bool) error {
	for _, p := range is.UV {
		if !geom.IsFinite(p) {
			return ErrNotFinite
		}
	}
	is.Area = 0
	for i, f := range is.Faces {
		a := geom.SignedArea(is.CornerUV(i, 0), is.CornerUV(i, 1), is.CornerUV(i, 2))
		if oriented && a <= 0 {
			return fmt.Errorf("face %d: %w", f, ErrFlippedFace)
		}
		is.Area += math.Abs(a)
	}
	if !(is.Area > geom.Epsilon) {
		return ErrZeroArea
	}
	is.Box = geom.BoxOf(is.UV)
	return nil
}

func (is *Island) scale(s float64) {
	if s <= 0 || math.IsInf(s, 0) || math.IsNaN(s) {
		return
	}
	for i := range is.UV {
		is.UV[i] = is.UV[i].Mul(s)
	}
	is.Area *= s * s
	is.Box = geom.BoxOf(is.UV)
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// union links the larger root under the smaller so roots stay deterministic.
func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		uf.parent[rb] = ra
	} else {
		uf.parent[ra] = rb
	}
}
