// Package chart partitions mesh faces into near-developable charts.
package chart

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/geom"
)

// minNormalDot is the cosine of the largest angle (75 degrees) a face normal
// may make with its chart's average normal.
const minNormalDot = 0.26

// hardNormalSeamWeight makes normal seams impassable.
const hardNormalSeamWeight = 1000

// Options controls chart growth. Zero limits mean unlimited.
type Options struct {
	MaxChartArea          float64
	MaxBoundaryLength     float64
	NormalDeviationWeight float64
	RoundnessWeight       float64
	StraightnessWeight    float64
	NormalSeamWeight      float64
	TextureSeamWeight     float64
	MaxCost               float64
	MaxIterations         int
}

// DefaultOptions returns the weights used by the Blender add-on.
func DefaultOptions() Options {
	return Options{
		NormalDeviationWeight: 2,
		RoundnessWeight:       0.01,
		StraightnessWeight:    6,
		NormalSeamWeight:      4,
		TextureSeamWeight:     0.5,
		MaxCost:               2,
		MaxIterations:         1,
	}
}

// Edge addresses edge Index of face Face.
type Edge struct {
	Face  int
	Index int
}

// Chart is a connected set of faces sharing one parameterization.
type Chart struct {
	ID             int
	Seed           int
	Faces          []int // Ascending once built
	Cost           float64
	Area           float64
	BoundaryLength float64
	AverageNormal  mgl64.Vec3
	Boundary       []Edge

	normalSum   mgl64.Vec3
	centroidSum mgl64.Vec3
	version     int
	dead        bool
}

// Centroid returns the area-weighted centroid of the chart's faces.
func (c *Chart) Centroid() mgl64.Vec3 {
	if c.Area == 0 {
		return mgl64.Vec3{}
	}
	return c.centroidSum.Mul(1 / c.Area)
}

// Build partitions every face of m into charts.
// Components are charted one after another and charts are numbered in order.
func Build(m *mesh.Mesh, opts Options) []*Chart {
	var charts []*Chart
	for _, comp := range m.Components {
		charts = append(charts, BuildFaces(m, comp, opts)...)
	}
	Renumber(charts)
	return charts
}

// BuildFaces partitions the given subset of m's faces into charts.
// Chart IDs are local to the returned slice.
func BuildFaces(m *mesh.Mesh, faces []int, opts Options) []*Chart {
	if len(faces) == 0 {
		return nil
	}
	b := newBuilder(m, faces, opts)
	return b.build()
}

// Renumber assigns consecutive IDs in slice order.
func Renumber(charts []*Chart) {
	for i, c := range charts {
		c.ID = i
	}
}

// FaceCharts returns, for every face of m, the index of the chart containing it or -1.
func FaceCharts(m *mesh.Mesh, charts []*Chart) []int {
	out := make([]int, len(m.Faces))
	for i := range out {
		out[i] = -1
	}
	for i, c := range charts {
		for _, f := range c.Faces {
			out[f] = i
		}
	}
	return out
}

// FromUVs builds charts from existing UV connectivity: faces are joined across
// every edge that is not a texture seam. Used when re-packing existing UVs.
func FromUVs(m *mesh.Mesh, faces []int) []*Chart {
	in := make(map[int]bool, len(faces))
	for _, f := range faces {
		in[f] = true
	}
	seen := make(map[int]bool, len(faces))
	var charts []*Chart
	for _, f := range faces {
		if seen[f] {
			continue
		}
		c := &Chart{ID: len(charts), Seed: f}
		queue := []int{f}
		seen[f] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			c.add(m, cur, 0, 0)
			for k := range 3 {
				o := m.Opposite(cur, k)
				if o < 0 || !in[o] || seen[o] || m.Flags(cur, k)&mesh.EdgeTextureSeam != 0 {
					continue
				}
				seen[o] = true
				queue = append(queue, o)
			}
		}
		charts = append(charts, c)
	}
	for _, c := range charts {
		c.freeze(m, func(f int) bool { return containsSorted(c.Faces, f) })
	}
	return charts
}

// add appends face f and updates the running metrics.
func (c *Chart) add(m *mesh.Mesh, f int, cost, boundary float64) {
	face := &m.Faces[f]
	c.Faces = append(c.Faces, f)
	c.Cost += cost
	c.Area += face.Area
	c.BoundaryLength = boundary
	c.normalSum = c.normalSum.Add(face.Normal.Mul(face.Area))
	if n := geom.Normalize(c.normalSum); n.Len() > 0 {
		c.AverageNormal = n
	} else if c.AverageNormal.Len() == 0 {
		c.AverageNormal = face.Normal
	}
	centroid := m.Position(f, 0).Add(m.Position(f, 1)).Add(m.Position(f, 2)).Mul(1.0 / 3)
	c.centroidSum = c.centroidSum.Add(centroid.Mul(face.Area))
	c.version++
}

// freeze sorts faces and records boundary edges and length.
func (c *Chart) freeze(m *mesh.Mesh, contains func(f int) bool) {
	sort.Ints(c.Faces)
	c.Boundary = c.Boundary[:0]
	c.BoundaryLength = 0
	for _, f := range c.Faces {
		for k := range 3 {
			o := m.Opposite(f, k)
			if o >= 0 && contains(o) {
				continue
			}
			c.Boundary = append(c.Boundary, Edge{Face: f, Index: k})
			c.BoundaryLength += m.EdgeLength(f, k)
		}
	}
}

func containsSorted(s []int, v int) bool {
	i := sort.SearchInts(s, v)
	return i < len(s) && s[i] == v
}

// Contains reports whether face f belongs to the chart. Valid after building.
func (c *Chart) Contains(f int) bool {
	return containsSorted(c.Faces, f)
}

func clampCost(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}
