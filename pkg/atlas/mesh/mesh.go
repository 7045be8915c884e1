// Package mesh normalizes triangle soups into immutable meshes with edge adjacency.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/uvatlas/pkg/geom"
)

// Mesh ingest errors.
var (
	ErrNoFaces         = errors.New("mesh has no faces")
	ErrIndexCount      = errors.New("index count is not a multiple of 3")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrDegenerateFace  = errors.New("degenerate face")
	ErrAttributeCount  = errors.New("attribute index count does not match index count")
)

// SharpCos is the face-normal cosine below which an edge of a mesh without
// input normals counts as a normal seam (a dihedral turn of more than 60 degrees).
const SharpCos = 0.5

// Decl describes a triangulated mesh as supplied by the caller.
type Decl struct {
	Name      string
	Positions []mgl64.Vec3
	Normals   []mgl64.Vec3 // Optional
	UVs       []mgl64.Vec2 // Optional

	Indices       []int // Position index per corner, 3 per face
	UVIndices     []int // Optional, parallel to Indices; defaults to Indices when UVs match Positions
	NormalIndices []int // Optional, parallel to Indices; defaults to Indices when Normals match Positions
	Materials     []int // Optional, one per face

	// Err is set by loaders that could not read the source object. Build
	// fails with it.
	Err error
}

// Face is a validated triangle.
type Face struct {
	V        [3]int // Position indices
	UV       [3]int // UV indices, -1 when the mesh has none
	N        [3]int // Normal indices, -1 when the mesh has none
	Material int
	Normal   mgl64.Vec3 // Unit geometric normal
	Area     float64
}

// EdgeFlag classifies a face edge.
type EdgeFlag uint8

const (
	EdgeBoundary    EdgeFlag = 1 << iota // No opposite face
	EdgeHardSeam                         // Shared by more than two faces or with inconsistent winding
	EdgeNormalSeam                       // Corner normals differ, or the edge is sharp when normals are absent
	EdgeTextureSeam                      // Corner UVs differ across the edge
)

// Mesh is the immutable ingest result. Edge k of face f runs from corner k to
// corner (k+1)%3 and is addressed as f*3+k.
type Mesh struct {
	Name      string
	Positions []mgl64.Vec3
	Normals   []mgl64.Vec3
	UVs       []mgl64.Vec2
	Faces     []Face

	// Colocal maps every position to the lowest index with the same coordinates.
	Colocal []int

	// Components lists connected face sets (across non-hard edges), ordered by lowest face.
	Components [][]int

	opposite []int
	flags    []EdgeFlag
	area     float64
}

// Stats summarizes mesh topology.
type Stats struct {
	Vertices         int
	Faces            int
	Components       int
	BoundaryEdges    int
	NonManifoldEdges int
	NormalSeams      int
	TextureSeams     int
	Area             float64
}

type edgeKey struct{ a, b int }

// Build validates decl and computes adjacency, seams and connected components.
func Build(decl Decl) (*Mesh, error) {
	if decl.Err != nil {
		return nil, decl.Err
	}
	if len(decl.Indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d indices", ErrIndexCount, len(decl.Indices))
	}
	faceCount := len(decl.Indices) / 3
	if faceCount == 0 {
		return nil, ErrNoFaces
	}

	uvIdx, err := attributeIndices(decl.UVIndices, decl.Indices, len(decl.UVs), len(decl.Positions))
	if err != nil {
		return nil, fmt.Errorf("uv indices: %w", err)
	}
	nIdx, err := attributeIndices(decl.NormalIndices, decl.Indices, len(decl.Normals), len(decl.Positions))
	if err != nil {
		return nil, fmt.Errorf("normal indices: %w", err)
	}
	if decl.Materials != nil && len(decl.Materials) != faceCount {
		return nil, fmt.Errorf("%w: %d materials for %d faces", ErrAttributeCount, len(decl.Materials), faceCount)
	}

	m := &Mesh{
		Name:      decl.Name,
		Positions: decl.Positions,
		Normals:   decl.Normals,
		UVs:       decl.UVs,
		Faces:     make([]Face, faceCount),
		opposite:  make([]int, faceCount*3),
		flags:     make([]EdgeFlag, faceCount*3),
	}

	for f := range faceCount {
		face := &m.Faces[f]
		for k := range 3 {
			c := f*3 + k
			v := decl.Indices[c]
			if v < 0 || v >= len(decl.Positions) {
				return nil, fmt.Errorf("face %d: %w: vertex %d (have %d)", f, ErrIndexOutOfRange, v, len(decl.Positions))
			}
			face.V[k] = v
			face.UV[k] = -1
			face.N[k] = -1
			if uvIdx != nil {
				if uvIdx[c] < 0 || uvIdx[c] >= len(decl.UVs) {
					return nil, fmt.Errorf("face %d: %w: uv %d (have %d)", f, ErrIndexOutOfRange, uvIdx[c], len(decl.UVs))
				}
				face.UV[k] = uvIdx[c]
			}
			if nIdx != nil {
				if nIdx[c] < 0 || nIdx[c] >= len(decl.Normals) {
					return nil, fmt.Errorf("face %d: %w: normal %d (have %d)", f, ErrIndexOutOfRange, nIdx[c], len(decl.Normals))
				}
				face.N[k] = nIdx[c]
			}
		}
		if decl.Materials != nil {
			face.Material = decl.Materials[f]
		}

		p0, p1, p2 := decl.Positions[face.V[0]], decl.Positions[face.V[1]], decl.Positions[face.V[2]]
		n := geom.TriangleNormal(p0, p1, p2)
		twiceArea := n.Len()
		e0, e1, e2 := p1.Sub(p0), p2.Sub(p1), p0.Sub(p2)
		longest := math.Max(e0.Dot(e0), math.Max(e1.Dot(e1), e2.Dot(e2)))
		if math.IsNaN(twiceArea) || math.IsInf(twiceArea, 0) || twiceArea <= geom.Epsilon*longest {
			return nil, fmt.Errorf("face %d: %w: zero area", f, ErrDegenerateFace)
		}
		face.Normal = n.Mul(1 / twiceArea)
		face.Area = twiceArea / 2
		m.area += face.Area
	}

	m.weld()
	m.link()
	m.components()
	return m, nil
}

// attributeIndices resolves optional per-corner attribute indices.
func attributeIndices(explicit, positions []int, attrCount, posCount int) ([]int, error) {
	if attrCount == 0 {
		return nil, nil
	}
	if explicit != nil {
		if len(explicit) != len(positions) {
			return nil, fmt.Errorf("%w: %d vs %d", ErrAttributeCount, len(explicit), len(positions))
		}
		return explicit, nil
	}
	if attrCount != posCount {
		return nil, fmt.Errorf("%w: %d attributes for %d positions without explicit indices", ErrAttributeCount, attrCount, posCount)
	}
	return positions, nil
}

// weld assigns every position the lowest index with identical coordinates.
func (m *Mesh) weld() {
	m.Colocal = make([]int, len(m.Positions))
	first := make(map[mgl64.Vec3]int, len(m.Positions))
	for i, p := range m.Positions {
		if j, ok := first[p]; ok {
			m.Colocal[i] = j
			continue
		}
		first[p] = i
		m.Colocal[i] = i
	}
}

// link pairs face edges and classifies seams.
func (m *Mesh) link() {
	edges := make(map[edgeKey][]int, len(m.Faces)*3/2)
	for f := range m.Faces {
		for k := range 3 {
			edges[m.edgeKey(f, k)] = append(edges[m.edgeKey(f, k)], f*3+k)
		}
	}

	for f := range m.Faces {
		for k := range 3 {
			e := f*3 + k
			m.opposite[e] = -1
			uses := edges[m.edgeKey(f, k)]
			switch {
			case len(uses) == 1:
				m.flags[e] |= EdgeBoundary
			case len(uses) == 2:
				other := uses[0]
				if other == e {
					other = uses[1]
				}
				a, b := m.edgeEnds(e)
				oa, ob := m.edgeEnds(other)
				if a != ob || b != oa {
					m.flags[e] |= EdgeHardSeam | EdgeBoundary
					continue
				}
				m.opposite[e] = other / 3
				if m.cornerUVsDiffer(e, other) {
					m.flags[e] |= EdgeTextureSeam
				}
				if m.cornerNormalsDiffer(e, other) {
					m.flags[e] |= EdgeNormalSeam
				}
			default:
				m.flags[e] |= EdgeHardSeam | EdgeBoundary
			}
		}
	}
}

// components groups faces connected through non-hard edges.
func (m *Mesh) components() {
	seen := make([]bool, len(m.Faces))
	for f := range m.Faces {
		if seen[f] {
			continue
		}
		var comp []int
		queue := []int{f}
		seen[f] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for k := range 3 {
				if o := m.opposite[cur*3+k]; o >= 0 && !seen[o] {
					seen[o] = true
					queue = append(queue, o)
				}
			}
		}
		m.Components = append(m.Components, comp)
	}
}

func (m *Mesh) edgeEnds(e int) (a, b int) {
	f, k := e/3, e%3
	return m.Colocal[m.Faces[f].V[k]], m.Colocal[m.Faces[f].V[(k+1)%3]]
}

func (m *Mesh) edgeKey(f, k int) edgeKey {
	a, b := m.edgeEnds(f*3 + k)
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// cornerUVsDiffer compares the UVs at both ends of two paired edges.
// Edge e runs a->b and edge o runs b->a.
func (m *Mesh) cornerUVsDiffer(e, o int) bool {
	if !m.HasUVs() {
		return false
	}
	ef, ek := e/3, e%3
	of, ok := o/3, o%3
	ea, eb := m.Faces[ef].UV[ek], m.Faces[ef].UV[(ek+1)%3]
	ob, oa := m.Faces[of].UV[ok], m.Faces[of].UV[(ok+1)%3]
	return !sameUV(m.UVs, ea, oa) || !sameUV(m.UVs, eb, ob)
}

func (m *Mesh) cornerNormalsDiffer(e, o int) bool {
	ef, ek := e/3, e%3
	of, ok := o/3, o%3
	if !m.HasNormals() {
		return m.Faces[ef].Normal.Dot(m.Faces[of].Normal) < SharpCos
	}
	ea, eb := m.Faces[ef].N[ek], m.Faces[ef].N[(ek+1)%3]
	ob, oa := m.Faces[of].N[ok], m.Faces[of].N[(ok+1)%3]
	return !sameNormal(m.Normals, ea, oa) || !sameNormal(m.Normals, eb, ob)
}

func sameUV(uvs []mgl64.Vec2, i, j int) bool {
	if i == j {
		return true
	}
	return uvs[i].ApproxEqualThreshold(uvs[j], 1e-9)
}

func sameNormal(ns []mgl64.Vec3, i, j int) bool {
	if i == j {
		return true
	}
	return geom.Normalize(ns[i]).Dot(geom.Normalize(ns[j])) > 1-1e-6
}

// HasUVs reports whether the mesh carries input texture coordinates.
func (m *Mesh) HasUVs() bool { return len(m.UVs) > 0 }

// HasNormals reports whether the mesh carries input vertex normals.
func (m *Mesh) HasNormals() bool { return len(m.Normals) > 0 }

// Area returns the total surface area.
func (m *Mesh) Area() float64 { return m.area }

// Opposite returns the face across edge k of face f, or -1 for boundaries and hard seams.
func (m *Mesh) Opposite(f, k int) int { return m.opposite[f*3+k] }

// Flags returns the classification of edge k of face f.
func (m *Mesh) Flags(f, k int) EdgeFlag { return m.flags[f*3+k] }

// IsSeam reports whether edge k of face f is any kind of seam or boundary.
func (m *Mesh) IsSeam(f, k int) bool { return m.flags[f*3+k] != 0 }

// Position returns the position of corner k of face f.
func (m *Mesh) Position(f, k int) mgl64.Vec3 {
	return m.Positions[m.Faces[f].V[k]]
}

// EdgeLength returns the length of edge k of face f.
func (m *Mesh) EdgeLength(f, k int) float64 {
	return m.Position(f, (k+1)%3).Sub(m.Position(f, k)).Len()
}

// CornerNormal returns the input normal at corner k of face f, falling back to the face normal.
func (m *Mesh) CornerNormal(f, k int) mgl64.Vec3 {
	if n := m.Faces[f].N[k]; n >= 0 {
		return geom.Normalize(m.Normals[n])
	}
	return m.Faces[f].Normal
}

// CornerUV returns the input UV at corner k of face f.
func (m *Mesh) CornerUV(f, k int) mgl64.Vec2 {
	if uv := m.Faces[f].UV[k]; uv >= 0 {
		return m.UVs[uv]
	}
	return mgl64.Vec2{}
}

// OppositeCorner returns the corner of face o that shares a position with corner k of face f,
// or -1 when none does.
func (m *Mesh) OppositeCorner(f, k, o int) int {
	v := m.Colocal[m.Faces[f].V[k]]
	for j := range 3 {
		if m.Colocal[m.Faces[o].V[j]] == v {
			return j
		}
	}
	return -1
}

// Stats counts topology features. Shared edges are counted once.
func (m *Mesh) Stats() Stats {
	s := Stats{
		Vertices:   len(m.Positions),
		Faces:      len(m.Faces),
		Components: len(m.Components),
		Area:       m.area,
	}
	nonManifold := make(map[edgeKey]struct{})
	for f := range m.Faces {
		for k := range 3 {
			fl := m.flags[f*3+k]
			o := m.opposite[f*3+k]
			switch {
			case fl&EdgeHardSeam != 0:
				nonManifold[m.edgeKey(f, k)] = struct{}{}
			case fl&EdgeBoundary != 0:
				s.BoundaryEdges++
			case o > f:
				if fl&EdgeNormalSeam != 0 {
					s.NormalSeams++
				}
				if fl&EdgeTextureSeam != 0 {
					s.TextureSeams++
				}
			}
		}
	}
	s.NonManifoldEdges = len(nonManifold)
	return s
}
