package formats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/multierr"

	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/encoding"
)

// ErrOBJSyntax marks a line that could not be parsed.
var ErrOBJSyntax = errors.New("OBJ syntax error")

// DefaultObjectName names faces that appear before any "o" or "g" line.
const DefaultObjectName = "default"

// OBJ is a parsed OBJ subset. Attribute arrays are global to the file.
type OBJ struct {
	Positions []mgl64.Vec3
	UVs       []mgl64.Vec2
	Normals   []mgl64.Vec3
	Materials []string // "usemtl" names in order of first use
	Objects   []*OBJObject
}

// OBJObject is one "o" or "g" group with its triangulated faces.
type OBJObject struct {
	Name  string
	Faces []OBJFace
	Err   error // First syntax error seen while this object was current
}

// OBJFace is a triangle. Indices are zero based and -1 when absent.
type OBJFace struct {
	V, UV, N [3]int
	Material int // Index into OBJ.Materials, -1 before any usemtl
}

// OBJParser parses an OBJ stream one line at a time, so callers can interleave
// their own directives with the geometry.
type OBJParser struct {
	obj      OBJ
	cur      *OBJObject
	material int
	line     int
}

// NewOBJParser returns an empty parser.
func NewOBJParser() *OBJParser {
	return &OBJParser{material: -1}
}

// ParseOBJ parses a whole OBJ stream. Malformed lines do not fail the parse;
// they are recorded on the object they belong to, see OBJ.Err.
func ParseOBJ(r io.Reader) (*OBJ, error) {
	p := NewOBJParser()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		p.Line(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}
	return p.Finish(), nil
}

// Line parses one line. Unsupported statements are ignored. A malformed line
// marks the current object as failed and parsing continues, so one bad object
// never affects the others. Bad attribute lines still take their slot, as
// NaN, to keep later indices stable.
func (p *OBJParser) Line(text string) {
	p.line++
	if i := strings.IndexByte(text, '#'); i >= 0 {
		text = text[:i]
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	args := fields[1:]
	switch fields[0] {
	case "v":
		v := p.floats(args, 3)
		p.obj.Positions = append(p.obj.Positions, mgl64.Vec3{v[0], v[1], v[2]})
	case "vt":
		v := p.floats(args, 2)
		p.obj.UVs = append(p.obj.UVs, mgl64.Vec2{v[0], v[1]})
	case "vn":
		v := p.floats(args, 3)
		p.obj.Normals = append(p.obj.Normals, mgl64.Vec3{v[0], v[1], v[2]})
	case "o", "g":
		name := encoding.Name(strings.Join(args, " "))
		if name == "" {
			name = DefaultObjectName
		}
		p.cur = &OBJObject{Name: name}
		p.obj.Objects = append(p.obj.Objects, p.cur)
	case "usemtl":
		p.material = p.materialIndex(encoding.Name(strings.Join(args, " ")))
	case "f":
		if err := p.face(args); err != nil {
			p.fail(err)
		}
	}
}

// Finish returns the parsed file, dropping groups with neither faces nor an error.
func (p *OBJParser) Finish() *OBJ {
	obj := p.obj
	obj.Objects = nil
	for _, o := range p.obj.Objects {
		if len(o.Faces) > 0 || o.Err != nil {
			obj.Objects = append(obj.Objects, o)
		}
	}
	return &obj
}

// object returns the current object, starting the default one if needed.
func (p *OBJParser) object() *OBJObject {
	if p.cur == nil {
		p.cur = &OBJObject{Name: DefaultObjectName}
		p.obj.Objects = append(p.obj.Objects, p.cur)
	}
	return p.cur
}

func (p *OBJParser) fail(err error) {
	if o := p.object(); o.Err == nil {
		o.Err = err
	}
}

func (p *OBJParser) errorf(base error, format string, args ...any) error {
	return fmt.Errorf("line %d: %w: %s", p.line, base, fmt.Sprintf(format, args...))
}

// floats parses n numbers. On error it fails the current object and
// returns NaNs.
func (p *OBJParser) floats(args []string, n int) []float64 {
	out := make([]float64, n)
	if len(args) < n {
		p.fail(p.errorf(ErrOBJSyntax, "want %d values, got %d", n, len(args)))
		return nans(out)
	}
	for i := range out {
		f, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			p.fail(p.errorf(ErrOBJSyntax, "bad number %q", args[i]))
			return nans(out)
		}
		out[i] = f
	}
	return out
}

func nans(v []float64) []float64 {
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}

func (p *OBJParser) materialIndex(name string) int {
	for i, m := range p.obj.Materials {
		if m == name {
			return i
		}
	}
	p.obj.Materials = append(p.obj.Materials, name)
	return len(p.obj.Materials) - 1
}

// face parses a polygon and fan-triangulates it.
func (p *OBJParser) face(args []string) error {
	if len(args) < 3 {
		return p.errorf(ErrOBJSyntax, "face with %d vertices", len(args))
	}
	type corner struct{ v, uv, n int }
	corners := make([]corner, len(args))
	for i, a := range args {
		parts := strings.Split(a, "/")
		if len(parts) > 3 || parts[0] == "" {
			return p.errorf(ErrOBJSyntax, "bad face vertex %q", a)
		}
		c := corner{uv: -1, n: -1}
		var err error
		if c.v, err = p.index(parts[0], len(p.obj.Positions)); err != nil {
			return err
		}
		if len(parts) > 1 && parts[1] != "" {
			if c.uv, err = p.index(parts[1], len(p.obj.UVs)); err != nil {
				return err
			}
		}
		if len(parts) > 2 && parts[2] != "" {
			if c.n, err = p.index(parts[2], len(p.obj.Normals)); err != nil {
				return err
			}
		}
		corners[i] = c
	}

	cur := p.object()
	for i := 1; i+1 < len(corners); i++ {
		a, b, c := corners[0], corners[i], corners[i+1]
		cur.Faces = append(cur.Faces, OBJFace{
			V:        [3]int{a.v, b.v, c.v},
			UV:       [3]int{a.uv, b.uv, c.uv},
			N:        [3]int{a.n, b.n, c.n},
			Material: p.material,
		})
	}
	return nil
}

// index resolves a one-based or negative (relative) OBJ index. Zero and
// relative indices before the first element resolve to -1, which mesh.Build
// rejects for the owning object.
func (p *OBJParser) index(s string, count int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, p.errorf(ErrOBJSyntax, "bad index %q", s)
	}
	switch {
	case i > 0:
		return i - 1, nil
	case i < 0 && count+i >= 0:
		return count + i, nil
	default:
		return -1, nil
	}
}

// Err combines the errors of every object.
func (o *OBJ) Err() error {
	var err error
	for _, obj := range o.Objects {
		if obj.Err != nil {
			err = multierr.Append(err, fmt.Errorf("object %q: %w", obj.Name, obj.Err))
		}
	}
	return err
}

// Decls converts every object into a mesh declaration with its own compacted
// attribute arrays. Indices that reference missing elements become -1, which
// mesh.Build rejects for that object alone. UVs and normals are kept only when
// every corner of the object has them.
func (o *OBJ) Decls() []mesh.Decl {
	decls := make([]mesh.Decl, len(o.Objects))
	for i, obj := range o.Objects {
		decls[i] = o.decl(obj)
	}
	return decls
}

func (o *OBJ) decl(obj *OBJObject) mesh.Decl {
	d := mesh.Decl{Name: obj.Name, Err: obj.Err}
	hasUV, hasN, hasMat := true, true, false
	for _, f := range obj.Faces {
		for k := range 3 {
			hasUV = hasUV && f.UV[k] >= 0
			hasN = hasN && f.N[k] >= 0
		}
		hasMat = hasMat || f.Material >= 0
	}

	pos := newRemap(len(o.Positions))
	uv := newRemap(len(o.UVs))
	nrm := newRemap(len(o.Normals))
	for _, f := range obj.Faces {
		for k := range 3 {
			d.Indices = append(d.Indices, pos.local(f.V[k]))
			if hasUV {
				d.UVIndices = append(d.UVIndices, uv.local(f.UV[k]))
			}
			if hasN {
				d.NormalIndices = append(d.NormalIndices, nrm.local(f.N[k]))
			}
		}
		if hasMat {
			d.Materials = append(d.Materials, f.Material)
		}
	}
	for _, g := range pos.order {
		d.Positions = append(d.Positions, o.Positions[g])
	}
	for _, g := range uv.order {
		d.UVs = append(d.UVs, o.UVs[g])
	}
	for _, g := range nrm.order {
		d.Normals = append(d.Normals, o.Normals[g])
	}
	return d
}

// remap assigns local indices to global ones in order of first use.
type remap struct {
	n     int
	ids   map[int]int
	order []int
}

func newRemap(n int) *remap {
	return &remap{n: n, ids: make(map[int]int)}
}

func (r *remap) local(g int) int {
	if g < 0 || g >= r.n {
		return -1
	}
	if id, ok := r.ids[g]; ok {
		return id
	}
	id := len(r.order)
	r.ids[g] = id
	r.order = append(r.order, g)
	return id
}
