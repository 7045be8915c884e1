package formats

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/Faultbox/uvatlas/pkg/atlas"
	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/encoding"
)

// OBJWriter writes unwrapped meshes as OBJ. Vertex indices keep counting
// across meshes, as in a single OBJ file.
type OBJWriter struct {
	w    *bufio.Writer
	base int
	err  error
}

// NewOBJWriter returns a writer buffering into w.
func NewOBJWriter(w io.Writer) *OBJWriter {
	return &OBJWriter{w: bufio.NewWriter(w)}
}

// Reset restarts vertex numbering at 1.
func (o *OBJWriter) Reset() { o.base = 0 }

// Printf writes one formatted line.
func (o *OBJWriter) Printf(format string, args ...any) {
	if o.err != nil {
		return
	}
	_, o.err = fmt.Fprintf(o.w, format+"\n", args...)
}

// Mesh writes an object header, then one "v" and "vt" pair per output vertex
// and one "f" line per face. A mesh without vertices only gets its header.
func (o *OBJWriter) Mesh(decl mesh.Decl, mr atlas.MeshResult) {
	name := encoding.Name(decl.Name)
	if name == "" {
		name = DefaultObjectName
	}
	o.Printf("o %s", name)
	o.Printf("s off")
	if o.err != nil || len(mr.Vertices) == 0 {
		return
	}
	buf := make([]byte, 0, 96)
	for _, v := range mr.Vertices {
		p := decl.Positions[v.XRef]
		buf = append(buf[:0], 'v')
		for _, x := range p {
			buf = append(buf, ' ')
			buf = strconv.AppendFloat(buf, x, 'g', -1, 64)
		}
		buf = append(buf, "\nvt "...)
		buf = strconv.AppendFloat(buf, v.UV[0], 'g', -1, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, v.UV[1], 'g', -1, 64)
		buf = append(buf, '\n')
		if _, o.err = o.w.Write(buf); o.err != nil {
			return
		}
	}
	for f := 0; f+2 < len(mr.Indices); f += 3 {
		a := o.base + mr.Indices[f] + 1
		b := o.base + mr.Indices[f+1] + 1
		c := o.base + mr.Indices[f+2] + 1
		o.Printf("f %d/%d %d/%d %d/%d", a, a, b, b, c, c)
	}
	o.base += len(mr.Vertices)
}

// Flush writes buffered output and returns the first error seen.
func (o *OBJWriter) Flush() error {
	if o.err != nil {
		return o.err
	}
	return o.w.Flush()
}

// WriteOBJ writes every mesh of res to w.
func WriteOBJ(w io.Writer, decls []mesh.Decl, res *atlas.Result) error {
	ow := NewOBJWriter(w)
	for i, mr := range res.Meshes {
		ow.Mesh(decls[i], mr)
	}
	return ow.Flush()
}
