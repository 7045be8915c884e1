package formats

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/uvatlas/pkg/atlas"
	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/geom"
)

func TestParseOBJ_Polygons(t *testing.T) {
	src := `
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
v 0.5 2 0 # apex
f 1 2 3 4
f 4 3 5
`
	obj, err := ParseOBJ(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseOBJ failed: %v", err)
	}
	if len(obj.Objects) != 1 || obj.Objects[0].Name != DefaultObjectName {
		t.Fatalf("objects = %+v, want one default object", obj.Objects)
	}
	faces := obj.Objects[0].Faces
	want := [][3]int{{0, 1, 2}, {0, 2, 3}, {3, 2, 4}}
	if len(faces) != len(want) {
		t.Fatalf("expected %d faces, got %d", len(want), len(faces))
	}
	for i, f := range faces {
		if f.V != want[i] {
			t.Errorf("face %d = %v, want %v", i, f.V, want[i])
		}
		if f.UV != [3]int{-1, -1, -1} || f.N != [3]int{-1, -1, -1} || f.Material != -1 {
			t.Errorf("face %d has attributes: %+v", i, f)
		}
	}
}

func TestParseOBJ_Attributes(t *testing.T) {
	src := `
v 0 0 0
v 1 0 0
v 0 1 0
vt 0 0
vt 1 0
vt 0 1
vn 0 0 1
usemtl red
f 1/1/1 2/2/1 3/3/1
usemtl blue
f 1//1 2//1 3//1
usemtl red
f -3/-3 -2/-2 -1/-1
`
	obj, err := ParseOBJ(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseOBJ failed: %v", err)
	}
	if len(obj.Materials) != 2 || obj.Materials[0] != "red" || obj.Materials[1] != "blue" {
		t.Errorf("materials = %v, want [red blue]", obj.Materials)
	}
	faces := obj.Objects[0].Faces
	tests := []struct {
		uv, n    [3]int
		material int
	}{
		{[3]int{0, 1, 2}, [3]int{0, 0, 0}, 0},
		{[3]int{-1, -1, -1}, [3]int{0, 0, 0}, 1},
		{[3]int{0, 1, 2}, [3]int{-1, -1, -1}, 0},
	}
	for i, tt := range tests {
		f := faces[i]
		if f.UV != tt.uv || f.N != tt.n || f.Material != tt.material {
			t.Errorf("face %d = %+v, want uv %v n %v material %d", i, f, tt.uv, tt.n, tt.material)
		}
	}
}

func TestParseOBJ_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"bad number", "v 0 x 0\nv 1 0 0\nv 0 1 0\nf 1 2 3", ErrOBJSyntax},
		{"short vertex", "v 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3", ErrOBJSyntax},
		{"short face", "v 0 0 0\nf 1 1", ErrOBJSyntax},
		{"bad index", "v 0 0 0\nf a b c", ErrOBJSyntax},
		{"too many slashes", "v 0 0 0\nf 1/1/1/1 1 1", ErrOBJSyntax},
		{"zero index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2", mesh.ErrIndexOutOfRange},
		{"relative before start", "v 0 0 0\nv 1 0 0\nf -3 -2 -1", mesh.ErrIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ParseOBJ(strings.NewReader(tt.src))
			if err != nil {
				t.Fatalf("ParseOBJ() error = %v, want errors kept per object", err)
			}
			if len(obj.Objects) != 1 {
				t.Fatalf("expected the failed object to be kept, got %d objects", len(obj.Objects))
			}
			_, err = mesh.Build(obj.Decls()[0])
			if !errors.Is(err, tt.want) {
				t.Errorf("mesh.Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseOBJ_ErrorsIsolated(t *testing.T) {
	src := `o good
v 0 0 0
v 1 0 0
v 0 1 0
f 1 2 3
o broken
v 0 nope 0
v 1 0 0
v 0 1 0
f 4 5 6
f 0 5 6
o after
v 0 0 1
v 1 0 1
v 0 1 1
f -3 -2 -1
`
	obj, err := ParseOBJ(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseOBJ failed: %v", err)
	}
	if len(obj.Objects) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(obj.Objects))
	}
	if obj.Objects[0].Err != nil || obj.Objects[2].Err != nil {
		t.Errorf("healthy objects carry errors: %v, %v", obj.Objects[0].Err, obj.Objects[2].Err)
	}
	if !errors.Is(obj.Objects[1].Err, ErrOBJSyntax) {
		t.Errorf("broken object error = %v, want ErrOBJSyntax", obj.Objects[1].Err)
	}
	if !errors.Is(obj.Err(), ErrOBJSyntax) {
		t.Errorf("OBJ.Err() = %v, want ErrOBJSyntax", obj.Err())
	}
	// The bad vertex keeps its slot, so the next object still resolves.
	if len(obj.Positions) != 9 {
		t.Errorf("expected 9 positions, got %d", len(obj.Positions))
	}

	decls := obj.Decls()
	for _, i := range []int{0, 2} {
		if _, err := mesh.Build(decls[i]); err != nil {
			t.Errorf("object %q: mesh.Build() error = %v", decls[i].Name, err)
		}
	}
	if _, err := mesh.Build(decls[1]); !errors.Is(err, ErrOBJSyntax) {
		t.Errorf("broken object: mesh.Build() error = %v, want ErrOBJSyntax", err)
	}
}

func TestParseOBJFile_Cube(t *testing.T) {
	obj, err := ParseOBJFile("testdata/cube.obj")
	if err != nil {
		t.Fatalf("ParseOBJFile failed: %v", err)
	}
	if len(obj.Objects) != 1 || obj.Objects[0].Name != "Cube" {
		t.Fatalf("objects = %v, want [Cube]", obj.Objects)
	}
	decls := obj.Decls()
	d := decls[0]
	if len(d.Indices) != 36 || len(d.Positions) != 8 || len(d.UVs) != 4 || len(d.Normals) != 6 {
		t.Errorf("decl has %d indices, %d positions, %d uvs, %d normals",
			len(d.Indices), len(d.Positions), len(d.UVs), len(d.Normals))
	}
	if len(d.Materials) != 12 {
		t.Errorf("expected 12 material tags, got %d", len(d.Materials))
	}
	m, err := mesh.Build(d)
	if err != nil {
		t.Fatalf("mesh.Build failed: %v", err)
	}
	if s := m.Stats(); s.Components != 1 || s.BoundaryEdges != 0 {
		t.Errorf("stats = %+v, want a closed single component", s)
	}
}

func TestParseOBJFile_Missing(t *testing.T) {
	if _, err := ParseOBJFile("testdata/missing.obj"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseOBJ_LegacyNames(t *testing.T) {
	src := "v 0 0 0\nv 1 0 0\nv 0 1 0\no \xc7\xd1\xb1\xdb\nusemtl caf\xe9\nf 1 2 3\n"
	obj, err := ParseOBJ(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseOBJ failed: %v", err)
	}
	if len(obj.Objects) != 1 || obj.Objects[0].Name != "한글" {
		t.Errorf("objects = %+v, want one object named 한글", obj.Objects)
	}
	if len(obj.Materials) != 1 || obj.Materials[0] != "café" {
		t.Errorf("materials = %q, want [café]", obj.Materials)
	}
}

func TestOBJ_Decls(t *testing.T) {
	obj, err := ParseOBJFile("testdata/two_objects.obj")
	if err != nil {
		t.Fatalf("ParseOBJFile failed: %v", err)
	}
	decls := obj.Decls()
	if len(decls) != 2 {
		t.Fatalf("expected 2 decls (empty group dropped), got %d", len(decls))
	}
	second := decls[1]
	if second.Name != "second" {
		t.Errorf("name = %q, want second", second.Name)
	}
	if len(second.Positions) != 4 || second.Positions[0] != (mgl64.Vec3{5, 0, 0}) {
		t.Errorf("positions = %v, want the four local vertices", second.Positions)
	}
	want := []int{0, 1, 2, 0, 2, 3}
	for i, idx := range second.Indices {
		if idx != want[i] {
			t.Errorf("indices = %v, want %v", second.Indices, want)
			break
		}
	}
}

func TestOBJ_DeclsMixedAttributes(t *testing.T) {
	src := `
v 0 0 0
v 1 0 0
v 0 1 0
v 1 1 0
vt 0 0
f 1/1 2/1 3/1
f 2 4 3
`
	obj, err := ParseOBJ(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseOBJ failed: %v", err)
	}
	d := obj.Decls()[0]
	if d.UVs != nil || d.UVIndices != nil {
		t.Errorf("expected UVs dropped when some corners lack them, got %v", d.UVs)
	}
}

func TestOBJ_DeclsForwardReference(t *testing.T) {
	obj, err := ParseOBJ(strings.NewReader("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n"))
	if err != nil {
		t.Fatalf("ParseOBJ failed: %v", err)
	}
	_, err = mesh.Build(obj.Decls()[0])
	if !errors.Is(err, mesh.ErrIndexOutOfRange) {
		t.Errorf("mesh.Build error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestWriteOBJ_RoundTrip(t *testing.T) {
	obj, err := ParseOBJFile("testdata/two_objects.obj")
	if err != nil {
		t.Fatalf("ParseOBJFile failed: %v", err)
	}
	decls := obj.Decls()
	res, err := atlas.Generate(context.Background(), decls, atlas.DefaultOptions())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteOBJ(&buf, decls, res); err != nil {
		t.Fatalf("WriteOBJ failed: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "o first\ns off\nv ") {
		t.Errorf("unexpected header:\n%s", out)
	}

	back, err := ParseOBJ(strings.NewReader(out))
	if err != nil {
		t.Fatalf("re-parsing output failed: %v", err)
	}
	if len(back.Objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(back.Objects))
	}
	for i, o := range back.Objects {
		d := decls[i]
		if len(o.Faces)*3 != len(d.Indices) {
			t.Fatalf("%s: %d faces, want %d", d.Name, len(o.Faces), len(d.Indices)/3)
		}
		for f, face := range o.Faces {
			var uv [3]mgl64.Vec2
			for k := range 3 {
				if face.V[k] != face.UV[k] {
					t.Errorf("%s: face %d corner %d: v %d != vt %d", d.Name, f, k, face.V[k], face.UV[k])
				}
				if got, want := back.Positions[face.V[k]], d.Positions[d.Indices[f*3+k]]; got != want {
					t.Errorf("%s: face %d corner %d position %v, want %v", d.Name, f, k, got, want)
				}
				uv[k] = back.UVs[face.UV[k]]
				if uv[k][0] < 0 || uv[k][0] > 1 || uv[k][1] < 0 || uv[k][1] > 1 {
					t.Errorf("%s: uv %v outside [0,1]", d.Name, uv[k])
				}
			}
			if geom.SignedArea(uv[0], uv[1], uv[2]) <= 0 {
				t.Errorf("%s: face %d winding flipped", d.Name, f)
			}
		}
	}
}

func TestOBJWriter_FailedMesh(t *testing.T) {
	var buf bytes.Buffer
	w := NewOBJWriter(&buf)
	w.Mesh(mesh.Decl{Name: "broken"}, atlas.MeshResult{Name: "broken", Err: errors.New("bad")})
	w.Printf("# error %s", "Internal")
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got, want := buf.String(), "o broken\ns off\n# error Internal\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
