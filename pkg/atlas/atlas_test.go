package atlas

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/geom"
)

func generate(t *testing.T, opts Options, decls ...mesh.Decl) *Result {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	res, err := Generate(context.Background(), decls, opts)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	return res
}

// checkMesh verifies indices, UV range and winding of a successfully placed mesh.
func checkMesh(t *testing.T, d mesh.Decl, mr MeshResult, layout Layout) {
	t.Helper()
	if len(mr.Indices) != len(d.Indices) {
		t.Fatalf("%s: %d indices, want %d", d.Name, len(mr.Indices), len(d.Indices))
	}
	for i, idx := range mr.Indices {
		if idx < 0 || idx >= len(mr.Vertices) {
			t.Fatalf("%s: index %d = %d out of range", d.Name, i, idx)
		}
		if got := mr.Vertices[idx].XRef; got != d.Indices[i] {
			t.Errorf("%s: corner %d xref = %d, want %d", d.Name, i, got, d.Indices[i])
		}
	}
	for i, v := range mr.Vertices {
		if !geom.IsFinite(v.UV) {
			t.Fatalf("%s: vertex %d uv %v not finite", d.Name, i, v.UV)
		}
		if v.Page < 0 {
			t.Errorf("%s: vertex %d not placed", d.Name, i)
			continue
		}
		u0, v0 := 0.0, 0.0
		switch layout {
		case LayoutSpreadX:
			u0 = float64(v.Page)
		case LayoutUDIM:
			u0, v0 = float64(v.Page%10), float64(v.Page/10)
		}
		if v.UV[0] < u0 || v.UV[0] > u0+1 || v.UV[1] < v0 || v.UV[1] > v0+1 {
			t.Errorf("%s: vertex %d uv %v outside page %d tile", d.Name, i, v.UV, v.Page)
		}
	}
	for f := 0; f < len(mr.Indices); f += 3 {
		a := mr.Vertices[mr.Indices[f]]
		b := mr.Vertices[mr.Indices[f+1]]
		c := mr.Vertices[mr.Indices[f+2]]
		if a.Chart != b.Chart || a.Chart != c.Chart || a.Page != b.Page || a.Page != c.Page {
			t.Errorf("%s: face %d spans charts or pages", d.Name, f/3)
			continue
		}
		if area := geom.SignedArea(a.UV, b.UV, c.UV); area <= 0 {
			t.Errorf("%s: face %d uv area %g, want positive", d.Name, f/3, area)
		}
	}
}

func TestGenerate_Cube(t *testing.T) {
	d := mesh.Cube("cube", mgl64.Vec3{}, 1)
	res := generate(t, DefaultOptions(), d)

	if res.Status != StatusOK {
		t.Errorf("Status = %v, want ok", res.Status)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if len(res.Pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(res.Pages))
	}
	if p := res.Pages[0]; p.Width != 256 || p.Height != 256 || p.Charts != 6 {
		t.Errorf("page = %+v, want 256x256 with 6 charts", p)
	}
	mr := res.Meshes[0]
	if mr.Charts != 6 {
		t.Errorf("charts = %d, want 6", mr.Charts)
	}
	// Four corners per side, shared within each planar chart.
	if len(mr.Vertices) != 24 {
		t.Errorf("vertices = %d, want 24", len(mr.Vertices))
	}
	checkMesh(t, d, mr, LayoutOverlap)
}

func TestGenerate_SingleTriangle(t *testing.T) {
	d := mesh.Triangle("tri", 1)
	for _, resolution := range []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 256, 4096} {
		t.Run(fmt.Sprintf("resolution %d", resolution), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Resolution = resolution
			res := generate(t, opts, d)
			if err := res.Err(); err != nil {
				t.Fatalf("Err() = %v", err)
			}
			if len(res.Pages) != 1 {
				t.Errorf("expected 1 page, got %d", len(res.Pages))
			}

			mr := res.Meshes[0]
			if len(mr.Vertices) != 3 || mr.Charts != 1 {
				t.Fatalf("got %d vertices and %d charts, want 3 and 1", len(mr.Vertices), mr.Charts)
			}
			checkMesh(t, d, mr, LayoutOverlap)
			for _, v := range mr.Vertices {
				if v.Page != 0 || v.Chart != 0 {
					t.Errorf("vertex %+v, want page 0 chart 0", v)
				}
			}
		})
	}
}

func TestGenerate_Empty(t *testing.T) {
	res := generate(t, DefaultOptions())
	if len(res.Meshes) != 0 || len(res.Pages) != 0 || res.Status != StatusOK {
		t.Errorf("result = %+v, want empty and ok", res)
	}
}

func TestGenerate_InvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Resolution = -1
	_, err := Generate(context.Background(), []mesh.Decl{mesh.Triangle("tri", 1)}, opts)
	if !errors.Is(err, ErrInvalidOption) {
		t.Errorf("Generate() error = %v, want ErrInvalidOption", err)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	decls := []mesh.Decl{
		mesh.Cube("a", mgl64.Vec3{}, 1),
		mesh.Grid("b", 6, 2, func(x, y float64) float64 { return 0.3 * x * y }),
		mesh.Cube("c", mgl64.Vec3{3, 0, 0}, 0.5),
	}
	for _, brute := range []bool{false, true} {
		opts := DefaultOptions()
		opts.BruteForce = brute
		first := generate(t, opts, decls...)
		second := generate(t, opts, decls...)
		if !reflect.DeepEqual(first.Meshes, second.Meshes) {
			t.Errorf("bruteForce=%v: meshes differ between runs", brute)
		}
		if !reflect.DeepEqual(first.Pages, second.Pages) {
			t.Errorf("bruteForce=%v: pages differ between runs", brute)
		}
	}
}

func TestGenerate_SharedAtlas(t *testing.T) {
	a := mesh.Cube("a", mgl64.Vec3{}, 1)
	b := mesh.Cube("b", mgl64.Vec3{5, 0, 0}, 1)
	res := generate(t, DefaultOptions(), a, b)

	if len(res.Pages) != 1 || res.Pages[0].Charts != 12 {
		t.Fatalf("pages = %+v, want one page with 12 charts", res.Pages)
	}
	checkMesh(t, a, res.Meshes[0], LayoutOverlap)
	checkMesh(t, b, res.Meshes[1], LayoutOverlap)

	// Chart boxes from both meshes keep the padding apart.
	type box struct{ min, max mgl64.Vec2 }
	var boxes []box
	for _, mr := range res.Meshes {
		per := map[int]*box{}
		for _, v := range mr.Vertices {
			uv := v.UV.Mul(256)
			b, ok := per[v.Chart]
			if !ok {
				per[v.Chart] = &box{uv, uv}
				continue
			}
			b.min = mgl64.Vec2{min(b.min[0], uv[0]), min(b.min[1], uv[1])}
			b.max = mgl64.Vec2{max(b.max[0], uv[0]), max(b.max[1], uv[1])}
		}
		for _, b := range per {
			boxes = append(boxes, *b)
		}
	}
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			p, q := boxes[i], boxes[j]
			gapX := max(q.min[0]-p.max[0], p.min[0]-q.max[0])
			gapY := max(q.min[1]-p.max[1], p.min[1]-q.max[1])
			if max(gapX, gapY) < 2 {
				t.Errorf("charts %d and %d are %g texels apart, want at least 2", i, j, max(gapX, gapY))
			}
		}
	}
}

func TestGenerate_NonManifold(t *testing.T) {
	// Three triangles on one edge.
	d := mesh.Decl{
		Name: "fin",
		Positions: []mgl64.Vec3{
			{0, 0, 0}, {1, 0, 0}, {0.5, 1, 0}, {0.5, -1, 0}, {0.5, 0, 1},
		},
		Indices: []int{0, 1, 2, 1, 0, 3, 0, 1, 4},
	}
	res := generate(t, DefaultOptions(), d)
	if err := res.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	checkMesh(t, d, res.Meshes[0], LayoutOverlap)
}

func TestGenerate_MalformedIsolated(t *testing.T) {
	good := mesh.Cube("good", mgl64.Vec3{}, 1)
	bad := mesh.Decl{
		Name:      "bad",
		Positions: []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Indices:   []int{0, 1, 7},
	}
	res := generate(t, DefaultOptions(), good, bad)

	if res.Status != StatusOK {
		t.Errorf("Status = %v, want ok", res.Status)
	}
	if err := res.Meshes[0].Err; err != nil {
		t.Errorf("good mesh error: %v", err)
	}
	checkMesh(t, good, res.Meshes[0], LayoutOverlap)

	err := res.Meshes[1].Err
	var malformed *MalformedMeshError
	if !errors.As(err, &malformed) || malformed.Mesh != "bad" {
		t.Fatalf("bad mesh error = %v, want MalformedMeshError", err)
	}
	if !errors.Is(err, mesh.ErrIndexOutOfRange) {
		t.Errorf("bad mesh error = %v, want ErrIndexOutOfRange cause", err)
	}
	if got := ErrorKind(err); got != KindMalformedMesh {
		t.Errorf("ErrorKind() = %s, want %s", got, KindMalformedMesh)
	}
	if len(res.Meshes[1].Vertices) != 0 {
		t.Errorf("bad mesh has %d vertices, want 0", len(res.Meshes[1].Vertices))
	}
	if res.Err() == nil {
		t.Error("Err() = nil, want the malformed mesh")
	}
}

func TestGenerate_PreCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := DefaultOptions()
	opts.BruteForce = true
	opts.Logger = zaptest.NewLogger(t)
	res, err := Generate(ctx, []mesh.Decl{mesh.Cube("a", mgl64.Vec3{}, 1), mesh.Triangle("b", 1)}, opts)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", res.Status)
	}
	if !errors.Is(res.Err(), ErrCancelled) {
		t.Errorf("Err() = %v, want ErrCancelled", res.Err())
	}
	for _, mr := range res.Meshes {
		for _, v := range mr.Vertices {
			if v.Page >= 0 {
				t.Errorf("%s: vertex placed after cancellation", mr.Name)
			}
		}
	}
}

func TestGenerate_Layouts(t *testing.T) {
	d := mesh.Cube("cube", mgl64.Vec3{}, 1)
	for _, layout := range []Layout{LayoutOverlap, LayoutSpreadX, LayoutUDIM} {
		t.Run(layout.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Resolution = 32
			opts.TexelsPerUnit = 60
			opts.Layout = layout
			res := generate(t, opts, d)

			if len(res.Pages) < 2 {
				t.Fatalf("pages = %d, want several", len(res.Pages))
			}
			checkMesh(t, d, res.Meshes[0], layout)
		})
	}
}

func TestGenerate_Overflow(t *testing.T) {
	d := mesh.Cube("cube", mgl64.Vec3{}, 1)
	opts := DefaultOptions()
	opts.Resolution = 32
	opts.TexelsPerUnit = 60
	opts.MaxPages = 1
	res := generate(t, opts, d)

	if len(res.Pages) != 1 {
		t.Errorf("pages = %d, want 1", len(res.Pages))
	}
	errs := multierr.Errors(res.Meshes[0].Err)
	if len(errs) == 0 {
		t.Fatal("no overflow reported")
	}
	overflowed := map[int]bool{}
	for _, err := range errs {
		var o *PackingOverflow
		if !errors.As(err, &o) {
			t.Errorf("error %v, want PackingOverflow", err)
			continue
		}
		if o.MaxPages != 1 {
			t.Errorf("MaxPages = %d, want 1", o.MaxPages)
		}
		overflowed[o.Chart] = true
	}
	for _, v := range res.Meshes[0].Vertices {
		if overflowed[v.Chart] && (v.Page != -1 || v.UV != (mgl64.Vec2{})) {
			t.Errorf("overflowed vertex %+v, want page -1 at the origin", v)
		}
		if !overflowed[v.Chart] && v.Page != 0 {
			t.Errorf("vertex %+v, want page 0", v)
		}
	}
}

func TestGenerate_PackOnly(t *testing.T) {
	grid := mesh.Grid("grid", 2, 1, nil)
	for _, p := range grid.Positions {
		grid.UVs = append(grid.UVs, mgl64.Vec2{p[0], p[1]})
	}

	opts := DefaultOptions()
	opts.PackOnly = true
	res := generate(t, opts, grid, mesh.Cube("cube", mgl64.Vec3{2, 0, 0}, 1))

	if got := res.Meshes[0].Charts; got != 1 {
		t.Errorf("grid charts = %d, want 1", got)
	}
	if got := len(res.Meshes[0].Vertices); got != 9 {
		t.Errorf("grid vertices = %d, want 9", got)
	}
	checkMesh(t, grid, res.Meshes[0], LayoutOverlap)

	// Without input UVs the mesh is charted normally.
	if got := res.Meshes[1].Charts; got != 6 {
		t.Errorf("cube charts = %d, want 6", got)
	}
}

func TestResult_Err(t *testing.T) {
	r := &Result{Meshes: []MeshResult{{Name: "a"}, {Name: "b"}}}
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	r.Status = StatusCancelled
	if err := r.Err(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Err() = %v, want ErrCancelled", err)
	}
	r.Meshes[1].Err = &PackingOverflow{Mesh: "b", Chart: 3, MaxPages: 1}
	errs := multierr.Errors(r.Err())
	if len(errs) != 2 {
		t.Errorf("Err() has %d errors, want 2", len(errs))
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"malformed", &MalformedMeshError{Mesh: "m", Err: mesh.ErrNoFaces}, KindMalformedMesh},
		{"degenerate", &DegenerateChartError{Mesh: "m", Err: errors.New("flipped")}, KindDegenerateChart},
		{"failure wraps degenerate", &ParameterizationFailure{Err: &DegenerateChartError{}}, KindParameterizationFailure},
		{"overflow", &PackingOverflow{}, KindPackingOverflow},
		{"cancelled", ErrCancelled, KindCancelled},
		{"option", fmt.Errorf("batch: %w", ErrInvalidOption), KindInvalidOption},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.want {
				t.Errorf("ErrorKind() = %s, want %s", got, tt.want)
			}
		})
	}
}
