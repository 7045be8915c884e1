package preview

import (
	"context"
	"image"
	"image/png"
	"os"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/uvatlas/pkg/atlas"
	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
)

func generate(t *testing.T, opts atlas.Options) *atlas.Result {
	t.Helper()
	res, err := atlas.Generate(context.Background(), []mesh.Decl{mesh.Cube("cube", mgl64.Vec3{}, 1)}, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return res
}

func covered(img *image.RGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) != background {
				n++
			}
		}
	}
	return n
}

func TestRender(t *testing.T) {
	res := generate(t, atlas.DefaultOptions())
	r := NewRenderer("", "atlas")
	r.Label = false
	imgs := r.Render(res, atlas.LayoutOverlap)
	if len(imgs) != 1 {
		t.Fatalf("expected 1 image, got %d", len(imgs))
	}
	if b := imgs[0].Bounds(); b.Dx() != 256 || b.Dy() != 256 {
		t.Errorf("image is %v, want 256x256", b)
	}
	// Utilization is island area over page area.
	frac := float64(covered(imgs[0])) / (256 * 256)
	if want := res.Pages[0].Utilization; frac < want*0.8 || frac > want*1.2 {
		t.Errorf("covered fraction %.3f, want about %.3f", frac, want)
	}
}

func TestRender_ScaleAndLayout(t *testing.T) {
	opts := atlas.DefaultOptions()
	opts.Resolution = 32
	opts.TexelsPerUnit = 60
	opts.Layout = atlas.LayoutSpreadX
	res := generate(t, opts)

	r := NewRenderer("", "atlas")
	r.Scale = 2
	r.Label = false
	imgs := r.Render(res, opts.Layout)
	if len(imgs) != len(res.Pages) || len(imgs) < 2 {
		t.Fatalf("got %d images for %d pages", len(imgs), len(res.Pages))
	}
	for i, img := range imgs {
		if img.Bounds().Dx() != 64 {
			t.Errorf("page %d width %d, want 64", i, img.Bounds().Dx())
		}
		if covered(img) == 0 {
			t.Errorf("page %d is empty", i)
		}
	}
}

func TestSave(t *testing.T) {
	res := generate(t, atlas.DefaultOptions())
	dir := t.TempDir()
	r := NewRenderer(dir, "cube")
	paths, err := r.Save(res, atlas.LayoutOverlap)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != r.Filename(0) {
		t.Fatalf("paths = %v, want [%s]", paths, r.Filename(0))
	}
	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("opening PNG: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decoding PNG: %v", err)
	}
	if cfg.Width != 256 || cfg.Height != 256 {
		t.Errorf("PNG is %dx%d, want 256x256", cfg.Width, cfg.Height)
	}
}

func TestChartColor(t *testing.T) {
	seen := map[[3]uint8]bool{}
	for c := range 12 {
		col := chartColor(0, c)
		seen[[3]uint8{col.R, col.G, col.B}] = true
		if col.A != 255 {
			t.Errorf("chart %d alpha %d", c, col.A)
		}
	}
	if len(seen) != 12 {
		t.Errorf("expected 12 distinct colors, got %d", len(seen))
	}
}
