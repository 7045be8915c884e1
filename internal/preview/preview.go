// Package preview renders atlas pages to PNG for inspection.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/Faultbox/uvatlas/pkg/atlas"
)

var (
	background = color.RGBA{24, 24, 28, 255}
	labelColor = color.RGBA{255, 255, 255, 255}
)

// Renderer draws every chart of a result in its own color.
type Renderer struct {
	outputDir string
	prefix    string

	// Scale multiplies the page size in pixels.
	Scale int
	// Label draws the page number and utilization in the top-left corner.
	Label bool
}

// NewRenderer creates a renderer writing <prefix>_page<N>.png into outputDir.
func NewRenderer(outputDir, prefix string) *Renderer {
	return &Renderer{
		outputDir: outputDir,
		prefix:    prefix,
		Scale:     1,
		Label:     true,
	}
}

// Render returns one image per page. Image rows run top to bottom while v runs
// bottom to top.
func (r *Renderer) Render(res *atlas.Result, layout atlas.Layout) []*image.RGBA {
	scale := max(r.Scale, 1)
	imgs := make([]*image.RGBA, len(res.Pages))
	for i, p := range res.Pages {
		img := image.NewRGBA(image.Rect(0, 0, p.Width*scale, p.Height*scale))
		draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
		imgs[i] = img
	}

	for mi, mr := range res.Meshes {
		for f := 0; f+2 < len(mr.Indices); f += 3 {
			a, b, c := mr.Vertices[mr.Indices[f]], mr.Vertices[mr.Indices[f+1]], mr.Vertices[mr.Indices[f+2]]
			if a.Page < 0 || a.Page >= len(imgs) {
				continue
			}
			img := imgs[a.Page]
			w, h := float32(img.Bounds().Dx()), float32(img.Bounds().Dy())
			off := layout.Offset(a.Page)
			rz := vector.NewRasterizer(img.Bounds().Dx(), img.Bounds().Dy())
			for k, v := range []atlas.Vertex{a, b, c} {
				x := float32(v.UV[0]-off[0]) * w
				y := (1 - float32(v.UV[1]-off[1])) * h
				if k == 0 {
					rz.MoveTo(x, y)
				} else {
					rz.LineTo(x, y)
				}
			}
			rz.ClosePath()
			rz.Draw(img, img.Bounds(), image.NewUniform(chartColor(mi, a.Chart)), image.Point{})
		}
	}

	if r.Label {
		for i, img := range imgs {
			p := res.Pages[i]
			label(img, fmt.Sprintf("page %d  %d charts  %.0f%%", i, p.Charts, p.Utilization*100))
		}
	}
	return imgs
}

// Save renders the pages and writes them as PNG files, returning their paths.
func (r *Renderer) Save(res *atlas.Result, layout atlas.Layout) ([]string, error) {
	if r.outputDir != "" {
		if err := os.MkdirAll(r.outputDir, 0755); err != nil {
			return nil, fmt.Errorf("creating output dir: %w", err)
		}
	}
	var paths []string
	for i, img := range r.Render(res, layout) {
		path := r.Filename(i)
		if err := writePNG(path, img); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Filename returns the output path of page i.
func (r *Renderer) Filename(i int) string {
	name := fmt.Sprintf("%s_page%d.png", r.prefix, i)
	if r.outputDir != "" {
		name = filepath.Join(r.outputDir, name)
	}
	return name
}

func writePNG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return file.Close()
}

// chartColor spreads hues with the golden angle so neighbouring charts differ.
func chartColor(mesh, chart int) color.RGBA {
	hue := float64((mesh*7919+chart)%360) * 137.508
	return hsv(hue, 0.55, 0.95)
}

func hsv(h, s, v float64) color.RGBA {
	h = math.Mod(h, 360)
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return color.RGBA{uint8((r + m) * 255), uint8((g + m) * 255), uint8((b + m) * 255), 255}
}

func label(img *image.RGBA, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(2, 11),
	}
	d.DrawString(text)
}
