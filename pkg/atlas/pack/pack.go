// Package pack places parameterized islands onto atlas pages.
package pack

import (
	"context"
	"math"
	"runtime"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/uvatlas/pkg/atlas/param"
)

const (
	// adaptiveSize is the page edge the density is sized for when neither
	// a resolution nor a density is given.
	adaptiveSize = 1024

	// Density estimation shrinks the scale while the atlas spills.
	shrinkFactor = 0.9
	maxShrinks   = 10

	blockSize = 4
)

// Options controls placement.
type Options struct {
	Resolution    int     // Page edge in texels, 0 for a single adaptive page
	TexelsPerUnit float64 // 0 estimates a density
	Padding       int
	Bilinear      bool
	// BlockAlign snaps footprint origins to 4 texels. The padding sits inside
	// the footprint, so the island itself starts at the origin plus padding.
	BlockAlign    bool
	BruteForce    bool
	TightShapes   bool
	MaxChartSize  int // 0 means unlimited
	MaxPages      int // 0 means unlimited
	Workers       int // 0 means GOMAXPROCS
}

// Item is an island to place, identified by its mesh and chart.
type Item struct {
	Mesh   int
	Chart  int
	Island *param.Island
}

// Placement is where an item ended up.
type Placement struct {
	Page     int // -1 when not placed
	X, Y     int // Footprint origin in page texels
	Rotation int // Quarter turns applied after the min-area rotation
	Scale    float64
	Overflow bool // Not placed because MaxPages was reached or the island cannot fit a page

	transform mgl64.Mat3
}

// Placed reports whether the item was assigned to a page.
func (p Placement) Placed() bool { return p.Page >= 0 }

// Apply maps an island coordinate to page texels.
func (p Placement) Apply(uv mgl64.Vec2) mgl64.Vec2 {
	return apply(p.transform, uv)
}

// Page is one atlas page.
type Page struct {
	Width       int
	Height      int
	Charts      int
	Utilization float64 // Island area over page area
	Coverage    float64 // Reserved texels, padding included, over page area

	grid         *bitGrid
	area         float64
	usedW, usedH int
}

// Occupied reports whether texel (x, y) is reserved by a footprint.
func (p *Page) Occupied(x, y int) bool { return p.grid.get(x, y) }

// Result is the outcome of a packing run.
type Result struct {
	Placements    []Placement // Parallel to the input items
	Pages         []*Page
	TexelsPerUnit float64
	Attempts      int
}

// Placed returns the number of placed items.
func (r *Result) Placed() int {
	n := 0
	for _, p := range r.Placements {
		if p.Placed() {
			n++
		}
	}
	return n
}

// Overflowed returns the indices of items rejected for lack of pages.
func (r *Result) Overflowed() []int {
	var out []int
	for i, p := range r.Placements {
		if p.Overflow {
			out = append(out, i)
		}
	}
	return out
}

func (r *Result) spilled() bool {
	return len(r.Pages) > 1 || len(r.Overflowed()) > 0
}

type packer struct {
	opts  Options
	items []Item
	preps []prepared
	log   *zap.Logger
}

// Pack places every item. Placement is single threaded and deterministic.
// On cancellation it returns the partial result together with the context error.
func Pack(ctx context.Context, items []Item, opts Options, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &packer{opts: opts, items: items, preps: make([]prepared, len(items)), log: log}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(opts.Workers))
	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p.preps[i] = prepare(items[i].Island)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return p.empty(0), err
	}

	tpu := p.initialDensity()
	res, err := p.run(ctx, tpu)
	res.Attempts = 1
	for p.estimating() && err == nil && res.spilled() && res.Attempts <= maxShrinks {
		tpu *= shrinkFactor
		attempts := res.Attempts
		res, err = p.run(ctx, tpu)
		res.Attempts = attempts + 1
	}

	if ferr := p.finalize(ctx, res); ferr != nil && err == nil {
		err = ferr
	}
	log.Debug("packed islands",
		zap.Int("islands", len(items)),
		zap.Int("placed", res.Placed()),
		zap.Int("pages", len(res.Pages)),
		zap.Float64("texelsPerUnit", res.TexelsPerUnit),
		zap.Int("attempts", res.Attempts))
	return res, err
}

func workerCount(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

func (p *packer) empty(tpu float64) *Result {
	res := &Result{Placements: make([]Placement, len(p.items)), TexelsPerUnit: tpu}
	for i := range res.Placements {
		res.Placements[i].Page = -1
	}
	return res
}

func (p *packer) estimating() bool {
	return p.opts.TexelsPerUnit <= 0 && p.opts.Resolution > 0
}

func (p *packer) adaptive() bool {
	return p.opts.Resolution <= 0
}

// padding returns the texels reserved around each island. On fixed pages it
// shrinks until a one-texel island fits an empty page.
func (p *packer) padding() int {
	pad := p.opts.Padding
	if p.opts.Bilinear {
		pad++
	}
	if !p.adaptive() {
		room := p.opts.Resolution - 1
		if p.blockAlign() {
			room -= blockSize - 1
		}
		pad = min(pad, max(room, 0)/2)
	}
	return pad
}

// blockAlign reports whether anchors snap to blocks. Pages smaller than a
// block cannot hold an aligned footprint, so alignment is off there.
func (p *packer) blockAlign() bool {
	return p.opts.BlockAlign && (p.adaptive() || p.opts.Resolution >= blockSize)
}

// initialDensity returns the starting texels per unit.
func (p *packer) initialDensity() float64 {
	switch {
	case p.opts.TexelsPerUnit > 0:
		return p.opts.TexelsPerUnit
	case p.opts.Resolution > 0:
		var boxArea float64
		for _, pr := range p.preps {
			boxArea += pr.w * pr.h
		}
		if boxArea <= 0 {
			return 1
		}
		return float64(p.opts.Resolution) / math.Sqrt(boxArea)
	default:
		var area float64
		for _, it := range p.items {
			area += it.Island.Area
		}
		if area <= 0 {
			return 1
		}
		return adaptiveSize / math.Sqrt(area)
	}
}

// scale returns the density for item i after the chart size and page limits.
func (p *packer) scale(i int, tpu float64) float64 {
	pr := &p.preps[i]
	s := tpu
	extent := math.Max(pr.w, pr.h)
	if extent <= 0 {
		return s
	}
	if limit := float64(p.opts.MaxChartSize); limit > 0 && extent*s > limit {
		s = limit / extent
	}
	if !p.adaptive() {
		limit := p.opts.Resolution - 2*p.padding()
		if p.blockAlign() {
			limit -= blockSize - 1
		}
		limit = max(limit, 1)
		if extent*s > float64(limit) {
			s = float64(limit) / extent * (1 - 1e-9)
		}
	}
	return s
}

// run performs one placement pass at density tpu.
func (p *packer) run(ctx context.Context, tpu float64) (*Result, error) {
	res := p.empty(tpu)
	scales := make([]float64, len(p.items))
	for i := range p.items {
		scales[i] = p.scale(i, tpu)
	}

	order := make([]int, len(p.items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		aa := p.preps[ia].w * p.preps[ia].h * scales[ia] * scales[ia]
		ab := p.preps[ib].w * p.preps[ib].h * scales[ib] * scales[ib]
		if aa != ab {
			return aa > ab
		}
		if p.items[ia].Mesh != p.items[ib].Mesh {
			return p.items[ia].Mesh < p.items[ib].Mesh
		}
		return p.items[ia].Chart < p.items[ib].Chart
	})

	var page *Page
	if p.adaptive() {
		page = p.newAdaptivePage(scales)
		res.Pages = append(res.Pages, page)
	}

	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cands := p.footprints(i, scales[i])
		if p.adaptive() {
			p.placeAdaptive(res, page, i, cands, scales[i])
		} else {
			p.placeFixed(res, i, cands, scales[i])
		}
	}
	return res, nil
}

func (p *packer) footprints(i int, s float64) []footprint {
	rotations := 1
	if p.opts.BruteForce {
		rotations = 4
	}
	out := make([]footprint, rotations)
	for r := range rotations {
		out[r] = buildFootprint(p.items[i].Island, &p.preps[i], s, r, p.padding(), p.opts.TightShapes, p.blockAlign())
	}
	return out
}

func (p *packer) placeFixed(res *Result, i int, cands []footprint, s float64) {
	for pi, page := range res.Pages {
		if c, x, y, ok := p.search(page, cands); ok {
			p.commit(res, pi, i, cands[c], x, y, s)
			return
		}
	}
	if p.opts.MaxPages > 0 && len(res.Pages) >= p.opts.MaxPages {
		res.Placements[i].Overflow = true
		return
	}
	page := &Page{
		Width:  p.opts.Resolution,
		Height: p.opts.Resolution,
		grid:   newBitGrid(p.opts.Resolution, p.opts.Resolution),
	}
	c, x, y, ok := p.search(page, cands)
	if !ok {
		res.Placements[i].Overflow = true
		return
	}
	res.Pages = append(res.Pages, page)
	p.commit(res, len(res.Pages)-1, i, cands[c], x, y, s)
}

func (p *packer) newAdaptivePage(scales []float64) *Page {
	var area float64
	largest := 1
	for i := range p.items {
		pad := 2 * p.padding()
		w := cells(p.preps[i].w*scales[i]) + pad
		h := cells(p.preps[i].h*scales[i]) + pad
		area += float64(w * h)
		largest = max(largest, w, h)
	}
	size := max(int(math.Ceil(math.Sqrt(area))), largest)
	return &Page{grid: newBitGrid(size, size)}
}

// placeAdaptive places item i on the single page, growing it until the item fits.
func (p *packer) placeAdaptive(res *Result, page *Page, i int, cands []footprint, s float64) {
	for {
		if c, x, y, ok := p.search(page, cands); ok {
			p.commit(res, 0, i, cands[c], x, y, s)
			return
		}
		size := max(page.grid.w+page.grid.w/4+1, cands[0].mask.w, cands[0].mask.h)
		page.grid = page.grid.resized(size, size)
	}
}

// search finds an anchor for one of the candidate footprints on page.
// Scan mode takes the first free anchor of the first candidate; brute force
// keeps the anchor with the smallest used extent.
func (p *packer) search(page *Page, cands []footprint) (best, bx, by int, found bool) {
	step := 1
	if p.blockAlign() {
		step = blockSize
	}
	g := page.grid

	if !p.opts.BruteForce {
		fp := cands[0].mask
		for y := 0; y+fp.h <= g.h; y += step {
			for x := 0; x+fp.w <= g.w; x += step {
				if g.fits(fp, x, y) {
					return 0, x, y, true
				}
			}
		}
		return 0, 0, 0, false
	}

	bestMetric := math.MaxInt
	for r, c := range cands {
		fp := c.mask
		for y := 0; y+fp.h <= g.h; y += step {
			for x := 0; x+fp.w <= g.w; x += step {
				metric := max(page.usedW, x+fp.w) * max(page.usedH, y+fp.h)
				if found && !better(metric, y, x, r, bestMetric, by, bx, best) {
					continue
				}
				if !g.fits(fp, x, y) {
					continue
				}
				best, bx, by, bestMetric, found = r, x, y, metric, true
			}
		}
	}
	return best, bx, by, found
}

// better orders brute-force candidates by extent, then y, x and rotation.
func better(metric, y, x, r, bm, by, bx, br int) bool {
	if metric != bm {
		return metric < bm
	}
	if y != by {
		return y < by
	}
	if x != bx {
		return x < bx
	}
	return r < br
}

func (p *packer) commit(res *Result, pi, i int, c footprint, x, y int, s float64) {
	page := res.Pages[pi]
	fp := c.mask
	page.grid.stamp(fp, x, y)
	page.Charts++
	page.area += p.items[i].Island.Area * s * s
	page.usedW = max(page.usedW, x+fp.w)
	page.usedH = max(page.usedH, y+fp.h)
	res.Placements[i] = Placement{
		Page:      pi,
		X:         x,
		Y:         y,
		Rotation:  c.rotation,
		Scale:     s,
		transform: affine(1, 0, 0, 1, float64(x), float64(y)).Mul3(c.local),
	}
}

// finalize settles page sizes and computes page statistics concurrently.
func (p *packer) finalize(ctx context.Context, res *Result) error {
	if p.adaptive() && len(res.Pages) == 1 {
		page := res.Pages[0]
		page.Width, page.Height = max(page.usedW, 1), max(page.usedH, 1)
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(p.opts.Workers))
	for _, page := range res.Pages {
		g.Go(func() error {
			texels := float64(page.Width * page.Height)
			page.Utilization = page.area / texels
			page.Coverage = float64(page.grid.count()) / texels
			return nil
		})
	}
	return g.Wait()
}
