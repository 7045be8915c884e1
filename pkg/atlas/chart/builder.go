package chart

import (
	"container/heap"
	"math"
	"sort"

	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
	"github.com/Faultbox/uvatlas/pkg/geom"
)

// candidate proposes adding a face to a chart.
type candidate struct {
	cost    float64
	chart   int
	face    int // Local face index
	version int // Chart version the cost was computed against
}

// candidateHeap orders candidates by cost, then chart, then face.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	if h[i].chart != h[j].chart {
		return h[i].chart < h[j].chart
	}
	return h[i].face < h[j].face
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x interface{}) {
	*h = append(*h, x.(candidate))
}

func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// builder grows charts over a subset of mesh faces.
type builder struct {
	mesh  *mesh.Mesh
	opts  Options
	faces []int       // Global face per local index
	local map[int]int // Global face -> local index

	faceChart []int // Chart per local face, -1 while unassigned
	charts    []*Chart
	queue     candidateHeap
	bySize    []int // Local faces by descending area, ascending index
	next      int   // Scan position in bySize
}

func newBuilder(m *mesh.Mesh, faces []int, opts Options) *builder {
	b := &builder{
		mesh:      m,
		opts:      opts,
		faces:     faces,
		local:     make(map[int]int, len(faces)),
		faceChart: make([]int, len(faces)),
		bySize:    make([]int, len(faces)),
	}
	for i, f := range faces {
		b.local[f] = i
		b.faceChart[i] = -1
		b.bySize[i] = i
	}
	sortByArea(b.bySize, func(i int) float64 { return m.Faces[faces[i]].Area })
	return b
}

func (b *builder) build() []*Chart {
	iterations := max(b.opts.MaxIterations, 1)

	b.grow(b.componentSeeds())
	best := b.snapshot()
	bestScore := b.score()

	for it := 1; it < iterations; it++ {
		b.merge()
		seeds := b.relocatedSeeds()
		b.reset()
		b.grow(seeds)
		score := b.score()
		if score >= bestScore-geom.Epsilon {
			break
		}
		best, bestScore = b.snapshot(), score
	}

	b.restore(best)
	return b.finish()
}

// componentSeeds picks the largest face of every connected component in the subset.
func (b *builder) componentSeeds() []int {
	seen := make([]bool, len(b.faces))
	var seeds []int
	for start := range b.faces {
		if seen[start] {
			continue
		}
		seed := start
		queue := []int{start}
		seen[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if b.area(cur) > b.area(seed) || (b.area(cur) == b.area(seed) && cur < seed) {
				seed = cur
			}
			for k := range 3 {
				o, ok := b.neighbor(cur, k)
				if ok && !seen[o] {
					seen[o] = true
					queue = append(queue, o)
				}
			}
		}
		seeds = append(seeds, seed)
	}
	return seeds
}

// grow seeds the given faces, then grows all charts until every face is assigned.
func (b *builder) grow(seeds []int) {
	for _, s := range seeds {
		if b.faceChart[s] < 0 {
			b.newChart(s)
		}
	}
	for {
		b.drain()
		seed := b.nextFree()
		if seed < 0 {
			return
		}
		b.newChart(seed)
	}
}

// drain accepts candidates in cost order until the queue is empty.
func (b *builder) drain() {
	for b.queue.Len() > 0 {
		cand := heap.Pop(&b.queue).(candidate)
		if b.faceChart[cand.face] >= 0 {
			continue
		}
		c := b.charts[cand.chart]
		if cand.version != c.version {
			cost, _, ok := b.evaluate(c, cand.face)
			if ok {
				heap.Push(&b.queue, candidate{cost: cost, chart: c.ID, face: cand.face, version: c.version})
			}
			continue
		}
		_, boundary, ok := b.evaluate(c, cand.face)
		if !ok || cand.cost > b.opts.MaxCost {
			continue
		}
		b.assign(c, cand.face, cand.cost, boundary)
	}
}

func (b *builder) newChart(seed int) {
	c := &Chart{ID: len(b.charts), Seed: b.faces[seed]}
	b.charts = append(b.charts, c)
	_, boundary, _ := b.evaluate(c, seed)
	b.assign(c, seed, 0, boundary)
}

func (b *builder) assign(c *Chart, f int, cost, boundary float64) {
	b.faceChart[f] = c.ID
	c.add(b.mesh, b.faces[f], cost, boundary)
	for k := range 3 {
		o, ok := b.neighbor(f, k)
		if !ok || b.faceChart[o] >= 0 {
			continue
		}
		if cost, _, ok := b.evaluate(c, o); ok {
			heap.Push(&b.queue, candidate{cost: cost, chart: c.ID, face: o, version: c.version})
		}
	}
}

// nextFree returns the largest unassigned face, or -1.
func (b *builder) nextFree() int {
	for b.next < len(b.bySize) {
		f := b.bySize[b.next]
		if b.faceChart[f] < 0 {
			return f
		}
		b.next++
	}
	return -1
}

// neighbor returns the local face across edge k of local face f.
func (b *builder) neighbor(f, k int) (int, bool) {
	o := b.mesh.Opposite(b.faces[f], k)
	if o < 0 {
		return 0, false
	}
	l, ok := b.local[o]
	return l, ok
}

func (b *builder) area(f int) float64 {
	return b.mesh.Faces[b.faces[f]].Area
}

// evaluate computes the cost of adding local face f to chart c and the resulting
// boundary length. ok is false when the face is inadmissible.
func (b *builder) evaluate(c *Chart, f int) (cost, boundary float64, ok bool) {
	m := b.mesh
	gf := b.faces[f]
	face := &m.Faces[gf]

	var lIn, lOut float64
	for k := range 3 {
		l := m.EdgeLength(gf, k)
		if o, has := b.neighbor(f, k); has && b.faceChart[o] == c.ID {
			lIn += l
		} else {
			lOut += l
		}
	}
	boundary = c.BoundaryLength + lOut - lIn
	if len(c.Faces) == 0 {
		return 0, boundary, true
	}

	d := face.Normal.Dot(c.AverageNormal)
	if d <= minNormalDot {
		return 0, boundary, false
	}
	area := c.Area + face.Area
	if b.opts.MaxChartArea > 0 && area > b.opts.MaxChartArea {
		return 0, boundary, false
	}
	if b.opts.MaxBoundaryLength > 0 && boundary > b.opts.MaxBoundaryLength {
		return 0, boundary, false
	}

	if w := b.opts.NormalDeviationWeight; w > 0 {
		cost += w * math.Min(1-d, 1)
	}
	if w := b.opts.RoundnessWeight; w > 0 {
		cost += w * roundness(c, boundary, area)
	}
	if w := b.opts.StraightnessWeight; w > 0 && lIn+lOut > 0 {
		cost += w * math.Min((lOut-lIn)/(lOut+lIn), 0)
	}
	normalSeam, textureSeam := b.seamCosts(c, f)
	if b.opts.NormalSeamWeight >= hardNormalSeamWeight && normalSeam > 0 {
		return 0, boundary, false
	}
	cost += b.opts.NormalSeamWeight * normalSeam
	cost = clampCost(cost + b.opts.TextureSeamWeight*textureSeam)
	return cost, boundary, !math.IsInf(cost, 1)
}

// roundness rewards additions that keep the chart compact.
func roundness(c *Chart, boundary, area float64) float64 {
	if c.Area <= 0 || area <= 0 || boundary <= 0 {
		return 0
	}
	oldR := c.BoundaryLength * c.BoundaryLength / c.Area
	newR := boundary * boundary / area
	return 1 - oldR/newR
}

// seamCosts returns the length-weighted fraction of the edges shared with c
// that are normal and texture seams.
func (b *builder) seamCosts(c *Chart, f int) (normal, texture float64) {
	m := b.mesh
	gf := b.faces[f]
	var total float64
	for k := range 3 {
		o, has := b.neighbor(f, k)
		if !has || b.faceChart[o] != c.ID {
			continue
		}
		l := m.EdgeLength(gf, k)
		total += l
		flags := m.Flags(gf, k)
		if flags&mesh.EdgeNormalSeam != 0 {
			of := b.faces[o]
			j0 := m.OppositeCorner(gf, k, of)
			j1 := m.OppositeCorner(gf, (k+1)%3, of)
			d := 0.0
			if j0 >= 0 && j1 >= 0 {
				d = (m.CornerNormal(gf, k).Dot(m.CornerNormal(of, j0)) +
					m.CornerNormal(gf, (k+1)%3).Dot(m.CornerNormal(of, j1))) / 2
			}
			normal += l * geom.Clamp(1-d, 0, 2)
		}
		if flags&mesh.EdgeTextureSeam != 0 {
			texture += l
		}
	}
	if total <= 0 {
		return 0, 0
	}
	return normal / total, texture / total
}

// score rates a partition: accumulated cost plus a MaxCost-sized charge per chart.
func (b *builder) score() float64 {
	perChart := math.Max(b.opts.MaxCost, 1)
	s := 0.0
	for _, c := range b.charts {
		if !c.dead {
			s += c.Cost + perChart
		}
	}
	return s
}

// merge folds low-quality charts into the neighbor they share most boundary with.
func (b *builder) merge() {
	for _, c := range b.charts {
		if c.dead {
			continue
		}
		shared := make(map[int]float64)
		for _, gf := range c.Faces {
			f := b.local[gf]
			for k := range 3 {
				o, has := b.neighbor(f, k)
				if !has {
					continue
				}
				if oc := b.faceChart[o]; oc != c.ID {
					shared[oc] += b.mesh.EdgeLength(gf, k)
				}
			}
		}
		target, best := -1, 0.0
		for id, l := range shared {
			if l > best || (l == best && id < target) {
				target, best = id, l
			}
		}
		if target < 0 {
			continue
		}
		n := b.charts[target]
		if best < 0.5*c.BoundaryLength && len(c.Faces) > 2 {
			continue
		}
		if !b.canMerge(c, n, best) {
			continue
		}
		for _, gf := range c.Faces {
			f := b.local[gf]
			b.faceChart[f] = n.ID
			n.add(b.mesh, gf, 0, n.BoundaryLength)
		}
		n.BoundaryLength += c.BoundaryLength - 2*best
		n.Cost += c.Cost
		c.dead = true
		c.Faces = nil
	}
}

func (b *builder) canMerge(c, n *Chart, shared float64) bool {
	if b.opts.MaxChartArea > 0 && c.Area+n.Area > b.opts.MaxChartArea {
		return false
	}
	if b.opts.MaxBoundaryLength > 0 && c.BoundaryLength+n.BoundaryLength-2*shared > b.opts.MaxBoundaryLength {
		return false
	}
	if b.opts.NormalDeviationWeight*(1-c.AverageNormal.Dot(n.AverageNormal)) > b.opts.MaxCost {
		return false
	}
	merged := geom.Normalize(c.normalSum.Add(n.normalSum))
	for _, chart := range []*Chart{c, n} {
		for _, gf := range chart.Faces {
			if b.mesh.Faces[gf].Normal.Dot(merged) <= minNormalDot {
				return false
			}
		}
	}
	if b.opts.NormalSeamWeight >= hardNormalSeamWeight {
		for _, gf := range c.Faces {
			f := b.local[gf]
			for k := range 3 {
				o, has := b.neighbor(f, k)
				if has && b.faceChart[o] == n.ID && b.mesh.Flags(gf, k)&mesh.EdgeNormalSeam != 0 {
					return false
				}
			}
		}
	}
	return true
}

// relocatedSeeds returns, per live chart, the face closest to the chart centroid.
func (b *builder) relocatedSeeds() []int {
	var seeds []int
	for _, c := range b.charts {
		if c.dead || len(c.Faces) == 0 {
			continue
		}
		center := c.Centroid()
		seed, bestDist := -1, math.Inf(1)
		for _, gf := range c.Faces {
			p := b.mesh.Position(gf, 0).Add(b.mesh.Position(gf, 1)).Add(b.mesh.Position(gf, 2)).Mul(1.0 / 3)
			d := p.Sub(center).Len()
			if d < bestDist || (d == bestDist && b.local[gf] < seed) {
				seed, bestDist = b.local[gf], d
			}
		}
		seeds = append(seeds, seed)
	}
	return seeds
}

func (b *builder) reset() {
	for i := range b.faceChart {
		b.faceChart[i] = -1
	}
	b.charts = nil
	b.queue = b.queue[:0]
	b.next = 0
}

type partition struct {
	faceChart []int
	charts    []*Chart
}

// snapshot deep-copies the partition so later merges cannot touch it.
func (b *builder) snapshot() partition {
	p := partition{
		faceChart: append([]int(nil), b.faceChart...),
		charts:    make([]*Chart, len(b.charts)),
	}
	for i, c := range b.charts {
		cp := *c
		cp.Faces = append([]int(nil), c.Faces...)
		p.charts[i] = &cp
	}
	return p
}

func (b *builder) restore(p partition) {
	b.faceChart = p.faceChart
	b.charts = p.charts
}

// finish drops merged charts, renumbers and freezes the rest.
func (b *builder) finish() []*Chart {
	var out []*Chart
	for _, c := range b.charts {
		if c.dead || len(c.Faces) == 0 {
			continue
		}
		c.ID = len(out)
		out = append(out, c)
	}
	for _, c := range out {
		c.freeze(b.mesh, c.Contains)
	}
	return out
}

// sortByArea orders local faces by descending area with ascending index as tie-break.
func sortByArea(faces []int, area func(int) float64) {
	sort.Slice(faces, func(i, j int) bool {
		ai, aj := area(faces[i]), area(faces[j])
		if ai != aj {
			return ai > aj
		}
		return faces[i] < faces[j]
	})
}
