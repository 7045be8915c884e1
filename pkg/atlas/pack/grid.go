package pack

import "math/bits"

// bitGrid is a row-major occupancy bitmap with one bit per texel.
type bitGrid struct {
	w, h   int
	stride int // Words per row
	bits   []uint64
}

func newBitGrid(w, h int) *bitGrid {
	stride := (w + 63) / 64
	return &bitGrid{w: w, h: h, stride: stride, bits: make([]uint64, stride*h)}
}

func (g *bitGrid) get(x, y int) bool {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return false
	}
	return g.bits[y*g.stride+x/64]&(1<<(x%64)) != 0
}

func (g *bitGrid) set(x, y int) {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return
	}
	g.bits[y*g.stride+x/64] |= 1 << (x % 64)
}

// fill sets every bit.
func (g *bitGrid) fill() {
	for y := range g.h {
		for x := range g.w {
			g.set(x, y)
		}
	}
}

// count returns the number of set bits.
func (g *bitGrid) count() int {
	n := 0
	for _, w := range g.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// fits reports whether fp placed with its origin at (x, y) lies inside g and
// overlaps no set bit.
func (g *bitGrid) fits(fp *bitGrid, x, y int) bool {
	if x < 0 || y < 0 || x+fp.w > g.w || y+fp.h > g.h {
		return false
	}
	base, shift := x/64, uint(x%64)
	for j := range fp.h {
		row := (y + j) * g.stride
		for i, word := range fp.bits[j*fp.stride : (j+1)*fp.stride] {
			if word == 0 {
				continue
			}
			if g.bits[row+base+i]&(word<<shift) != 0 {
				return false
			}
			if shift > 0 {
				if hi := word >> (64 - shift); hi != 0 && base+i+1 < g.stride && g.bits[row+base+i+1]&hi != 0 {
					return false
				}
			}
		}
	}
	return true
}

// stamp ORs fp into g with its origin at (x, y). The caller checks bounds.
func (g *bitGrid) stamp(fp *bitGrid, x, y int) {
	base, shift := x/64, uint(x%64)
	for j := range fp.h {
		row := (y + j) * g.stride
		for i, word := range fp.bits[j*fp.stride : (j+1)*fp.stride] {
			if word == 0 {
				continue
			}
			g.bits[row+base+i] |= word << shift
			if shift > 0 {
				if hi := word >> (64 - shift); hi != 0 && base+i+1 < g.stride {
					g.bits[row+base+i+1] |= hi
				}
			}
		}
	}
}

// resized returns a copy of g with new dimensions; existing bits keep their position.
func (g *bitGrid) resized(w, h int) *bitGrid {
	out := newBitGrid(w, h)
	for y := range min(g.h, h) {
		for x := range min(g.w, w) {
			if g.get(x, y) {
				out.set(x, y)
			}
		}
	}
	return out
}

// dilated returns a grid grown by r texels on every side with every set bit
// spread over its (2r+1)² neighbourhood.
func (g *bitGrid) dilated(r int) *bitGrid {
	out := newBitGrid(g.w+2*r, g.h+2*r)
	for y := range g.h {
		for x := range g.w {
			if !g.get(x, y) {
				continue
			}
			for dy := 0; dy <= 2*r; dy++ {
				for dx := 0; dx <= 2*r; dx++ {
					out.set(x+dx, y+dy)
				}
			}
		}
	}
	return out
}
