package mesh

import "github.com/go-gl/mathgl/mgl64"

// Cube returns a closed axis-aligned cube of the given size with its minimum corner at origin.
// Its 12 triangles wind counter-clockwise seen from outside.
func Cube(name string, origin mgl64.Vec3, size float64) Decl {
	var pos []mgl64.Vec3
	for _, c := range [][3]float64{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
	} {
		pos = append(pos, origin.Add(mgl64.Vec3{c[0], c[1], c[2]}.Mul(size)))
	}
	return Decl{
		Name:      name,
		Positions: pos,
		Indices: []int{
			0, 2, 1, 0, 3, 2, // -Z
			4, 5, 6, 4, 6, 7, // +Z
			0, 1, 5, 0, 5, 4, // -Y
			3, 7, 6, 3, 6, 2, // +Y
			0, 4, 7, 0, 7, 3, // -X
			1, 2, 6, 1, 6, 5, // +X
		},
	}
}

// Grid returns an n by n quad grid of the given size in the XY plane, facing +Z.
// When height is non-nil it displaces every vertex along Z.
func Grid(name string, n int, size float64, height func(x, y float64) float64) Decl {
	d := Decl{Name: name}
	step := size / float64(n)
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			x, y := float64(i)*step, float64(j)*step
			z := 0.0
			if height != nil {
				z = height(x, y)
			}
			d.Positions = append(d.Positions, mgl64.Vec3{x, y, z})
		}
	}
	for j := range n {
		for i := range n {
			a := j*(n+1) + i
			b := a + 1
			c := b + n + 1
			e := a + n + 1
			d.Indices = append(d.Indices, a, b, c, a, c, e)
		}
	}
	return d
}

// Triangle returns a single right triangle with legs of the given size.
func Triangle(name string, size float64) Decl {
	return Decl{
		Name:      name,
		Positions: []mgl64.Vec3{{0, 0, 0}, {size, 0, 0}, {0, size, 0}},
		Indices:   []int{0, 1, 2},
	}
}

// Merge concatenates several declarations into one mesh named name.
func Merge(name string, decls ...Decl) Decl {
	out := Decl{Name: name}
	for _, d := range decls {
		base := len(out.Positions)
		out.Positions = append(out.Positions, d.Positions...)
		for _, i := range d.Indices {
			out.Indices = append(out.Indices, base+i)
		}
	}
	return out
}
