// Package tessellate turns generated boxes into renderable triangle meshes.
//
// The Accumulator merges every box into one contiguous vertex/index buffer so
// a renderer can draw a whole fractal with a single call. Solid instead
// unions the boxes in a geometry kernel and tessellates the result, which is
// slower but yields a single closed surface.
package tessellate

import (
	"fmt"

	"github.com/chazu/sponge/pkg/fractal"
	"github.com/chazu/sponge/pkg/kernel"
)

const (
	// VerticesPerBox is 4 corners for each of the 6 faces; faces do not
	// share vertices so normals stay flat.
	VerticesPerBox = 24
	// IndicesPerBox is 2 triangles for each of the 6 faces.
	IndicesPerBox = 36
)

// face describes one side of a box: the axis it faces along, the direction,
// and two tangent axes u, v ordered so that u x v points outward.
type face struct {
	axis int
	sign float64
	u, v int
}

var faces = [6]face{
	{axis: 0, sign: 1, u: 1, v: 2},
	{axis: 0, sign: -1, u: 2, v: 1},
	{axis: 1, sign: 1, u: 2, v: 0},
	{axis: 1, sign: -1, u: 0, v: 2},
	{axis: 2, sign: 1, u: 0, v: 1},
	{axis: 2, sign: -1, u: 1, v: 0},
}

// corners walks the face counter-clockwise when seen from outside.
var corners = [4][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

// Accumulator collects boxes into one merged mesh. Its Add method is meant
// to be passed as the emit callback of fractal.Generate. It is not safe for
// concurrent use.
type Accumulator struct {
	name  string
	boxes []fractal.Box
	mesh  *kernel.Mesh
}

// NewAccumulator returns an accumulator whose mesh carries the given part
// name. hint pre-sizes the buffers for the expected number of boxes and may
// be zero.
func NewAccumulator(name string, hint int) *Accumulator {
	a := &Accumulator{name: name}
	a.reset(hint)
	return a
}

func (a *Accumulator) reset(hint int) {
	if hint < 0 {
		hint = 0
	}
	a.boxes = make([]fractal.Box, 0, hint)
	a.mesh = &kernel.Mesh{
		Vertices: make([]float32, 0, hint*VerticesPerBox*3),
		Normals:  make([]float32, 0, hint*VerticesPerBox*3),
		Indices:  make([]uint32, 0, hint*IndicesPerBox),
		PartName: a.name,
	}
}

// Add appends the 6 faces of b to the merged buffer.
func (a *Accumulator) Add(b fractal.Box) {
	a.boxes = append(a.boxes, b)

	c := [3]float64{b.Center.X, b.Center.Y, b.Center.Z}
	h := [3]float64{b.Size.X / 2, b.Size.Y / 2, b.Size.Z / 2}
	m := a.mesh

	for _, f := range faces {
		base := uint32(m.VertexCount())
		var n [3]float32
		n[f.axis] = float32(f.sign)

		for _, uv := range corners {
			var p [3]float64
			p[f.axis] = c[f.axis] + f.sign*h[f.axis]
			p[f.u] = c[f.u] + uv[0]*h[f.u]
			p[f.v] = c[f.v] + uv[1]*h[f.v]
			m.Vertices = append(m.Vertices, float32(p[0]), float32(p[1]), float32(p[2]))
			m.Normals = append(m.Normals, n[0], n[1], n[2])
		}
		m.Indices = append(m.Indices,
			base, base+1, base+2,
			base, base+2, base+3,
		)
	}
}

// Len returns the number of boxes added since the last Finish.
func (a *Accumulator) Len() int {
	return len(a.boxes)
}

// Finish hands the merged mesh and the ordered box list to the caller and
// leaves the accumulator empty. The returned values are never touched again
// by the accumulator.
func (a *Accumulator) Finish() (*kernel.Mesh, []fractal.Box) {
	mesh, boxes := a.mesh, a.boxes
	a.reset(0)
	return mesh, boxes
}

// Merge consolidates boxes into one mesh. Zero boxes yield an empty,
// non-nil mesh.
func Merge(name string, boxes []fractal.Box) *kernel.Mesh {
	a := NewAccumulator(name, len(boxes))
	for _, b := range boxes {
		a.Add(b)
	}
	mesh, _ := a.Finish()
	return mesh
}

// Solid unions all boxes in the kernel and tessellates the resulting closed
// surface. Zero boxes yield an empty mesh without touching the kernel.
func Solid(name string, boxes []fractal.Box, k kernel.Kernel) (*kernel.Mesh, error) {
	if len(boxes) == 0 {
		return &kernel.Mesh{
			Vertices: []float32{},
			Normals:  []float32{},
			Indices:  []uint32{},
			PartName: name,
		}, nil
	}

	solids := make([]kernel.Solid, len(boxes))
	for i, b := range boxes {
		s := k.Box(b.Size.X, b.Size.Y, b.Size.Z)
		if b.Center != (fractal.Vec3{}) {
			s = k.Translate(s, b.Center.X, b.Center.Y, b.Center.Z)
		}
		solids[i] = s
	}

	mesh, err := k.ToMesh(k.Union(solids...))
	if err != nil {
		return nil, fmt.Errorf("tessellate: ToMesh failed for %d boxes: %w", len(boxes), err)
	}
	mesh.PartName = name
	return mesh, nil
}
