//go:build manifold

// Package manifold binds the Manifold C library (manifoldc) as an exact
// boolean kernel. Unions of axis-aligned boxes come out with sharp edges
// and no sampling error, which makes it the preferred backend for solid
// export when it is available.
//
// Build with: go build -tags=manifold
package manifold

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lmanifoldc

#include <stdlib.h>
#include <manifold/manifoldc.h>
*/
import "C"

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/chazu/sponge/pkg/kernel"
)

var _ kernel.Kernel = (*ManifoldKernel)(nil)
var _ kernel.Solid = (*manifoldSolid)(nil)

type manifoldSolid struct {
	ptr *C.ManifoldManifold
}

func (s *manifoldSolid) BoundingBox() (min, max [3]float64) {
	alloc := C.manifold_alloc_box()
	bbox := C.manifold_bounding_box(alloc, s.ptr)
	defer C.manifold_delete_box(bbox)

	min = [3]float64{
		float64(C.manifold_box_min_x(bbox)),
		float64(C.manifold_box_min_y(bbox)),
		float64(C.manifold_box_min_z(bbox)),
	}
	max = [3]float64{
		float64(C.manifold_box_max_x(bbox)),
		float64(C.manifold_box_max_y(bbox)),
		float64(C.manifold_box_max_z(bbox)),
	}
	return min, max
}

// newSolid takes ownership of ptr; the C object is freed by a finalizer.
func newSolid(ptr *C.ManifoldManifold) *manifoldSolid {
	s := &manifoldSolid{ptr: ptr}
	runtime.SetFinalizer(s, func(s *manifoldSolid) {
		if s.ptr != nil {
			C.manifold_delete_manifold(s.ptr)
			s.ptr = nil
		}
	})
	return s
}

// ManifoldKernel implements kernel.Kernel on top of manifoldc.
type ManifoldKernel struct{}

// New returns a ManifoldKernel.
func New() (kernel.Kernel, error) {
	return &ManifoldKernel{}, nil
}

// Box returns an x by y by z box centered at the origin.
func (k *ManifoldKernel) Box(x, y, z float64) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_cube(alloc, C.double(x), C.double(y), C.double(z), C.int(1))
	return newSolid(ptr)
}

// Union merges solids pairwise in a balanced tree so each boolean works on
// operands of similar size. Panics when called with no solids.
func (k *ManifoldKernel) Union(solids ...kernel.Solid) kernel.Solid {
	if len(solids) == 0 {
		panic("manifold: Union of zero solids")
	}
	level := make([]*manifoldSolid, len(solids))
	for i, s := range solids {
		level[i] = s.(*manifoldSolid)
	}
	for len(level) > 1 {
		next := make([]*manifoldSolid, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			alloc := C.manifold_alloc_manifold()
			next = append(next, newSolid(C.manifold_union(alloc, level[i].ptr, level[i+1].ptr)))
			runtime.KeepAlive(level[i])
			runtime.KeepAlive(level[i+1])
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

// Translate moves s by (x, y, z).
func (k *ManifoldKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	ms := s.(*manifoldSolid)
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_translate(alloc, ms.ptr, C.double(x), C.double(y), C.double(z))
	runtime.KeepAlive(ms)
	return newSolid(ptr)
}

// ToMesh extracts the MeshGL of s and splits its interleaved vertex
// properties into the flat kernel.Mesh layout.
func (k *ManifoldKernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	ms := s.(*manifoldSolid)

	meshAlloc := C.manifold_alloc_meshgl()
	meshGL := C.manifold_get_meshgl(meshAlloc, ms.ptr)
	defer C.manifold_delete_meshgl(meshGL)
	runtime.KeepAlive(ms)

	numVert := int(C.manifold_meshgl_num_vert(meshGL))
	numTri := int(C.manifold_meshgl_num_tri(meshGL))
	if numVert == 0 || numTri == 0 {
		return &kernel.Mesh{}, nil
	}

	// Positions occupy properties 0..2; 3..5 hold normals when present.
	numProp := int(C.manifold_meshgl_num_prop(meshGL))
	props := make([]float32, numVert*numProp)
	C.manifold_meshgl_vert_properties((*C.float)(unsafe.Pointer(&props[0])), meshGL)

	indices := make([]uint32, numTri*3)
	C.manifold_meshgl_tri_verts((*C.uint32_t)(unsafe.Pointer(&indices[0])), meshGL)

	vertices := make([]float32, numVert*3)
	hasNormals := numProp >= 6
	var normals []float32
	if hasNormals {
		normals = make([]float32, numVert*3)
	}
	for i := 0; i < numVert; i++ {
		base := i * numProp
		copy(vertices[i*3:i*3+3], props[base:base+3])
		if hasNormals {
			copy(normals[i*3:i*3+3], props[base+3:base+6])
		}
	}
	if !hasNormals {
		normals = vertexNormals(vertices, indices)
	}

	mesh := &kernel.Mesh{Vertices: vertices, Normals: normals, Indices: indices}
	if mesh.VertexCount() != numVert {
		return nil, fmt.Errorf("manifold: vertex count mismatch: got %d, expected %d",
			mesh.VertexCount(), numVert)
	}
	return mesh, nil
}

// vertexNormals averages the face normals around each vertex.
func vertexNormals(vertices []float32, indices []uint32) []float32 {
	acc := make([]float64, len(vertices))
	for t := 0; t+2 < len(indices); t += 3 {
		tri := [3]uint32{indices[t], indices[t+1], indices[t+2]}
		var p [3][3]float64
		for c, idx := range tri {
			for d := 0; d < 3; d++ {
				p[c][d] = float64(vertices[idx*3+uint32(d)])
			}
		}
		e1 := [3]float64{p[1][0] - p[0][0], p[1][1] - p[0][1], p[1][2] - p[0][2]}
		e2 := [3]float64{p[2][0] - p[0][0], p[2][1] - p[0][1], p[2][2] - p[0][2]}
		n := [3]float64{
			e1[1]*e2[2] - e1[2]*e2[1],
			e1[2]*e2[0] - e1[0]*e2[2],
			e1[0]*e2[1] - e1[1]*e2[0],
		}
		for _, idx := range tri {
			for d := 0; d < 3; d++ {
				acc[idx*3+uint32(d)] += n[d]
			}
		}
	}

	normals := make([]float32, len(vertices))
	for i := 0; i+2 < len(acc); i += 3 {
		l := math.Sqrt(acc[i]*acc[i] + acc[i+1]*acc[i+1] + acc[i+2]*acc[i+2])
		if l > 1e-12 {
			normals[i] = float32(acc[i] / l)
			normals[i+1] = float32(acc[i+1] / l)
			normals[i+2] = float32(acc[i+2] / l)
		}
	}
	return normals
}
