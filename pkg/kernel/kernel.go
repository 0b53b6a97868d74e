// Package kernel defines the abstract geometry kernel interface used to
// build solid, watertight surfaces from generated boxes. Implementations
// (sdfx) provide the boolean union and meshing behind this interface.
package kernel

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel is the abstract geometry kernel interface.
type Kernel interface {
	// Box returns a box with the given edge lengths centered at the origin.
	Box(x, y, z float64) Solid

	// Union returns the union of all solids. At least one is required.
	Union(solids ...Solid) Solid

	// Translate moves a solid by (x, y, z).
	Translate(s Solid, x, y, z float64) Solid

	// ToMesh tessellates a solid into a triangle mesh.
	ToMesh(s Solid) (*Mesh, error)
}
