package fractal

import (
	"fmt"
	"math"
)

// Vec3 is a 3D vector of float64 components.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Splat returns a vector with all components set to v.
func Splat(v float64) Vec3 {
	return Vec3{X: v, Y: v, Z: v}
}

// Add returns the component-wise sum of v and o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Mul returns the component-wise product of v and o.
func (v Vec3) Mul(o Vec3) Vec3 {
	return Vec3{X: v.X * o.X, Y: v.Y * o.Y, Z: v.Z * o.Z}
}

// Scale returns v multiplied by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v Vec3) finite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Box is an axis-aligned cuboid described by its center and its edge length
// along each axis.
type Box struct {
	Center Vec3 `json:"center"`
	Size   Vec3 `json:"size"`
}

// DefaultSize is the edge length of the default initial box.
const DefaultSize = 40

// DefaultBox returns the initial box used when the caller supplies none:
// centered at the origin with edge length DefaultSize.
func DefaultBox() Box {
	return Box{Size: Splat(DefaultSize)}
}

// NewBox returns a validated box. All components must be finite and every
// size component strictly positive.
func NewBox(center, size Vec3) (Box, error) {
	b := Box{Center: center, Size: size}
	if err := b.Validate(); err != nil {
		return Box{}, err
	}
	return b, nil
}

// Validate reports whether b can seed a generation run.
func (b Box) Validate() error {
	if !b.Center.finite() {
		return fmt.Errorf("fractal: box center %v is not finite: %w", b.Center, ErrInvalidConfig)
	}
	if !b.Size.finite() {
		return fmt.Errorf("fractal: box size %v is not finite: %w", b.Size, ErrInvalidConfig)
	}
	if b.Size.X <= 0 || b.Size.Y <= 0 || b.Size.Z <= 0 {
		return fmt.Errorf("fractal: box size %v must be positive: %w", b.Size, ErrInvalidConfig)
	}
	return nil
}

// Bounds returns the minimum and maximum corners.
func (b Box) Bounds() (min, max Vec3) {
	half := b.Size.Scale(0.5)
	min = Vec3{X: b.Center.X - half.X, Y: b.Center.Y - half.Y, Z: b.Center.Z - half.Z}
	max = b.Center.Add(half)
	return min, max
}
