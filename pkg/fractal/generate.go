package fractal

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrNoSource is returned when a randomized config is generated without a
// random source.
var ErrNoSource = errors.New("fractal: randomized generation requires a random source")

// Generate recursively subdivides box according to cfg and calls emit for
// every leaf box. rng is only consulted when cfg.Randomize is set and may be
// nil otherwise.
func Generate(box Box, cfg Config, rng Source, emit func(Box)) error {
	return GenerateContext(context.Background(), box, cfg, rng, emit)
}

// GenerateContext is Generate with cancellation. The context is checked once
// per subdivided box; when it is done the boxes emitted so far stand and the
// context error is returned.
func GenerateContext(ctx context.Context, box Box, cfg Config, rng Source, emit func(Box)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := box.Validate(); err != nil {
		return err
	}
	if cfg.Randomize && rng == nil {
		return ErrNoSource
	}
	w := walker{
		ctx:     ctx,
		cfg:     cfg,
		rng:     rng,
		emit:    emit,
		offsets: cfg.Rules.Offsets(cfg.Invert),
	}
	if err := w.walk(box, cfg.Depth); err != nil {
		return fmt.Errorf("fractal: generation stopped: %w", err)
	}
	return nil
}

// walker carries the per-run state of one generation.
type walker struct {
	ctx     context.Context
	cfg     Config
	rng     Source
	emit    func(Box)
	offsets []Offset
}

func (w *walker) walk(box Box, depth int) error {
	if depth == 0 {
		w.emit(box)
		return nil
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}
	for _, o := range w.offsets {
		child := ChildBox(box, o, w.cfg)

		// Early termination: the child becomes final geometry even though
		// depth-1 may still be positive.
		if w.cfg.Randomize && w.rng.Float64() >= 0.5 {
			w.emit(child)
			continue
		}
		if err := w.walk(child, depth-1); err != nil {
			return err
		}
	}
	return nil
}

// ChildBox returns the sub-box of parent at offset o.
func ChildBox(parent Box, o Offset, cfg Config) Box {
	size := childSize(parent.Size, o, cfg)
	step := Vec3{X: float64(o.I), Y: float64(o.J), Z: float64(o.K)}
	return Box{
		Center: parent.Center.Add(step.Mul(size)),
		Size:   size,
	}
}

func childSize(size Vec3, o Offset, cfg Config) Vec3 {
	if !cfg.Anisotropic {
		p := float64(cfg.Rules.Parts)
		return Vec3{X: size.X / p, Y: size.Y / p, Z: size.Z / p}
	}
	return Vec3{
		X: size.X / anisotropicDivisor(o.I),
		Y: size.Y / anisotropicDivisor(o.J),
		Z: size.Z / anisotropicDivisor(o.K),
	}
}

func anisotropicDivisor(c int) float64 {
	if c < 0 {
		return 2
	}
	return 4
}

// LeafCount returns the number of leaves a non-randomized run of cfg emits:
// n^depth for n included offsets. It saturates at math.MaxInt. For a
// randomized run it is an upper bound.
func LeafCount(cfg Config) int {
	n := len(cfg.Rules.Offsets(cfg.Invert))
	total := 1
	for d := 0; d < cfg.Depth; d++ {
		if n == 0 {
			return 0
		}
		if total > math.MaxInt/n {
			return math.MaxInt
		}
		total *= n
	}
	return total
}
