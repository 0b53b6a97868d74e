// Package regen is the entry point external collaborators use to produce
// fractal meshes. It ties configuration, subdivision and mesh accumulation
// together behind a single-flight guard: while one regeneration runs, other
// requests are rejected instead of queued.
package regen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/sponge/pkg/flight"
	"github.com/chazu/sponge/pkg/fractal"
	"github.com/chazu/sponge/pkg/kernel"
	"github.com/chazu/sponge/pkg/tessellate"
)

// DefaultTimeout bounds a single regeneration.
const DefaultTimeout = 30 * time.Second

// DefaultMaxSolidBoxes caps Solidify; kernel union cost grows with the box
// count at every sample.
const DefaultMaxSolidBoxes = 1000

// ErrTooManyBoxes is returned by Solidify for box lists above the limit.
var ErrTooManyBoxes = errors.New("too many boxes for a solid export")

// maxPrealloc caps buffer pre-sizing so huge depths do not allocate up front.
const maxPrealloc = 1 << 16

// GeneratedMesh is the result of one regeneration. It is owned by the caller
// and never modified after Regenerate returns.
type GeneratedMesh struct {
	Config     fractal.Config
	Boxes      []fractal.Box
	Mesh       *kernel.Mesh
	Elapsed    time.Duration
	Generation uint64
}

// Regenerator runs generations one at a time.
type Regenerator struct {
	guard   flight.Guard
	rng     fractal.Source
	timeout time.Duration

	export        flight.Guard
	solidTimeout  time.Duration
	maxSolidBoxes int

	mu         sync.Mutex
	generation uint64
}

// Option configures a Regenerator.
type Option func(*Regenerator)

// WithSource sets the random source used by randomized configs.
func WithSource(src fractal.Source) Option {
	return func(r *Regenerator) { r.rng = src }
}

// WithTimeout bounds each run. Non-positive values disable the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Regenerator) { r.timeout = d }
}

// WithSolidTimeout bounds each Solidify call. Non-positive values disable
// the bound.
func WithSolidTimeout(d time.Duration) Option {
	return func(r *Regenerator) { r.solidTimeout = d }
}

// WithMaxSolidBoxes sets the largest box list Solidify accepts.
// Non-positive values disable the cap.
func WithMaxSolidBoxes(n int) Option {
	return func(r *Regenerator) { r.maxSolidBoxes = n }
}

// New returns a Regenerator seeded from the current time unless WithSource
// is given.
func New(opts ...Option) *Regenerator {
	r := &Regenerator{
		timeout:       DefaultTimeout,
		solidTimeout:  DefaultTimeout,
		maxSolidBoxes: DefaultMaxSolidBoxes,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = fractal.NewSource(time.Now().UnixNano())
	}
	return r
}

// Configure builds a validated generation config.
func Configure(rules fractal.RuleSet, depth int, invert, randomize bool, opts ...fractal.Option) (fractal.Config, error) {
	return fractal.NewConfig(rules, depth, invert, randomize, opts...)
}

// Regenerate generates cfg over box and merges the result into one mesh.
//
// Return semantics:
//   - accepted: mesh + true + nil
//   - another run in progress: nil + false + nil
//   - invalid input, timeout or cancellation: nil + true + error
func (r *Regenerator) Regenerate(ctx context.Context, cfg fractal.Config, box fractal.Box) (*GeneratedMesh, bool, error) {
	var out *GeneratedMesh
	ran, err := r.guard.TryRunErr(func() error {
		gm, err := r.run(ctx, cfg, box)
		out = gm
		return err
	})
	if !ran {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	return out, true, nil
}

func (r *Regenerator) run(ctx context.Context, cfg fractal.Config, box fractal.Box) (*GeneratedMesh, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	acc := tessellate.NewAccumulator(cfg.Rules.Name, preallocHint(cfg))
	if err := fractal.GenerateContext(ctx, box, cfg, r.rng, acc.Add); err != nil {
		return nil, fmt.Errorf("regen: %w", err)
	}
	mesh, boxes := acc.Finish()

	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	return &GeneratedMesh{
		Config:     cfg,
		Boxes:      boxes,
		Mesh:       mesh,
		Elapsed:    time.Since(start),
		Generation: gen,
	}, nil
}

// Solidify unions the boxes of gm in k into one closed surface.
//
// Exports have their own guard: gm is immutable, so an export never blocks
// Regenerate, and only one export runs at a time. The kernel runs on its own
// goroutine; Solidify returns when it finishes, when ctx is done or when the
// solid timeout passes. An abandoned kernel run keeps the export guard until
// it actually ends.
//
// Return semantics match Regenerate. Box lists larger than the solid limit
// fail with ErrTooManyBoxes without touching the kernel.
func (r *Regenerator) Solidify(ctx context.Context, gm *GeneratedMesh, k kernel.Kernel) (*kernel.Mesh, bool, error) {
	if n := len(gm.Boxes); r.maxSolidBoxes > 0 && n > r.maxSolidBoxes {
		return nil, true, fmt.Errorf("regen: solidify: %d boxes, limit %d: %w", n, r.maxSolidBoxes, ErrTooManyBoxes)
	}
	release, ok := r.export.TryAcquire()
	if !ok {
		return nil, false, nil
	}

	if r.solidTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.solidTimeout)
		defer cancel()
	}

	ch := make(chan solidResult, 1)
	go func() {
		defer release()
		defer func() {
			if rec := recover(); rec != nil {
				ch <- solidResult{err: fmt.Errorf("panic during solidify: %v", rec)}
			}
		}()
		m, err := tessellate.Solid(gm.Config.Rules.Name, gm.Boxes, k)
		ch <- solidResult{mesh: m, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, true, fmt.Errorf("regen: solidify: %w", res.err)
		}
		return res.mesh, true, nil
	case <-ctx.Done():
		return nil, true, fmt.Errorf("regen: solidify: %w", ctx.Err())
	}
}

type solidResult struct {
	mesh *kernel.Mesh
	err  error
}

// Exporting reports whether a Solidify kernel run is in progress.
func (r *Regenerator) Exporting() bool {
	return r.export.Active()
}

// Busy reports whether a regeneration is in progress.
func (r *Regenerator) Busy() bool {
	return r.guard.Active()
}

// Rejected returns the number of regenerations dropped so far.
func (r *Regenerator) Rejected() uint64 {
	return r.guard.Rejected()
}

func preallocHint(cfg fractal.Config) int {
	if cfg.Randomize {
		return 0
	}
	n := len(cfg.Rules.Offsets(cfg.Invert))
	total := 1
	for d := 0; d < cfg.Depth; d++ {
		total *= n
		if total > maxPrealloc || total == 0 {
			break
		}
	}
	if total > maxPrealloc {
		return maxPrealloc
	}
	return total
}
