package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/chazu/sponge/pkg/fractal"
	"github.com/chazu/sponge/pkg/kernel"
	"github.com/chazu/sponge/pkg/kernel/manifold"
	"github.com/chazu/sponge/pkg/kernel/sdfx"
	"github.com/chazu/sponge/pkg/presets"
	"github.com/chazu/sponge/pkg/regen"
)

const (
	// MaxLevel is the deepest level the control panel offers.
	MaxLevel = 3

	// ruleSwitchDelay is how long a rule change waits before regenerating.
	ruleSwitchDelay = 300 * time.Millisecond

	// MeshEvent is emitted to the frontend whenever a new mesh is installed.
	MeshEvent = "mesh:updated"

	meshColor = "#aaaaaa"
)

// Params mirrors the control panel state.
type Params struct {
	Rule     string `json:"rule"`
	Level    int    `json:"level"`
	Invert   bool   `json:"invert"`
	Randomly bool   `json:"randomly"`
}

// MeshData is the JSON-serializable mesh format sent to the frontend.
type MeshData struct {
	Vertices   []float32 `json:"vertices"`
	Normals    []float32 `json:"normals"`
	Indices    []uint32  `json:"indices"`
	PartName   string    `json:"partName"`
	Color      string    `json:"color"`
	Boxes      int       `json:"boxes"`
	Generation uint64    `json:"generation"`
}

// RegenerateResult is returned by every binding that triggers generation.
// Rejected is set when a generation was already running; the displayed mesh
// is left as it was.
type RegenerateResult struct {
	Mesh     *MeshData `json:"mesh"`
	Rejected bool      `json:"rejected"`
	Error    string    `json:"error,omitempty"`
}

// App is the Wails backend. It exposes methods to the frontend via bindings.
type App struct {
	ctx    context.Context
	regen  *regen.Regenerator
	rules  *presets.Registry
	kernel kernel.Kernel

	// debounced delays rule-switch regenerations; repeated switches within
	// the delay collapse into one.
	debounced func(f func())

	mu      sync.Mutex
	params  Params
	current *regen.GeneratedMesh
}

// NewApp creates an App with the built-in rules and the sdfx kernel for
// solid export.
func NewApp() *App {
	return newApp(regen.New(), presets.NewRegistry(), ruleSwitchDelay)
}

func newApp(rg *regen.Regenerator, rules *presets.Registry, delay time.Duration) *App {
	return &App{
		regen:     rg,
		rules:     rules,
		kernel:    solidKernel(),
		debounced: debounce.New(delay),
		params:    Params{Rule: fractal.Menger().Name},
	}
}

// startup is called by Wails on app startup. The context is saved so the
// runtime can emit events, then the initial mesh is generated.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	if res := a.Regenerate(); res.Error != "" {
		log.Printf("initial generation failed: %s", res.Error)
	}
}

// Params returns the current panel state.
func (a *App) Params() Params {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// Rules lists the selectable rule names.
func (a *App) Rules() []string {
	return a.rules.Names()
}

// Current returns the installed mesh, or nil before the first generation.
func (a *App) Current() *MeshData {
	a.mu.Lock()
	gm := a.current
	a.mu.Unlock()
	if gm == nil {
		return nil
	}
	return toMeshData(gm)
}

// Regenerate builds a mesh from the current params and installs it.
func (a *App) Regenerate() RegenerateResult {
	p := a.Params()
	rules, err := a.rules.Get(p.Rule)
	if err != nil {
		return RegenerateResult{Error: err.Error()}
	}
	cfg, err := regen.Configure(rules, p.Level, p.Invert, p.Randomly)
	if err != nil {
		return RegenerateResult{Error: err.Error()}
	}

	gm, ok, err := a.regen.Regenerate(a.context(), cfg, fractal.DefaultBox())
	if !ok {
		return RegenerateResult{Rejected: true}
	}
	if err != nil {
		log.Printf("Regenerate error: %v", err)
		return RegenerateResult{Error: err.Error()}
	}

	data := toMeshData(gm)
	if a.install(gm) && a.ctx != nil {
		runtime.EventsEmit(a.ctx, MeshEvent, data)
	}
	return RegenerateResult{Mesh: data}
}

// install makes gm the current mesh unless a newer generation is already
// installed. Runs finish in generation order but install after the guard is
// released, so two callers can race here.
func (a *App) install(gm *regen.GeneratedMesh) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && gm.Generation <= a.current.Generation {
		return false
	}
	a.current = gm
	return true
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// SetLevel changes the subdivision level and regenerates.
func (a *App) SetLevel(level int) RegenerateResult {
	if level < 0 || level > MaxLevel {
		return RegenerateResult{Error: fmt.Sprintf("level %d out of range 0..%d", level, MaxLevel)}
	}
	a.mu.Lock()
	a.params.Level = level
	a.mu.Unlock()
	return a.Regenerate()
}

// SetInvert toggles the inverted rule and regenerates.
func (a *App) SetInvert(invert bool) RegenerateResult {
	a.mu.Lock()
	a.params.Invert = invert
	a.mu.Unlock()
	return a.Regenerate()
}

// SetRandomly toggles randomized subdivision and regenerates.
func (a *App) SetRandomly(randomly bool) RegenerateResult {
	a.mu.Lock()
	a.params.Randomly = randomly
	a.mu.Unlock()
	return a.Regenerate()
}

// ChangeToMenger selects the Menger rule. The mesh follows after a short
// delay and is delivered through MeshEvent.
func (a *App) ChangeToMenger() Params {
	p, _ := a.selectRule(fractal.Menger().Name)
	return p
}

// ChangeToJeruzalem selects the Jeruzalem rule. See ChangeToMenger.
func (a *App) ChangeToJeruzalem() Params {
	p, _ := a.selectRule(fractal.Jeruzalem().Name)
	return p
}

// SelectRule selects any registered rule by name.
func (a *App) SelectRule(name string) (Params, error) {
	return a.selectRule(name)
}

func (a *App) selectRule(name string) (Params, error) {
	rules, err := a.rules.Get(name)
	if err != nil {
		return a.Params(), err
	}
	a.mu.Lock()
	a.params.Rule = rules.Name
	p := a.params
	a.mu.Unlock()

	a.debounced(func() {
		if res := a.Regenerate(); res.Error != "" {
			log.Printf("rule switch to %s failed: %s", rules.Name, res.Error)
		}
	})
	return p, nil
}

// ExportSolid unions the boxes of the current mesh into one closed surface.
// It is rejected while another export runs; generation stays available.
func (a *App) ExportSolid() RegenerateResult {
	a.mu.Lock()
	gm := a.current
	a.mu.Unlock()
	if gm == nil {
		return RegenerateResult{Error: "nothing generated yet"}
	}

	m, ok, err := a.regen.Solidify(a.context(), gm, a.kernel)
	if !ok {
		return RegenerateResult{Rejected: true}
	}
	if err != nil {
		log.Printf("ExportSolid error: %v", err)
		return RegenerateResult{Error: err.Error()}
	}
	return RegenerateResult{Mesh: &MeshData{
		Vertices:   m.Vertices,
		Normals:    m.Normals,
		Indices:    m.Indices,
		PartName:   m.PartName,
		Color:      meshColor,
		Boxes:      len(gm.Boxes),
		Generation: gm.Generation,
	}}
}

// solidKernel prefers the exact manifold kernel and falls back to sdfx
// marching cubes when the binary was built without it.
func solidKernel() kernel.Kernel {
	k, err := manifold.New()
	if err != nil {
		return sdfx.New(sdfx.WithCells(120))
	}
	return k
}

func toMeshData(gm *regen.GeneratedMesh) *MeshData {
	return &MeshData{
		Vertices:   gm.Mesh.Vertices,
		Normals:    gm.Mesh.Normals,
		Indices:    gm.Mesh.Indices,
		PartName:   gm.Mesh.PartName,
		Color:      meshColor,
		Boxes:      len(gm.Boxes),
		Generation: gm.Generation,
	}
}
