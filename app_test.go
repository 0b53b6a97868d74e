package main

import (
	"testing"
	"time"

	"github.com/chazu/sponge/pkg/fractal"
	"github.com/chazu/sponge/pkg/presets"
	"github.com/chazu/sponge/pkg/regen"
)

func testApp(delay time.Duration, opts ...regen.Option) *App {
	return newApp(regen.New(opts...), presets.NewRegistry(), delay)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestE2EDefaultPanel exercises the same path as the panel bindings: params
// to regenerate to installed mesh, without the Wails runtime.
func TestE2EDefaultPanel(t *testing.T) {
	app := testApp(10 * time.Millisecond)

	if app.Current() != nil {
		t.Fatal("expected no mesh before the first generation")
	}

	res := app.Regenerate()
	if res.Error != "" || res.Rejected {
		t.Fatalf("Regenerate() = %+v", res)
	}
	// Level 0 is the initial box itself.
	if res.Mesh.Boxes != 1 || len(res.Mesh.Vertices) != 24*3 || len(res.Mesh.Indices) != 36 {
		t.Errorf("level 0 mesh: %d boxes, %d vertex floats, %d indices",
			res.Mesh.Boxes, len(res.Mesh.Vertices), len(res.Mesh.Indices))
	}
	if res.Mesh.Color != meshColor || res.Mesh.PartName != "menger" {
		t.Errorf("mesh color/name = %q/%q", res.Mesh.Color, res.Mesh.PartName)
	}

	res = app.SetLevel(2)
	if res.Error != "" {
		t.Fatal(res.Error)
	}
	if res.Mesh.Boxes != 400 {
		t.Errorf("level 2 boxes = %d, want 400", res.Mesh.Boxes)
	}
	if got := app.Current(); got == nil || got.Generation != res.Mesh.Generation {
		t.Errorf("Current() did not install the new mesh")
	}
}

func TestSetInvert(t *testing.T) {
	app := testApp(10 * time.Millisecond)
	app.SetLevel(1)

	res := app.SetInvert(true)
	if res.Error != "" {
		t.Fatal(res.Error)
	}
	if res.Mesh.Boxes != 7 {
		t.Errorf("inverted level 1 boxes = %d, want 7", res.Mesh.Boxes)
	}
	if !app.Params().Invert {
		t.Error("Params().Invert should be true")
	}
}

func TestSetRandomly(t *testing.T) {
	app := testApp(10*time.Millisecond, regen.WithSource(fractal.NewSource(7)))
	app.SetLevel(2)

	res := app.SetRandomly(true)
	if res.Error != "" {
		t.Fatal(res.Error)
	}
	if res.Mesh.Boxes < 20 || res.Mesh.Boxes > 400 {
		t.Errorf("randomized level 2 boxes = %d, want within [20, 400]", res.Mesh.Boxes)
	}
}

func TestChangeToJeruzalemIsDebounced(t *testing.T) {
	app := testApp(20 * time.Millisecond)
	app.SetLevel(1)
	before := app.Current().Generation

	p := app.ChangeToJeruzalem()
	if p.Rule != "jeruzalem" {
		t.Errorf("Params.Rule = %q, want jeruzalem", p.Rule)
	}
	// The mesh is not replaced synchronously.
	if got := app.Current(); got.PartName != "menger" {
		t.Errorf("mesh switched before the delay: %q", got.PartName)
	}

	waitFor(t, "jeruzalem mesh", func() bool {
		m := app.Current()
		return m.PartName == "jeruzalem"
	})
	got := app.Current()
	if got.Boxes != len(fractal.Jeruzalem().Offsets(false)) {
		t.Errorf("jeruzalem level 1 boxes = %d", got.Boxes)
	}
	if got.Generation != before+1 {
		t.Errorf("generation = %d, want %d", got.Generation, before+1)
	}
}

func TestRuleSwitchesCollapse(t *testing.T) {
	app := testApp(50 * time.Millisecond)
	app.SetLevel(1)
	before := app.Current().Generation

	app.ChangeToJeruzalem()
	app.ChangeToMenger()
	app.ChangeToJeruzalem()

	waitFor(t, "debounced regenerate", func() bool {
		return app.Current().Generation > before
	})
	time.Sleep(100 * time.Millisecond)

	got := app.Current()
	if got.Generation != before+1 {
		t.Errorf("generation = %d, want a single regenerate (%d)", got.Generation, before+1)
	}
	if got.PartName != "jeruzalem" {
		t.Errorf("PartName = %q, want the last selected rule", got.PartName)
	}
}

func TestRules(t *testing.T) {
	app := testApp(10 * time.Millisecond)
	names := app.Rules()
	if len(names) != 2 || names[0] != "jeruzalem" || names[1] != "menger" {
		t.Errorf("Rules() = %v", names)
	}
}
