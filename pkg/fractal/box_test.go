package fractal

import (
	"errors"
	"math"
	"testing"
)

func TestNewBox(t *testing.T) {
	tests := []struct {
		name    string
		center  Vec3
		size    Vec3
		wantErr bool
	}{
		{"default", Vec3{}, Splat(40), false},
		{"anisotropic", Vec3{X: 1, Y: -2, Z: 3}, Vec3{X: 1, Y: 2, Z: 3}, false},
		{"zero size", Vec3{}, Vec3{X: 1, Y: 1}, true},
		{"negative size", Vec3{}, Splat(-1), true},
		{"inf size", Vec3{}, Vec3{X: math.Inf(1), Y: 1, Z: 1}, true},
		{"nan size", Vec3{}, Vec3{X: 1, Y: math.NaN(), Z: 1}, true},
		{"inf center", Vec3{Z: math.Inf(-1)}, Splat(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBox(tt.center, tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBox() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestBoxBounds(t *testing.T) {
	b := Box{Center: Vec3{X: 1, Y: 2, Z: 3}, Size: Vec3{X: 2, Y: 4, Z: 6}}
	min, max := b.Bounds()
	if min != (Vec3{X: 0, Y: 0, Z: 0}) {
		t.Errorf("min = %v, want origin", min)
	}
	if max != (Vec3{X: 2, Y: 4, Z: 6}) {
		t.Errorf("max = %v, want (2,4,6)", max)
	}
}

func TestNewConfigRejectsNegativeDepth(t *testing.T) {
	_, err := NewConfig(Menger(), -1, false, false)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestNewConfigOptions(t *testing.T) {
	cfg, err := NewConfig(Jeruzalem(), 2, true, true, WithAnisotropic())
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Anisotropic || !cfg.Invert || !cfg.Randomize || cfg.Depth != 2 {
		t.Errorf("unexpected config %+v", cfg)
	}
}
