package bench

import (
	"math"
	"testing"
)

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		p, err := Lookup(name, 3)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", name, err)
		}
		if p.Name != name {
			t.Errorf("Lookup(%q).Name = %q", name, p.Name)
		}
		lower, upper := p.Bounds(3)
		if len(lower) != 3 || len(upper) != 3 || lower[0] >= upper[0] {
			t.Errorf("%s: invalid bounds %v %v", name, lower, upper)
		}
	}

	if _, err := Lookup("nope", 3); err == nil {
		t.Error("expected error for unknown problem")
	}
	if _, err := Lookup("sphere", 0); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestOptima(t *testing.T) {
	tests := []struct {
		name string
		x    []float64
	}{
		{"sphere", []float64{0, 0, 0}},
		{"rosenbrock", []float64{1, 1, 1}},
		{"styblinski-tang", []float64{-2.903534, -2.903534, -2.903534}},
		{"ackley", []float64{0, 0, 0}},
		{"constrained-sphere", []float64{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Lookup(tt.name, len(tt.x))
			if err != nil {
				t.Fatal(err)
			}
			f, g := p.Func(tt.x)
			if math.Abs(f-p.Optimum) > 1e-6 {
				t.Errorf("f(%v) = %v, want %v", tt.x, f, p.Optimum)
			}
			for _, gj := range g {
				if gj > 1e-12 {
					t.Errorf("constraint violated at optimum: %v", g)
				}
			}
		})
	}
}

func TestConstrainedSphereInfeasibleAtOrigin(t *testing.T) {
	_, g := ConstrainedSphere([]float64{0, 0})
	if len(g) != 1 || g[0] != 2 {
		t.Errorf("g = %v, want [2]", g)
	}
}
