package numdiff

import (
	"errors"
	"math"
	"testing"
)

func TestObjectError(t *testing.T) {

	failure := errors.New("model failure")
	calls := 0
	obj := func(x, y []float64) error {
		if calls++; calls == 3 {
			return failure
		}
		objV2(x, y)
		return nil
	}

	for _, method := range []Method{Forward, Central} {
		calls = 0
		x0 := []float64{1.0, 2.0}
		jac := make([]float64, 6)
		as := ApproxSpec{N: 2, M: 3, Method: method, Object: obj}
		if err := as.Diff(x0, jac); !errors.Is(err, failure) {
			t.Fatalf("%v: Diff() err = %v, want %v", method, err, failure)
		}
		if x0[0] != 1.0 || x0[1] != 2.0 {
			t.Fatalf("%v: x0 not restored after failure: %v", method, x0)
		}
	}
}

func TestTransJac(t *testing.T) {

	x0 := []float64{1.0, 2.0}
	want := jacV2(x0)

	for _, method := range []Method{Forward, Central} {
		jac := make([]float64, 6)
		as := ApproxSpec{N: 2, M: 3, Method: method, Object: total(objV2), TransJac: true}
		if err := as.Diff(x0, jac); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				if !relativeEqual(jac[i*3+j], want[i+j*2], 1e-6) {
					t.Fatalf("%v: ∂y%d/∂x%d = %g, want %g", method, j, i, jac[i*3+j], want[i+j*2])
				}
			}
		}
	}
}

func TestNaNBound(t *testing.T) {

	x0 := []float64{1.0, 2.0}
	want := jacV2(x0)

	jac := make([]float64, 6)
	as := ApproxSpec{N: 2, M: 3, Method: Central, Object: total(objV2),
		Bounds: []Bound{{math.NaN(), math.NaN()}, {1, math.NaN()}}}
	if err := as.Diff(x0, jac); err != nil {
		t.Fatal(err)
	}
	if !relativeEqual(jac, want, 1e-6) {
		t.Fatalf("unexpected approx result %v", jac)
	}

	as.Bounds = []Bound{{2, math.NaN()}, {math.NaN(), math.NaN()}}
	if err := as.Diff(x0, jac); err == nil {
		t.Fatal("x0 below a lower bound must be rejected")
	}
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{"": Forward, "Forward": Forward, "central": Central, "3-point": Central} {
		if got, err := ParseMethod(in); err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMethod("complex"); err == nil {
		t.Error("ParseMethod(complex) succeeded")
	}
	if Central.String() != "central" {
		t.Errorf("Central.String() = %q", Central.String())
	}
}
