// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package kernels

import (
	"math"
	"testing"

	"github.com/grailbio/base/errors"
)

func TestBesselI0(t *testing.T) {
	for _, c := range []struct{ x, want float64 }{
		{0, 1},
		{1, 1.2660658777520082},
		{5, 27.239871823604442},
		{-2, 2.2795853023360673},
	} {
		if got := BesselI0(c.x); math.Abs(got-c.want) > 1e-12*c.want {
			t.Errorf("I0(%v): got %v, want %v", c.x, got, c.want)
		}
	}
}

func TestKernels(t *testing.T) {
	for _, j := range []int{2, 4, 7} {
		for _, k := range []func(float64, int) float64{KB, Gauss} {
			if got, want := k(0, j), 1.0; got != want {
				t.Errorf("J=%d: got %v, want %v", j, got, want)
			}
			if got := k(float64(j)/2+1e-9, j); got != 0 {
				t.Errorf("J=%d: nonzero outside support: %v", j, got)
			}
			for _, x := range []float64{0.1, 0.7, 0.99} {
				if k(x, j) != k(-x, j) {
					t.Errorf("J=%d: kernel not symmetric at %v", j, x)
				}
				if k(x, j) > k(x/2, j) {
					t.Errorf("J=%d: kernel not decreasing at %v", j, x)
				}
			}
		}
		for _, ft := range []func(float64, int) float64{FTKB, FTGauss} {
			if got, want := ft(0, j), 1.0; math.Abs(got-want) > 1e-15 {
				t.Errorf("J=%d: got %v, want %v", j, got, want)
			}
			if ft(0.25, j) != ft(-0.25, j) {
				t.Errorf("J=%d: transform not symmetric", j)
			}
			if v := ft(0.25, j); !(v > 0 && v < 1) {
				t.Errorf("J=%d: transform at quarter band %v", j, v)
			}
		}
	}
}

func TestTabulate(t *testing.T) {
	f := Tabulate(func(x float64) float64 { return KB(x, 4) }, 4, 4*tableSize)
	for x := -2.0; x <= 2; x += 0.01 {
		if got, want := f(x), KB(x, 4); math.Abs(got-want) > 1e-5 {
			t.Errorf("%v: got %v, want %v", x, got, want)
		}
	}
	if got := f(2.5); got != 0 {
		t.Errorf("nonzero outside support: %v", got)
	}
}

func TestCreate(t *testing.T) {
	for _, kind := range []Kind{KaiserBessel, KaiserBesselInterp, Gaussian} {
		k, err := ParseKind(kind.String())
		if err != nil {
			t.Fatal(err)
		}
		set, err := Create(k, 4, 6, 32, 64, 2)
		if err != nil {
			t.Fatal(err)
		}
		// The center of the oversampled grid is zero frequency.
		if got := set.FTU(64); math.Abs(got-1) > 1e-12 {
			t.Errorf("%v: FTU at center: got %v", kind, got)
		}
		if got := set.FTV(32); math.Abs(got-1) > 1e-12 {
			t.Errorf("%v: FTV at center: got %v", kind, got)
		}
		if got := set.U(2.5); got != 0 {
			t.Errorf("%v: U nonzero outside support: %v", kind, got)
		}
		if got := set.V(2.5); got == 0 {
			t.Errorf("%v: V zero inside support", kind)
		}
	}
	if _, err := ParseKind("box"); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := Create(KaiserBessel, 0, 4, 32, 32, 2); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := Create(Gaussian, 4, 4, 32, 32, 0.5); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}
