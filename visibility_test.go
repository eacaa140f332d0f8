// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
)

// testSet returns a set of n visibilities whose Vis values identify
// their original position.
func testSet(r *rand.Rand, n int) *VisibilitySet {
	s := &VisibilitySet{
		U:                make([]float64, n),
		V:                make([]float64, n),
		W:                make([]float64, n),
		Vis:              make([]complex128, n),
		Weights:          make([]complex128, n),
		Units:            Lambda,
		RA:               15,
		Dec:              -30,
		AverageFrequency: 150,
	}
	for i := 0; i < n; i++ {
		s.U[i] = r.NormFloat64() * 1000
		s.V[i] = r.NormFloat64() * 1000
		s.W[i] = r.Float64() * 100
		s.Vis[i] = complex(float64(i), r.Float64())
		s.Weights[i] = complex(r.Float64(), 0)
	}
	return s
}

func TestVisibilityValidate(t *testing.T) {
	s := testSet(rand.New(rand.NewSource(1)), 10)
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	s.Weights = s.Weights[:9]
	if err := s.Validate(); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestVisibilitySwap(t *testing.T) {
	s := testSet(rand.New(rand.NewSource(2)), 5)
	orig := s.Copy()
	s.Swap(1, 3)
	for _, pair := range [][2]int{{1, 3}, {3, 1}} {
		i, j := pair[0], pair[1]
		if s.U[i] != orig.U[j] || s.V[i] != orig.V[j] || s.W[i] != orig.W[j] ||
			s.Vis[i] != orig.Vis[j] || s.Weights[i] != orig.Weights[j] {
			t.Errorf("record %d was not swapped with %d", i, j)
		}
	}
	if s.Fingerprint() == orig.Fingerprint() {
		t.Error("fingerprint did not change after swap")
	}
	s.Swap(1, 3)
	if !reflect.DeepEqual(s, orig) {
		t.Error("double swap is not the identity")
	}
	if s.Fingerprint() != orig.Fingerprint() {
		t.Error("equal sets have different fingerprints")
	}
}

func TestVisibilitySliceConcat(t *testing.T) {
	s := testSet(rand.New(rand.NewSource(3)), 10)
	a, b, c := s.Slice(0, 4), s.Slice(4, 7), s.Slice(7, 10)
	if got, want := a.Len()+b.Len()+c.Len(), s.Len(); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	cat, err := Concat(a, b, c)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cat, s) {
		t.Error("concatenation of slices differs from the original set")
	}
	b.U[0] = -1
	if s.U[4] != -1 {
		t.Error("slice does not share storage")
	}
	if cat.U[4] == -1 {
		t.Error("concatenation shares storage")
	}
	if _, err := Concat(a, &VisibilitySet{U: []float64{1}}); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestParseUnits(t *testing.T) {
	for _, u := range []Units{Lambda, Radians, Pixels} {
		got, err := ParseUnits(u.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != u {
			t.Errorf("got %v, want %v", got, u)
		}
	}
	if _, err := ParseUnits("furlongs"); err == nil {
		t.Error("expected error")
	}
}
