// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
)

func checkRegrouped(t *testing.T, orig, set *VisibilitySet, groups []int, n int) {
	t.Helper()
	sizes, err := Sizes(groups, n)
	if err != nil {
		t.Fatal(err)
	}
	var (
		start int
		seen  = make([]bool, orig.Len())
	)
	for b, size := range sizes {
		for p := start; p < start+size; p++ {
			id := int(real(set.Vis[p]))
			if seen[id] {
				t.Fatalf("record %d appears twice", id)
			}
			seen[id] = true
			if got, want := groups[id], b; got != want {
				t.Errorf("position %d: record %d of partition %d found in partition %d", p, id, got, want)
			}
			if set.U[p] != orig.U[id] || set.V[p] != orig.V[id] || set.W[p] != orig.W[id] ||
				set.Vis[p] != orig.Vis[id] || set.Weights[p] != orig.Weights[id] {
				t.Errorf("position %d: record %d was not moved as a whole", p, id)
			}
		}
		start += size
	}
}

func TestRegroup(t *testing.T) {
	const (
		N = 1000
		W = 5
	)
	r := rand.New(rand.NewSource(N))
	set := testSet(r, N)
	orig := set.Copy()
	groups := make([]int, N)
	for i := range groups {
		groups[i] = r.Intn(W)
	}
	labels := append([]int(nil), groups...)
	if err := Regroup(set, groups, W); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(groups, labels) {
		t.Error("regroup modified its labels")
	}
	checkRegrouped(t, orig, set, groups, W)
}

func TestRegroupDistribute(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, plan := range allPlans {
		set := testSet(r, 333)
		orig := set.Copy()
		groups, err := Distribute(set.U, set.V, set.W, 4, plan, 16)
		if err != nil {
			t.Fatal(err)
		}
		if err := Regroup(set, groups, 4); err != nil {
			t.Fatal(err)
		}
		checkRegrouped(t, orig, set, groups, 4)
	}
}

func TestRegroupEmptyPartition(t *testing.T) {
	set := testSet(rand.New(rand.NewSource(1)), 6)
	orig := set.Copy()
	groups := []int{2, 0, 2, 0, 2, 0}
	if err := Regroup(set, groups, 3); err != nil {
		t.Fatal(err)
	}
	checkRegrouped(t, orig, set, groups, 3)
	sizes, err := Sizes(groups, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sizes, []int{3, 0, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRegroupInvalid(t *testing.T) {
	set := testSet(rand.New(rand.NewSource(1)), 4)
	fp := set.Fingerprint()
	for _, groups := range [][]int{
		{0, 1, 3, 0},
		{0, -1, 1, 0},
		{0, 1, 0},
	} {
		if err := Regroup(set, groups, 3); !errors.Is(errors.Invalid, err) {
			t.Errorf("groups %v: expected invalid error, got %v", groups, err)
		}
		if set.Fingerprint() != fp {
			t.Errorf("groups %v: set modified by failed regroup", groups)
		}
	}
}
