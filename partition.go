// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
)

// A Plan names a strategy for assigning visibilities to partitions.
type Plan int

const (
	// PlanNone keeps the input order.
	PlanNone Plan = iota
	// PlanEqual orders visibilities by the density of their uv cell, so
	// that sparsely and densely sampled regions land in different
	// partitions.
	PlanEqual
	// PlanRadial orders visibilities by their distance from the uv
	// origin.
	PlanRadial
	// PlanWTerm orders visibilities by w.
	PlanWTerm
)

var planNames = [...]string{"none", "equal", "radial", "w_term"}

// String returns the plan's name, as accepted by ParsePlan.
func (p Plan) String() string {
	if p < 0 || int(p) >= len(planNames) {
		return fmt.Sprintf("Plan(%d)", int(p))
	}
	return planNames[p]
}

// ParsePlan returns the plan with the provided name.
func ParsePlan(name string) (Plan, error) {
	for i, n := range planNames {
		if n == name {
			return Plan(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("distribution plan %q not recognized", name))
}

// Distribute assigns each visibility to one of n partitions. The
// visibilities are first put in an order determined by plan and then
// cut into consecutive chunks of ceil(len(u)/n) visibilities; the
// returned slice holds the partition of each visibility. GridSize is
// the side of the uv histogram used by PlanEqual; it is ignored by the
// other plans.
func Distribute(u, v, w []float64, n int, plan Plan, gridSize int) ([]int, error) {
	if len(v) != len(u) || len(w) != len(u) {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("distribute: mismatched coordinate lengths u=%d v=%d w=%d", len(u), len(v), len(w)))
	}
	if n < 1 {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("distribute: invalid partition count %d", n))
	}
	var index []int
	switch plan {
	case PlanNone:
		index = identity(len(u))
	case PlanEqual:
		if gridSize < 1 {
			return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("distribute: invalid grid size %d", gridSize))
		}
		index = EqualOrder(u, v, gridSize)
	case PlanRadial:
		index = RadialOrder(u, v)
	case PlanWTerm:
		index = WOrder(w)
	default:
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("distribute: %s not recognized", plan))
	}
	return chunk(index, n)
}

// chunk assigns the visibility index[i] to partition
// floor(i/ceil(len(index)/n)).
func chunk(index []int, n int) ([]int, error) {
	partitions := make([]int, len(index))
	if len(index) == 0 {
		return partitions, nil
	}
	size := (len(index) + n - 1) / n
	for i, j := range index {
		p := i / size
		if p >= n {
			return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("distribute: visibility %d assigned to partition %d of %d", j, p, n))
		}
		partitions[j] = p
	}
	return partitions, nil
}

func identity(n int) []int {
	index := make([]int, n)
	for i := range index {
		index[i] = i
	}
	return index
}

// EqualOrder returns the permutation of visibility indices sorted by
// the number of visibilities sharing their cell of a gridSize×gridSize
// histogram spanning the observed u and v ranges. Sparse cells come
// first. An axis with zero range places every visibility in cell 0.
func EqualOrder(u, v []float64, gridSize int) []int {
	var (
		scaledU = scaleToGrid(u, gridSize)
		scaledV = scaleToGrid(v, gridSize)
		density = make([]int, gridSize*gridSize)
	)
	for i := range scaledU {
		density[scaledU[i]*gridSize+scaledV[i]]++
	}
	index := identity(len(u))
	sort.SliceStable(index, func(i, j int) bool {
		a, b := index[i], index[j]
		return density[scaledU[a]*gridSize+scaledV[a]] < density[scaledU[b]*gridSize+scaledV[b]]
	})
	return index
}

// scaleToGrid maps each value of x to a cell in [0, gridSize).
func scaleToGrid(x []float64, gridSize int) []int {
	cells := make([]int, len(x))
	if len(x) == 0 {
		return cells
	}
	min, max := x[0], x[0]
	for _, f := range x[1:] {
		min = math.Min(min, f)
		max = math.Max(max, f)
	}
	if !(max > min) {
		return cells
	}
	scale := float64(gridSize-1) / (max - min)
	for i, f := range x {
		cells[i] = int(math.Floor((f - min) * scale))
	}
	return cells
}

// RadialOrder returns the permutation of visibility indices sorted by
// ascending sqrt(u²+v²).
func RadialOrder(u, v []float64) []int {
	radius := make([]float64, len(u))
	for i := range u {
		radius[i] = math.Hypot(u[i], v[i])
	}
	return orderBy(radius)
}

// WOrder returns the permutation of visibility indices sorted by
// ascending w.
func WOrder(w []float64) []int {
	return orderBy(w)
}

func orderBy(keys []float64) []int {
	index := identity(len(keys))
	sort.SliceStable(index, func(i, j int) bool {
		return keys[index[i]] < keys[index[j]]
	})
	return index
}
