// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify/comm"
)

// ArcsecToRadians converts an angle in arcseconds to radians.
const ArcsecToRadians = math.Pi / (180 * 3600)

// SetCellSize returns a copy of set with U and V converted from
// wavelengths to radians for an image with the provided pixel sizes,
// in arcseconds. A zero cell size is derived from the data so that the
// longest baseline along that axis lands at a third of the sampled
// band: cell = 1/(3·max|u|) radians. W is left in wavelengths.
func SetCellSize(set *VisibilitySet, cellx, celly float64) (*VisibilitySet, error) {
	return setCellSize(set, cellx, celly, maxAbs(set.U), maxAbs(set.V))
}

// SetCellSizeGroup is SetCellSize for a set spread across the ranks of
// c: the longest baselines used to derive zero cell sizes are taken
// over the whole group. It is a collective call.
func SetCellSizeGroup(ctx context.Context, c *comm.Comm, set *VisibilitySet, cellx, celly float64) (*VisibilitySet, error) {
	max, err := c.AllReduceReals(ctx, []float64{maxAbs(set.U), maxAbs(set.V)}, comm.Max)
	if err != nil {
		return nil, errors.E(err, "set cell size")
	}
	return setCellSize(set, cellx, celly, max[0], max[1])
}

func setCellSize(set *VisibilitySet, cellx, celly, maxU, maxV float64) (*VisibilitySet, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if set.Units != Lambda {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("set cell size: expected lambda units, got %s", set.Units))
	}
	if cellx < 0 || celly < 0 {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("set cell size: negative cell size %gx%g", cellx, celly))
	}
	radx, err := cellRadians(cellx, maxU)
	if err != nil {
		return nil, err
	}
	rady, err := cellRadians(celly, maxV)
	if err != nil {
		return nil, err
	}
	out := set.Copy()
	for i := range out.U {
		out.U[i] *= 2 * math.Pi * radx
		out.V[i] *= 2 * math.Pi * rady
	}
	out.Units = Radians
	return out, nil
}

func cellRadians(cell, maxBaseline float64) (float64, error) {
	if cell > 0 {
		return cell * ArcsecToRadians, nil
	}
	if !(maxBaseline > 0) {
		return 0, errors.E(errors.Invalid, errors.Fatal, "set cell size: cannot derive a cell size from zero baselines")
	}
	return 1 / (3 * maxBaseline), nil
}

// DefaultCellSize returns the cell size, in arcseconds, that
// SetCellSize derives for a zero argument along an axis whose longest
// baseline is maxBaseline wavelengths.
func DefaultCellSize(maxBaseline float64) float64 {
	return 1 / (3 * maxBaseline) / ArcsecToRadians
}

// UVScale returns a copy of set with U and V converted from radians to
// pixels of a sizey×sizex Fourier grid.
func UVScale(set *VisibilitySet, sizey, sizex int) (*VisibilitySet, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if set.Units != Radians {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("uv scale: expected radians, got %s", set.Units))
	}
	out := set.Copy()
	for i := range out.U {
		out.U[i] = out.U[i] / (2 * math.Pi) * float64(sizex)
		out.V[i] = out.V[i] / (2 * math.Pi) * float64(sizey)
	}
	out.Units = Pixels
	return out, nil
}

func maxAbs(x []float64) float64 {
	var max float64
	for _, f := range x {
		max = math.Max(max, math.Abs(f))
	}
	return max
}
