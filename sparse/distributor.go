// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sparse

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify/comm"
)

// A Distributor moves grid vectors between the root rank, which holds
// the full grid, and ranks that each touch a subset of grid cells.
// Each rank's subset is given by the ascending grid indices it passed
// to NewDistributor; the rank works with compressed vectors holding
// only those cells.
type Distributor struct {
	c        *comm.Comm
	gridSize int
	columns  []int
	// all holds every rank's columns; set only on the root.
	all [][]int
}

// NewDistributor registers this rank's grid cells with the root. It
// is a collective call.
func NewDistributor(ctx context.Context, c *comm.Comm, columns []int, gridSize int) (*Distributor, error) {
	for k, j := range columns {
		if j < 0 || j >= gridSize || (k > 0 && columns[k-1] >= j) {
			return nil, errors.E(errors.Invalid, errors.Fatal,
				fmt.Sprintf("sparse: columns must be ascending indices in [0, %d)", gridSize))
		}
	}
	all, err := c.GatherInts(ctx, columns)
	if err != nil {
		return nil, errors.E(err, "sparse: gather columns")
	}
	return &Distributor{c: c, gridSize: gridSize, columns: columns, all: all}, nil
}

// Columns returns the grid indices owned by this rank.
func (d *Distributor) Columns() []int { return d.columns }

// Scatter sends each rank the entries of the root's grid at that
// rank's columns and returns this rank's compressed vector. The grid
// is ignored on non-root ranks.
func (d *Distributor) Scatter(ctx context.Context, grid []complex128) ([]complex128, error) {
	var parts [][]complex128
	if d.c.IsRoot() {
		if len(grid) != d.gridSize {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("sparse: scatter of grid of length %d, expected %d", len(grid), d.gridSize))
		}
		parts = make([][]complex128, len(d.all))
		for rank, cols := range d.all {
			part := make([]complex128, len(cols))
			for k, j := range cols {
				part[k] = grid[j]
			}
			parts[rank] = part
		}
	}
	local, err := d.c.ScatterComplexParts(ctx, parts)
	if err != nil {
		return nil, errors.E(err, "sparse: scatter")
	}
	if len(local) != len(d.columns) {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("sparse: received %d grid entries for %d columns", len(local), len(d.columns)))
	}
	return local, nil
}

// Gather sums every rank's compressed vector into a full grid on the
// root. Non-root ranks receive nil.
func (d *Distributor) Gather(ctx context.Context, local []complex128) ([]complex128, error) {
	if len(local) != len(d.columns) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("sparse: gather of %d entries for %d columns", len(local), len(d.columns)))
	}
	parts, err := d.c.GatherComplex(ctx, local)
	if err != nil {
		return nil, errors.E(err, "sparse: gather")
	}
	if !d.c.IsRoot() {
		return nil, nil
	}
	grid := make([]complex128, d.gridSize)
	for rank, part := range parts {
		cols := d.all[rank]
		if len(part) != len(cols) {
			return nil, errors.E(errors.Integrity,
				fmt.Sprintf("sparse: rank %d sent %d entries for %d columns", rank, len(part), len(cols)))
		}
		for k, j := range cols {
			grid[j] += part[k]
		}
	}
	return grid, nil
}
