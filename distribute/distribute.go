// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package distribute relocates visibility records from the root rank
// of a communication group to the ranks that own them. The root holds
// the full visibility set; after a distribution plan has labeled each
// visibility with its owner (see purify.Distribute), the root regroups
// the set so that each owner's records are contiguous and scatters
// the ranges. Every rank, the root included, ends up with its own
// shard together with the set's metadata.
//
// The protocol is a sequence of collective calls; every rank must
// take part. The root calls Root.RegroupAndScatter (or
// Root.ScatterVisibilities when the set is already grouped); all
// other ranks call Worker.Receive. RegroupAndScatter dispatches on the
// caller's role for code that runs the same function on every rank.
package distribute

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
)

// Root is the distributing side of the protocol.
type Root struct {
	c *comm.Comm
}

// Worker is the receiving side of the protocol.
type Worker struct {
	c *comm.Comm
}

// Roles returns the role of the calling rank: exactly one of the
// returned values is non-nil.
func Roles(c *comm.Comm) (*Root, *Worker) {
	if c.IsRoot() {
		return &Root{c}, nil
	}
	return nil, &Worker{c}
}

// AsRoot returns the root role of c. It fails if c is not the root.
func AsRoot(c *comm.Comm) (*Root, error) {
	if !c.IsRoot() {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("distribute: %v is not the root", c))
	}
	return &Root{c}, nil
}

// AsWorker returns the worker role of c. It fails if c is the root.
func AsWorker(c *comm.Comm) (*Worker, error) {
	if c.IsRoot() {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("distribute: %v is the root", c))
	}
	return &Worker{c}, nil
}

// RegroupAndScatter sends to each rank r the visibilities of set
// labeled r by groups and returns the root's own shard. The caller's
// set is not modified. In a group of size one the set is returned
// unchanged.
func (r *Root) RegroupAndScatter(ctx context.Context, set *purify.VisibilitySet, groups []int) (*purify.VisibilitySet, error) {
	if r.c.Size() == 1 {
		return set, nil
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if len(groups) != set.Len() {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("distribute: %d labels for %d visibilities", len(groups), set.Len()))
	}
	sizes, err := purify.Sizes(groups, r.c.Size())
	if err != nil {
		return nil, err
	}
	grouped := set.Copy()
	if err := purify.Regroup(grouped, groups, r.c.Size()); err != nil {
		return nil, err
	}
	return r.ScatterVisibilities(ctx, grouped, sizes)
}

// KMeansScatter partitions set into one w-stack per rank by k-means
// clustering of its w coordinates and scatters the stacks: rank r
// receives the visibilities of cluster r. It returns the root's own
// stack.
func (r *Root) KMeansScatter(ctx context.Context, set *purify.VisibilitySet, maxIter int, obs purify.Observer) (*purify.VisibilitySet, error) {
	if r.c.Size() == 1 {
		return set, nil
	}
	res, err := purify.KMeans(set.W, r.c.Size(), maxIter, obs)
	if err != nil {
		return nil, errors.E(err, "distribute: partition by w")
	}
	return r.RegroupAndScatter(ctx, set, res.Assignment)
}

// ScatterVisibilities sends the contiguous range of set of length
// sizes[r] (in rank order) to rank r and returns the root's own
// range. In a group of size one the set is returned unchanged.
func (r *Root) ScatterVisibilities(ctx context.Context, set *purify.VisibilitySet, sizes []int) (*purify.VisibilitySet, error) {
	if r.c.Size() == 1 {
		return set, nil
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if len(sizes) != r.c.Size() {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("distribute: %d sizes for group of %d", len(sizes), r.c.Size()))
	}
	fingerprints := make([]int, len(sizes))
	var off int
	for i, size := range sizes {
		if size < 0 || off+size > set.Len() {
			return nil, errors.E(errors.Invalid, errors.Fatal,
				fmt.Sprintf("distribute: sizes %v do not fit %d visibilities", sizes, set.Len()))
		}
		fingerprints[i] = int(set.Slice(off, off+size).Fingerprint())
		off += size
	}
	return exchange(ctx, r.c, set, sizes, fingerprints)
}

// Receive returns this rank's shard as sent by the root. It fails
// with an integrity error if the shard does not match the root's
// fingerprint.
func (w *Worker) Receive(ctx context.Context) (*purify.VisibilitySet, error) {
	return exchange(ctx, w.c, nil, nil, nil)
}

// exchange runs the collective sequence shared by the root and its
// workers. Arguments are ignored on workers.
func exchange(ctx context.Context, c *comm.Comm, set *purify.VisibilitySet, sizes, fingerprints []int) (*purify.VisibilitySet, error) {
	if set == nil {
		set = new(purify.VisibilitySet)
	}
	n, err := c.ScatterOne(ctx, sizes)
	if err != nil {
		return nil, errors.E(err, "distribute: scatter sizes")
	}
	var (
		local = new(purify.VisibilitySet)
		reals = []struct {
			name string
			src  []float64
			dst  *[]float64
		}{
			{"u", set.U, &local.U},
			{"v", set.V, &local.V},
			{"w", set.W, &local.W},
		}
		complexes = []struct {
			name string
			src  []complex128
			dst  *[]complex128
		}{
			{"vis", set.Vis, &local.Vis},
			{"weights", set.Weights, &local.Weights},
		}
	)
	for _, col := range reals {
		if *col.dst, err = c.ScattervReals(ctx, col.src, sizes); err != nil {
			return nil, errors.E(err, "distribute: scatter "+col.name)
		}
	}
	for _, col := range complexes {
		if *col.dst, err = c.ScattervComplex(ctx, col.src, sizes); err != nil {
			return nil, errors.E(err, "distribute: scatter "+col.name)
		}
	}
	meta, err := c.BroadcastReals(ctx, []float64{float64(set.Units), set.RA, set.Dec, set.AverageFrequency})
	if err != nil {
		return nil, errors.E(err, "distribute: broadcast metadata")
	}
	if len(meta) != 4 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("distribute: expected 4 metadata values, got %d", len(meta)))
	}
	local.Units = purify.Units(meta[0])
	local.RA, local.Dec, local.AverageFrequency = meta[1], meta[2], meta[3]
	fp, err := c.ScatterOne(ctx, fingerprints)
	if err != nil {
		return nil, errors.E(err, "distribute: scatter fingerprints")
	}
	if local.Len() != n {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("distribute: %v: expected %d visibilities, got %d", c, n, local.Len()))
	}
	if err := local.Validate(); err != nil {
		return nil, errors.E(errors.Integrity, err)
	}
	if got := int(local.Fingerprint()); got != fp {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("distribute: %v: shard fingerprint %x, root sent %x", c, uint64(got), uint64(fp)))
	}
	return local, nil
}

// RegroupAndScatter runs the distribution protocol on any rank. The
// root passes the full set and its labels, which are ignored on other
// ranks; every rank receives its own shard.
func RegroupAndScatter(ctx context.Context, c *comm.Comm, set *purify.VisibilitySet, groups []int) (*purify.VisibilitySet, error) {
	root, worker := Roles(c)
	if root != nil {
		return root.RegroupAndScatter(ctx, set, groups)
	}
	return worker.Receive(ctx)
}

// KMeansScatter runs the w-stack partition on any rank. The root
// passes the full set, which is ignored on other ranks.
func KMeansScatter(ctx context.Context, c *comm.Comm, set *purify.VisibilitySet, maxIter int, obs purify.Observer) (*purify.VisibilitySet, error) {
	root, worker := Roles(c)
	if root != nil {
		return root.KMeansScatter(ctx, set, maxIter, obs)
	}
	return worker.Receive(ctx)
}

// ScatterVisibilities is RegroupAndScatter for a set that is already
// grouped: the root sends sizes[r] consecutive visibilities to rank r.
func ScatterVisibilities(ctx context.Context, c *comm.Comm, set *purify.VisibilitySet, sizes []int) (*purify.VisibilitySet, error) {
	root, worker := Roles(c)
	if root != nil {
		return root.ScatterVisibilities(ctx, set, sizes)
	}
	return worker.Receive(ctx)
}

// AllGather is the inverse of the scatter: every rank receives the
// concatenation of all ranks' shards, in rank order. Metadata is taken
// from the root.
func AllGather(ctx context.Context, c *comm.Comm, local *purify.VisibilitySet) (*purify.VisibilitySet, error) {
	if c.Size() == 1 {
		return local, nil
	}
	if err := local.Validate(); err != nil {
		return nil, err
	}
	out := new(purify.VisibilitySet)
	var err error
	for _, col := range []struct {
		src []float64
		dst *[]float64
	}{{local.U, &out.U}, {local.V, &out.V}, {local.W, &out.W}} {
		if *col.dst, err = c.AllGatherReals(ctx, col.src); err != nil {
			return nil, errors.E(err, "distribute: all-gather")
		}
	}
	for _, col := range []struct {
		src []complex128
		dst *[]complex128
	}{{local.Vis, &out.Vis}, {local.Weights, &out.Weights}} {
		if *col.dst, err = c.AllGatherComplex(ctx, col.src); err != nil {
			return nil, errors.E(err, "distribute: all-gather")
		}
	}
	meta, err := c.BroadcastReals(ctx, []float64{float64(local.Units), local.RA, local.Dec, local.AverageFrequency})
	if err != nil {
		return nil, errors.E(err, "distribute: broadcast metadata")
	}
	out.Units = purify.Units(meta[0])
	out.RA, out.Dec, out.AverageFrequency = meta[1], meta[2], meta[3]
	return out, out.Validate()
}
