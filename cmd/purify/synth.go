// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"math"
	"math/rand"

	"github.com/grailbio/base/log"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/distribute"
	"github.com/grailbio/purify/visconfig"
)

// synthesize returns n visibilities of unit weight, with baselines
// uniform in a disk of radius maxBaseline wavelengths and w uniform
// in [-maxW, maxW].
func synthesize(n int, maxBaseline, maxW float64, seed int64) *purify.VisibilitySet {
	var (
		r   = rand.New(rand.NewSource(seed))
		set = &purify.VisibilitySet{
			U:       make([]float64, n),
			V:       make([]float64, n),
			W:       make([]float64, n),
			Vis:     make([]complex128, n),
			Weights: make([]complex128, n),
			Units:   purify.Lambda,
		}
	)
	for i := 0; i < n; i++ {
		radius := maxBaseline * math.Sqrt(r.Float64())
		theta := 2 * math.Pi * r.Float64()
		set.U[i] = radius * math.Cos(theta)
		set.V[i] = radius * math.Sin(theta)
		set.W[i] = maxW * (2*r.Float64() - 1)
		set.Vis[i] = complex(r.NormFloat64(), r.NormFloat64())
		set.Weights[i] = 1
	}
	return set
}

// scatter synthesizes visibilities on the root of c, labels them by
// the configured plan, and scatters them across the group. With
// k-means partitioning each rank instead receives one w-stack. It
// returns the rank's share.
func scatter(ctx context.Context, config *visconfig.Config, c *comm.Comm, n int, maxBaseline, maxW float64) (*purify.VisibilitySet, error) {
	var (
		set    *purify.VisibilitySet
		groups []int
	)
	if c.IsRoot() {
		set = synthesize(n, maxBaseline, maxW, 1)
	}
	if config.KMeansPartition {
		var obs purify.Observer
		if c.IsRoot() {
			log.Printf("synthesized %d visibilities, partitioned into %d w-stacks", n, c.Size())
			obs = purify.LogObserver
		}
		return distribute.KMeansScatter(ctx, c, set, config.KMeansIterations, obs)
	}
	if c.IsRoot() {
		var err error
		groups, err = purify.Distribute(set.U, set.V, set.W, c.Size(), config.Plan, config.GridSize)
		if err != nil {
			return nil, err
		}
		log.Printf("synthesized %d visibilities, distributed by plan %s", n, config.Plan)
	}
	return distribute.RegroupAndScatter(ctx, c, set, groups)
}
