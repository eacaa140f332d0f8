// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/metrics"
	"github.com/grailbio/purify/operator"
	"github.com/grailbio/purify/visconfig"
)

func degrid(config *visconfig.Config, args []string) error {
	var (
		flags       = flag.NewFlagSet("degrid", flag.ExitOnError)
		nvis        = flags.Int("nvis", 1e5, "number of visibilities")
		maxBaseline = flags.Float64("baseline", 1e4, "longest baseline, in wavelengths")
		maxW        = flags.Float64("w", 0, "largest w-term, in wavelengths")
		grid        = flags.String("grid", "allsum", "operator distribution: allsum or distributed")
		niter       = flags.Int("niter", 10, "number of timed applications")
		powerIters  = flags.Int("power-iters", 100, "maximum number of power iterations")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: purify degrid [-nvis N] [-baseline B] [-w W] [-grid allsum|distributed] [-niter N] [-power-iters N]`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	comms, shutdown, err := config.Group(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	var (
		mu               sync.Mutex
		total            = new(metrics.Scope)
		forward, adjoint timings
	)
	err = comm.Run(ctx, comms, func(ctx context.Context, c *comm.Comm) error {
		scope := new(metrics.Scope)
		ctx = metrics.ScopedContext(ctx, scope)
		local, err := scatter(ctx, config, c, *nvis, *maxBaseline, *maxW)
		if err != nil {
			return err
		}
		p := config.Params
		if c.IsRoot() {
			p.Observer = purify.LogObserver
		}
		lt, norm, err := normalised(ctx, config, c, local, p, *grid, *powerIters)
		if err != nil {
			return err
		}
		if c.IsRoot() {
			log.Printf("operator norm %g over %d visibilities", norm, *nvis)
		}
		var fwd, adj timings
		x := make([]complex128, lt.Image.Size)
		x[(p.ImSizeY/2)*p.ImSizeX+p.ImSizeX/2] = 1
		for i := 0; i < *niter; i++ {
			start := time.Now()
			y, err := lt.Apply(ctx, x)
			if err != nil {
				return err
			}
			fwd = append(fwd, time.Since(start))
			start = time.Now()
			if x, err = lt.ApplyAdjoint(ctx, y); err != nil {
				return err
			}
			adj = append(adj, time.Since(start))
		}
		mu.Lock()
		total.Merge(scope)
		if c.IsRoot() {
			forward, adjoint = fwd, adj
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("forward: %v", forward)
	log.Printf("adjoint: %v", adjoint)
	log.Printf("metrics: %v", total)
	return nil
}

// normalised builds the operator selected by grid, estimates its norm
// by power iteration, and rebuilds it divided by that norm. It
// returns the rebuilt operator and the estimated norm of the first.
func normalised(ctx context.Context, config *visconfig.Config, c *comm.Comm, local *purify.VisibilitySet, p operator.Params, grid string, iters int) (*operator.LinearTransform, float64, error) {
	lt, err := build(ctx, config, c, local, p, grid)
	if err != nil {
		return nil, 0, err
	}
	norm, err := operator.PowerMethod(ctx, lt, iters, 1e-4)
	if err != nil {
		return nil, 0, err
	}
	if !(norm > 0) {
		return nil, 0, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("degrid: operator norm %g is not positive", norm))
	}
	p.OperatorNorm *= norm
	if lt, err = build(ctx, config, c, local, p, grid); err != nil {
		return nil, 0, err
	}
	return lt, norm, nil
}

// build returns the degridding operator selected by grid.
func build(ctx context.Context, config *visconfig.Config, c *comm.Comm, local *purify.VisibilitySet, p operator.Params, grid string) (*operator.LinearTransform, error) {
	switch grid {
	case "allsum":
		if config.WStacks < 2 {
			return operator.NewAllSumDegrid(ctx, c, local, p)
		}
		result, err := purify.KMeansGroup(ctx, c, local.W, config.WStacks, config.KMeansIterations, p.Observer)
		if err != nil {
			return nil, err
		}
		return operator.NewAllSumWStacking(ctx, c, local, result.Centers, result.Assignment, p)
	case "distributed":
		return operator.NewDistributedGridDegrid(ctx, c, local, p)
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unknown operator distribution %q", grid))
	}
}
