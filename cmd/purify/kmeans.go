// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/visconfig"
)

func kmeans(config *visconfig.Config, args []string) error {
	var (
		flags = flag.NewFlagSet("kmeans", flag.ExitOnError)
		nvis  = flags.Int("nvis", 1e5, "number of visibilities")
		maxW  = flags.Float64("w", 1e3, "largest w-term, in wavelengths")
		k     = flags.Int("k", 0, "number of w-stacks; defaults to the configured number")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: purify kmeans [-nvis N] [-w W] [-k K]`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}
	if *k == 0 {
		*k = config.WStacks
	}

	ctx := context.Background()
	comms, shutdown, err := config.Group(ctx)
	if err != nil {
		return err
	}
	defer shutdown()
	return comm.Run(ctx, comms, func(ctx context.Context, c *comm.Comm) error {
		local, err := scatter(ctx, config, c, *nvis, 1, *maxW)
		if err != nil {
			return err
		}
		var obs purify.Observer = purify.NopObserver
		if c.IsRoot() {
			obs = purify.LogObserver
		}
		result, err := purify.KMeansGroup(ctx, c, local.W, *k, config.KMeansIterations, obs)
		if err != nil {
			return err
		}
		counts := make([]float64, len(result.Centers))
		for _, a := range result.Assignment {
			counts[a]++
		}
		if counts, err = c.AllReduceReals(ctx, counts, comm.Sum); err != nil {
			return err
		}
		if c.IsRoot() {
			log.Printf("converged=%v after %d iterations", result.Converged, result.Iterations)
			for i, center := range result.Centers {
				log.Printf("stack %d: center %g, %d visibilities", i, center, int(counts[i]))
			}
		}
		return nil
	})
}
