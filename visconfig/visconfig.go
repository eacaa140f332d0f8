// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package visconfig configures distributed measurement operators
// from a shared configuration. Visconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, registering
// the instance "purify", and reads a default profile from
// $HOME/.purify/config.
package visconfig

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/kernels"
	"github.com/grailbio/purify/operator"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
)

// Path determines the location of the profile read by Parse.
var Path = os.ExpandEnv("$HOME/.purify/config")

// Config is a configured imaging setup.
type Config struct {
	// Params holds the operator parameters.
	Params operator.Params
	// Plan is the visibility distribution plan.
	Plan purify.Plan
	// GridSize is the side of the uv histogram used by purify.PlanEqual.
	GridSize int
	// Ranks is the size of the communication group.
	Ranks int
	// WStacks is the number of k-means w-stacks. Zero disables
	// w-stacking; one corrects the mean w in the image domain.
	WStacks int
	// KMeansPartition partitions visibilities into one k-means
	// w-stack per rank in place of Plan. Each rank corrects the mean
	// w of its own stack.
	KMeansPartition bool
	// KMeansIterations bounds the k-means iterations.
	KMeansIterations int
	// System, if set, runs ranks on bigmachines of this system.
	// Otherwise ranks run in process.
	System bigmachine.System
}

func init() {
	config.Register("purify", func(constr *config.Constructor) {
		var (
			c                = new(Config)
			imsizey, imsizex int
			kernel, plan     string
			p                = operator.DefaultParams(0, 0)
		)
		constr.IntVar(&imsizey, "imsizey", 256, "image height in pixels")
		constr.IntVar(&imsizex, "imsizex", 256, "image width in pixels")
		constr.FloatVar(&p.Oversample, "oversample", p.Oversample, "Fourier grid oversampling factor")
		constr.StringVar(&kernel, "kernel", p.Kernel.String(), "gridding kernel: kb, kb_interp or gauss")
		constr.IntVar(&p.Ju, "Ju", p.Ju, "kernel support along u, in grid pixels")
		constr.IntVar(&p.Jv, "Jv", p.Jv, "kernel support along v, in grid pixels")
		constr.IntVar(&p.Jw, "Jw", 0, "w-projection kernel support, in grid pixels; 0 disables w-projection")
		constr.FloatVar(&p.CellX, "cellx", 0, "pixel width in arcseconds; 0 derives it from the longest baseline")
		constr.FloatVar(&p.CellY, "celly", 0, "pixel height in arcseconds; 0 derives it from the longest baseline")
		constr.FloatVar(&p.AbsoluteError, "absolute-error", p.AbsoluteError, "w-projection kernel absolute truncation threshold")
		constr.FloatVar(&p.RelativeError, "relative-error", p.RelativeError, "w-projection kernel relative truncation threshold")
		constr.StringVar(&plan, "plan", purify.PlanEqual.String(), "visibility distribution plan: none, equal, radial or w_term")
		constr.IntVar(&c.GridSize, "gridsize", 100, "uv histogram size of the equal plan")
		constr.IntVar(&c.Ranks, "ranks", 4, "number of ranks")
		constr.IntVar(&c.WStacks, "wstacks", 0, "number of k-means w-stacks")
		constr.BoolVar(&c.KMeansPartition, "kmeans-partition", false, "partition visibilities into one k-means w-stack per rank")
		constr.IntVar(&c.KMeansIterations, "kmeans-iters", 100, "maximum number of k-means iterations")
		constr.InstanceVar(&c.System, "system", "", "the bigmachine system used to run ranks; empty runs them in process")
		constr.Doc = "purify configures distributed radio-interferometric measurement operators"
		constr.New = func() (interface{}, error) {
			var err error
			p.ImSizeY, p.ImSizeX = imsizey, imsizex
			if p.Kernel, err = kernels.ParseKind(kernel); err != nil {
				return nil, err
			}
			if c.Plan, err = purify.ParsePlan(plan); err != nil {
				return nil, err
			}
			p.WStacking = c.WStacks > 0 || c.KMeansPartition
			c.Params = p
			if err := c.Validate(); err != nil {
				return nil, err
			}
			return c, nil
		}
	})
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Params.ImSizeY < 1 || c.Params.ImSizeX < 1 {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("visconfig: invalid image size %dx%d", c.Params.ImSizeY, c.Params.ImSizeX))
	}
	if c.Ranks < 1 {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("visconfig: invalid number of ranks %d", c.Ranks))
	}
	if c.WStacks < 0 || c.KMeansIterations < 0 {
		return errors.E(errors.Invalid, errors.Fatal, "visconfig: negative w-stacking parameters")
	}
	if c.KMeansPartition && c.WStacks > 1 {
		return errors.E(errors.Invalid, errors.Fatal, "visconfig: k-means partitioning corrects one w-stack per rank")
	}
	if c.Plan == purify.PlanEqual && c.GridSize < 1 {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("visconfig: invalid grid size %d", c.GridSize))
	}
	return nil
}

// Parse registers configuration flags and calls flag.Parse. It reads
// the profile from Path and returns the configuration given by the
// profile and any flags provided. Parse panics if the configuration
// is invalid.
func Parse() *Config {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	var c *Config
	config.Must("purify", &c)
	return c
}

// Group starts the communication group of the configuration. With a
// bigmachine system each rank is a machine; otherwise ranks are
// in-process. The returned function releases the group's resources.
func (c *Config) Group(ctx context.Context) ([]*comm.Comm, func(), error) {
	if c.System == nil {
		return comm.Local(c.Ranks), func() {}, nil
	}
	b := bigmachine.Start(c.System)
	comms, err := comm.StartBigmachine(ctx, b, c.Ranks)
	if err != nil {
		b.Shutdown()
		return nil, nil, err
	}
	return comms, b.Shutdown, nil
}
