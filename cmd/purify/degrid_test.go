// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/operator"
	"github.com/grailbio/purify/visconfig"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testConfig(ranks int) *visconfig.Config {
	p := operator.DefaultParams(16, 16)
	p.CellX, p.CellY = 30, 30
	return &visconfig.Config{
		Params:           p,
		Plan:             purify.PlanRadial,
		Ranks:            ranks,
		KMeansIterations: 100,
	}
}

func TestKMeansPartitionDegrid(t *testing.T) {
	const ranks = 3
	config := testConfig(ranks)
	config.KMeansPartition = true
	config.Params.WStacking = true
	config.Params.Jw = 4
	x := make([]complex128, 256)
	x[8*16+8] = 1
	err := comm.Run(context.Background(), comm.Local(ranks), func(ctx context.Context, c *comm.Comm) error {
		local, err := scatter(ctx, config, c, 90, 1000, 200)
		if err != nil {
			return err
		}
		lt, err := build(ctx, config, c, local, config.Params, "allsum")
		if err != nil {
			return err
		}
		got, err := lt.Forward(ctx, x)
		if err != nil {
			return err
		}
		serial, err := operator.NewDegrid(local, config.Params)
		if err != nil {
			return err
		}
		want, err := serial.Apply(ctx, x)
		if err != nil {
			return err
		}
		if len(got) != len(want) {
			t.Errorf("rank %d: got %d visibilities, want %d", c.Rank(), len(got), len(want))
			return nil
		}
		for i := range got {
			if cmplx.Abs(got[i]-want[i]) > 1e-9*(cmplx.Abs(want[i])+1) {
				t.Errorf("rank %d: visibility %d: got %v, want %v", c.Rank(), i, got[i], want[i])
			}
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestNormalised(t *testing.T) {
	const ranks = 2
	config := testConfig(ranks)
	norms := make([]float64, ranks)
	err := comm.Run(context.Background(), comm.Local(ranks), func(ctx context.Context, c *comm.Comm) error {
		local, err := scatter(ctx, config, c, 60, 1000, 0)
		if err != nil {
			return err
		}
		lt, norm, err := normalised(ctx, config, c, local, config.Params, "allsum", 200)
		if err != nil {
			return err
		}
		if !(norm > 0) {
			t.Errorf("rank %d: norm %v", c.Rank(), norm)
		}
		norms[c.Rank()], err = operator.PowerMethod(ctx, lt, 200, 1e-6)
		return err
	})
	assert.NoError(t, err)
	for rank, norm := range norms {
		expect.True(t, math.Abs(norm-1) < 1e-2, "rank %d: normalised operator has norm %v", rank, norm)
	}
}
