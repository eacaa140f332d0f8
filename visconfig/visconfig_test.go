// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package visconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/kernels"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func instance(t *testing.T, settings map[string]string) (*Config, error) {
	t.Helper()
	profile := config.New()
	for k, v := range settings {
		if err := profile.Set("purify."+k, v); err != nil {
			t.Fatal(err)
		}
	}
	var c *Config
	err := profile.Instance("purify", &c)
	return c, err
}

func TestDefaults(t *testing.T) {
	c, err := instance(t, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Params.ImSizeY, 256; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.Params.Kernel, kernels.KaiserBessel; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.Plan, purify.PlanEqual; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if c.Params.WStacking {
		t.Error("w-stacking enabled by default")
	}
	if c.System != nil {
		t.Errorf("unexpected system %v", c.System)
	}
}

func TestSettings(t *testing.T) {
	c, err := instance(t, map[string]string{
		"imsizex": "64",
		"kernel":  "gauss",
		"plan":    "w_term",
		"ranks":   "3",
		"wstacks": "2",
	})
	if err != nil {
		t.Fatal(err)
	}
	expect.EQ(t, c.Params.ImSizeX, 64)
	expect.EQ(t, c.Params.Kernel, kernels.Gaussian)
	expect.EQ(t, c.Plan, purify.PlanWTerm)
	expect.EQ(t, c.Params.WStacking, true)
	comms, shutdown, err := c.Group(context.Background())
	assert.NoError(t, err)
	defer shutdown()
	assert.EQ(t, len(comms), 3)
	err = comm.Run(context.Background(), comms, func(ctx context.Context, c *comm.Comm) error {
		sum, err := c.AllReduceFloat(ctx, 1, comm.Sum)
		if err == nil && sum != 3 {
			t.Errorf("rank %d: got %v, want 3", c.Rank(), sum)
		}
		return err
	})
	assert.NoError(t, err)
}

func TestProfile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "config")
	assert.NoError(t, os.WriteFile(path, []byte(`
param purify (
	imsizey = 128
	plan = "radial"
	celly = 0.5
)
`), 0644))
	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()
	profile := config.New()
	assert.NoError(t, profile.Parse(f))
	var c *Config
	assert.NoError(t, profile.Instance("purify", &c))
	expect.EQ(t, c.Params.ImSizeY, 128)
	expect.EQ(t, c.Params.ImSizeX, 256)
	expect.EQ(t, c.Params.CellY, 0.5)
	expect.EQ(t, c.Plan, purify.PlanRadial)
}

func TestKMeansPartition(t *testing.T) {
	c, err := instance(t, map[string]string{"kmeans-partition": "true", "ranks": "3"})
	assert.NoError(t, err)
	expect.True(t, c.KMeansPartition)
	expect.True(t, c.Params.WStacking)
	expect.EQ(t, c.WStacks, 0)
}

func TestInvalid(t *testing.T) {
	for _, settings := range []map[string]string{
		{"kernel": "box"},
		{"plan": "spiral"},
		{"ranks": "0"},
		{"imsizey": "0"},
		{"kmeans-partition": "true", "wstacks": "3"},
	} {
		if _, err := instance(t, settings); err == nil {
			t.Errorf("%v: expected error", settings)
		}
	}
	c := &Config{Ranks: 1, Plan: purify.PlanNone}
	if err := c.Validate(); !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error %v", err)
	}
}
