// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/purify/comm"
)

func TestBigmachineGroup(t *testing.T) {
	b := bigmachine.Start(testsystem.New())
	defer b.Shutdown()
	ctx := context.Background()
	comms, err := comm.StartBigmachine(ctx, b, 3)
	if err != nil {
		t.Fatal(err)
	}
	large := make([]complex128, 5000)
	for i := range large {
		large[i] = complex(float64(i), -float64(i))
	}
	err = comm.Run(ctx, comms, func(ctx context.Context, c *comm.Comm) error {
		var x []complex128
		if c.IsRoot() {
			x = large
		}
		x, err := c.BroadcastComplex(ctx, x)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(x, large) {
			t.Errorf("rank %d: broadcast mismatch", c.Rank())
		}
		sum, err := c.AllReduceFloat(ctx, float64(c.Rank()+1), comm.Sum)
		if err != nil {
			return err
		}
		if got, want := sum, 6.0; got != want {
			t.Errorf("rank %d: got %v, want %v", c.Rank(), got, want)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
