// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package distribute_test

import (
	"context"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/distribute"
)

func testSet(n int) *purify.VisibilitySet {
	r := rand.New(rand.NewSource(int64(n)))
	s := &purify.VisibilitySet{
		U:                make([]float64, n),
		V:                make([]float64, n),
		W:                make([]float64, n),
		Vis:              make([]complex128, n),
		Weights:          make([]complex128, n),
		Units:            purify.Pixels,
		RA:               83.6,
		Dec:              22.0,
		AverageFrequency: 1400,
	}
	for i := 0; i < n; i++ {
		s.U[i] = r.Float64()
		s.V[i] = r.Float64()
		s.W[i] = r.Float64()
		s.Vis[i] = complex(float64(i), 0)
		s.Weights[i] = 1
	}
	return s
}

func TestSingle(t *testing.T) {
	set := testSet(5)
	got, err := distribute.RegroupAndScatter(context.Background(), comm.Single(), set, []int{0, 0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if got != set {
		t.Error("group of one did not return its input")
	}
}

func TestRoles(t *testing.T) {
	comms := comm.Local(2)
	if root, worker := distribute.Roles(comms[0]); root == nil || worker != nil {
		t.Error("rank 0 is not the root")
	}
	if root, worker := distribute.Roles(comms[1]); root != nil || worker == nil {
		t.Error("rank 1 is not a worker")
	}
	if _, err := distribute.AsRoot(comms[1]); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := distribute.AsWorker(comms[0]); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestRegroupAndScatter(t *testing.T) {
	var (
		set    = testSet(10)
		groups = []int{2, 0, 1, 0, 2, 1, 0, 1, 2, 0}
		shards = make([]*purify.VisibilitySet, 3)
		all    = make([]*purify.VisibilitySet, 3)
		comms  = comm.Local(3)
	)
	orig := set.Copy()
	err := comm.Run(context.Background(), comms, func(ctx context.Context, c *comm.Comm) error {
		var (
			in     *purify.VisibilitySet
			labels []int
		)
		if c.IsRoot() {
			in, labels = set, groups
		}
		shard, err := distribute.RegroupAndScatter(ctx, c, in, labels)
		if err != nil {
			return err
		}
		shards[c.Rank()] = shard
		all[c.Rank()], err = distribute.AllGather(ctx, c, shard)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(set, orig) {
		t.Error("root set modified")
	}
	for rank, shard := range shards {
		if got, want := shard.Len(), []int{4, 3, 3}[rank]; got != want {
			t.Errorf("rank %d: got %d visibilities, want %d", rank, got, want)
		}
		for i := 0; i < shard.Len(); i++ {
			id := int(real(shard.Vis[i]))
			if groups[id] != rank {
				t.Errorf("rank %d: received visibility %d of rank %d", rank, id, groups[id])
			}
			if shard.U[i] != orig.U[id] || shard.W[i] != orig.W[id] {
				t.Errorf("rank %d: visibility %d coordinates not carried", rank, id)
			}
		}
		if shard.Units != purify.Pixels || shard.RA != 83.6 || shard.Dec != 22.0 || shard.AverageFrequency != 1400 {
			t.Errorf("rank %d: metadata not broadcast: %+v", rank, shard)
		}
	}
	for rank, set := range all {
		if !reflect.DeepEqual(set, all[0]) {
			t.Errorf("rank %d: gathered set differs from rank 0", rank)
		}
		if got, want := set.Len(), 10; got != want {
			t.Errorf("rank %d: got %d, want %d", rank, got, want)
		}
	}
	if cat, _ := purify.Concat(shards...); !reflect.DeepEqual(cat, all[0]) {
		t.Error("gathered set is not the concatenation of the shards")
	}
}

func TestScatterVisibilities(t *testing.T) {
	var (
		set    = testSet(10)
		sizes  = []int{4, 3, 3}
		shards = make([]*purify.VisibilitySet, 3)
		comms  = comm.Local(3)
	)
	err := comm.Run(context.Background(), comms, func(ctx context.Context, c *comm.Comm) error {
		shard, err := distribute.ScatterVisibilities(ctx, c, set, sizes)
		shards[c.Rank()] = shard
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	cat, err := purify.Concat(shards...)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cat, set) {
		t.Error("shards do not reconstruct the input")
	}
}

func TestKMeansScatter(t *testing.T) {
	const ranks = 3
	set := testSet(30)
	// Three separated bands of w.
	for i := range set.W {
		set.W[i] += float64(10 * (i % ranks))
	}
	shards := make([]*purify.VisibilitySet, ranks)
	err := comm.Run(context.Background(), comm.Local(ranks), func(ctx context.Context, c *comm.Comm) error {
		var in *purify.VisibilitySet
		if c.IsRoot() {
			in = set
		}
		shard, err := distribute.KMeansScatter(ctx, c, in, 50, nil)
		shards[c.Rank()] = shard
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	var total int
	for rank, shard := range shards {
		if got, want := shard.Len(), 10; got != want {
			t.Errorf("rank %d: got %d visibilities, want %d", rank, got, want)
		}
		total += shard.Len()
		for i := 0; i < shard.Len(); i++ {
			if id := int(real(shard.Vis[i])); id%ranks != rank {
				t.Errorf("rank %d: received visibility %d of band %d", rank, id, id%ranks)
			}
		}
		if rank == 0 {
			continue
		}
		if lo, hi := minOf(shard.W), maxOf(shards[rank-1].W); lo < hi {
			t.Errorf("rank %d: w-stacks overlap: %v < %v", rank, lo, hi)
		}
	}
	if total != set.Len() {
		t.Errorf("got %d visibilities, want %d", total, set.Len())
	}
}

func TestKMeansScatterSingle(t *testing.T) {
	set := testSet(4)
	got, err := distribute.KMeansScatter(context.Background(), comm.Single(), set, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != set {
		t.Error("group of one did not return its input")
	}
}

func minOf(x []float64) float64 {
	m := math.Inf(1)
	for _, v := range x {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(x []float64) float64 {
	m := math.Inf(-1)
	for _, v := range x {
		m = math.Max(m, v)
	}
	return m
}

func TestInvalidLabels(t *testing.T) {
	root, err := distribute.AsRoot(comm.Local(3)[0])
	if err != nil {
		t.Fatal(err)
	}
	_, err = root.RegroupAndScatter(context.Background(), testSet(3), []int{0, 3, 1})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

// corruptTransport alters the first complex payload delivered to
// rank 1.
type corruptTransport struct {
	comm.Transport
	once sync.Once
}

func (t *corruptTransport) Send(ctx context.Context, from, to int, m *comm.Message) error {
	if to == 1 && len(m.Complex) > 0 {
		t.once.Do(func() {
			m = m.Clone()
			m.Complex[0] += 1i
		})
	}
	return t.Transport.Send(ctx, from, to, m)
}

func TestCorruptShard(t *testing.T) {
	tr := &corruptTransport{Transport: comm.NewLocalTransport(2)}
	comms := []*comm.Comm{comm.New(0, 2, 0, tr), comm.New(1, 2, 0, tr)}
	set := testSet(6)
	err := comm.Run(context.Background(), comms, func(ctx context.Context, c *comm.Comm) error {
		_, err := distribute.RegroupAndScatter(ctx, c, set, []int{0, 1, 0, 1, 0, 1})
		return err
	})
	if !errors.Is(errors.Integrity, err) {
		t.Errorf("expected integrity error, got %v", err)
	}
}
