// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"context"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify/comm"
)

func TestKMeansSingleCluster(t *testing.T) {
	res, err := KMeans([]float64{1, 2, 3, 4}, 1, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Centers, []float64{2.5}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !res.Converged {
		t.Error("expected convergence")
	}
	if got, want := res.Iterations, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestKMeansTwoClusters(t *testing.T) {
	var events []Event
	obs := ObserverFunc(func(e Event) { events = append(events, e) })
	res, err := KMeans([]float64{0, 0.1, 0.2, 10, 10.1, 10.2}, 2, 100, obs)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Assignment, []int{0, 0, 0, 1, 1, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for i, want := range []float64{0.1, 10.1} {
		if got := res.Centers[i]; math.Abs(got-want) > 1e-12 {
			t.Errorf("center %d: got %v, want %v", i, got, want)
		}
	}
	if !res.Converged {
		t.Error("expected convergence")
	}
	if len(events) == 0 || events[len(events)-1].Kind != Converged {
		t.Errorf("expected a final converged event, got %v", events)
	}
}

func TestKMeansMaxIter(t *testing.T) {
	res, err := KMeans([]float64{1, 2, 3, 4}, 1, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Converged || res.Iterations != 1 {
		t.Errorf("got %+v, want one unconverged iteration", res)
	}
}

func TestKMeansEmptyCluster(t *testing.T) {
	var empty []int
	obs := ObserverFunc(func(e Event) {
		if e.Kind == ClusterEmpty {
			empty = append(empty, e.Cluster)
		}
	})
	res, err := KMeans([]float64{0, 0, 0, 10}, 3, 5, obs)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Centers[1], 10.0/3; got != want {
		t.Errorf("empty cluster moved: got %v, want %v", got, want)
	}
	if got, want := res.Assignment, []int{0, 0, 0, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(empty) == 0 || empty[0] != 1 {
		t.Errorf("expected cluster 1 reported empty, got %v", empty)
	}
}

func TestKMeansInvalid(t *testing.T) {
	if _, err := KMeans([]float64{1}, 0, 10, nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := KMeans(nil, 2, 10, nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestKMeansGroup(t *testing.T) {
	const (
		N     = 300
		K     = 4
		ranks = 3
	)
	r := rand.New(rand.NewSource(N))
	w := make([]float64, N)
	for i := range w {
		w[i] = r.Float64() * 100
	}
	want, err := KMeans(w, K, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	var (
		mu         sync.Mutex
		results    = make([]KMeansResult, ranks)
		chunk      = N / ranks
		comms      = comm.Local(ranks)
		rootEvents int
	)
	obs := ObserverFunc(func(Event) {
		mu.Lock()
		rootEvents++
		mu.Unlock()
	})
	err = comm.Run(context.Background(), comms, func(ctx context.Context, c *comm.Comm) error {
		local := w[c.Rank()*chunk : (c.Rank()+1)*chunk]
		res, err := KMeansGroup(ctx, c, local, K, 100, obs)
		results[c.Rank()] = res
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	var assignment []int
	for rank, res := range results {
		for i, center := range res.Centers {
			if math.Abs(center-want.Centers[i]) > 1e-9 {
				t.Errorf("rank %d: center %d: got %v, want %v", rank, i, center, want.Centers[i])
			}
		}
		if res.Iterations != want.Iterations {
			t.Errorf("rank %d: got %d iterations, want %d", rank, res.Iterations, want.Iterations)
		}
		assignment = append(assignment, res.Assignment...)
	}
	if !reflect.DeepEqual(assignment, want.Assignment) {
		t.Error("group assignment differs from serial assignment")
	}
	if rootEvents == 0 {
		t.Error("no events reported on the root")
	}
}
