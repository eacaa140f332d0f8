// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify/comm"
)

// convergenceTolerance bounds the mean relative movement of the
// centers below which k-means stops.
const convergenceTolerance = 1e-3

// KMeansResult is the outcome of a one-dimensional k-means clustering
// of w coordinates.
type KMeansResult struct {
	// Assignment holds the cluster of each local w value.
	Assignment []int
	// Centers holds the k cluster centers.
	Centers []float64
	// Iterations is the number of iterations performed.
	Iterations int
	// Converged tells whether the iteration stopped early.
	Converged bool
}

// KMeans clusters w into k w-stacks. Centers start evenly spaced
// across [min(w), max(w)); each iteration assigns every value to its
// nearest center (ties go to the lowest index) and moves each center
// to the mean of its members. Iteration stops after maxIter rounds or
// once the mean relative movement of the centers drops below 1e-3.
// The first iteration never stops early. A cluster left without
// members keeps its previous center.
func KMeans(w []float64, k, maxIter int, obs Observer) (KMeansResult, error) {
	if len(w) == 0 {
		return KMeansResult{}, errors.E(errors.Invalid, "k-means: no w values")
	}
	local := func(_ context.Context, x []float64, _ comm.Op) ([]float64, error) { return x, nil }
	return kmeans(context.Background(), w, k, maxIter, observerOrNop(obs), local)
}

// KMeansGroup clusters w values spread across the ranks of c. Each
// rank passes its local values and receives the assignment of those
// values along with the group-wide centers, which are identical on
// every rank. The minimum, maximum, per-cluster sums and counts are
// reduced across the group, so the result equals KMeans applied to
// the concatenation of every rank's values. Events are reported only
// on the root rank. KMeansGroup is a collective call.
func KMeansGroup(ctx context.Context, c *comm.Comm, w []float64, k, maxIter int, obs Observer) (KMeansResult, error) {
	if !c.IsRoot() || obs == nil {
		obs = NopObserver
	}
	return kmeans(ctx, w, k, maxIter, obs, c.AllReduceReals)
}

type reduceFunc func(ctx context.Context, x []float64, op comm.Op) ([]float64, error)

func kmeans(ctx context.Context, w []float64, k, maxIter int, obs Observer, reduce reduceFunc) (KMeansResult, error) {
	if k < 1 {
		return KMeansResult{}, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("k-means: invalid cluster count %d", k))
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, x := range w {
		min = math.Min(min, x)
		max = math.Max(max, x)
	}
	lo, err := reduce(ctx, []float64{min}, comm.Min)
	if err != nil {
		return KMeansResult{}, errors.E(err, "k-means: reduce min")
	}
	hi, err := reduce(ctx, []float64{max}, comm.Max)
	if err != nil {
		return KMeansResult{}, errors.E(err, "k-means: reduce max")
	}
	min, max = lo[0], hi[0]
	if math.IsInf(min, 1) {
		return KMeansResult{}, errors.E(errors.Invalid, "k-means: no w values in group")
	}
	res := KMeansResult{
		Assignment: make([]int, len(w)),
		Centers:    make([]float64, k),
	}
	for i := range res.Centers {
		res.Centers[i] = float64(i)*(max-min)/float64(k) + min
	}
	// acc holds the k per-cluster sums followed by the k counts.
	acc := make([]float64, 2*k)
	diff := 1.0
	for iter := 0; iter < maxIter; iter++ {
		obs.Observe(Event{Kind: IterationStarted, Iteration: iter})
		for i := range acc {
			acc[i] = 0
		}
		for i, x := range w {
			nearest := math.Inf(1)
			for j, center := range res.Centers {
				if cost := math.Abs(x - center); cost < nearest {
					nearest = cost
					res.Assignment[i] = j
				}
			}
			acc[res.Assignment[i]] += x
			acc[k+res.Assignment[i]]++
		}
		total, err := reduce(ctx, acc, comm.Sum)
		if err != nil {
			return KMeansResult{}, errors.E(err, fmt.Sprintf("k-means: iteration %d", iter))
		}
		for j, center := range res.Centers {
			count := total[k+j]
			if count == 0 {
				obs.Observe(Event{Kind: ClusterEmpty, Iteration: iter, Cluster: j})
				continue
			}
			next := total[j] / count
			if center != 0 {
				diff += math.Abs(next-center) / math.Abs(center)
			} else {
				diff += math.Abs(next - center)
			}
			res.Centers[j] = next
			obs.Observe(Event{Kind: ClusterUpdated, Iteration: iter, Cluster: j, Count: int(count), Value: next})
		}
		res.Iterations = iter + 1
		if diff/float64(k) < convergenceTolerance {
			res.Converged = true
			obs.Observe(Event{Kind: Converged, Iteration: iter, Value: diff / float64(k)})
			break
		}
		diff = 0
	}
	return res, nil
}
