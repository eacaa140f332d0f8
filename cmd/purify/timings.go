// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sort"
	"time"
)

// timings are the durations of repeated operator applications.
type timings []time.Duration

// Quartiles returns the quartiles of ts by Tukey's method: q2 is the
// median, and q1 and q3 are the medians of the lower and upper
// halves, which include q2 when len(ts) is odd. ts must be non-empty.
func (ts timings) Quartiles() (q1, q2, q3 time.Duration) {
	sorted := append(timings(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	q2 = median(sorted)
	q1, q3 = sorted[0], sorted[len(sorted)-1]
	if len(sorted) > 1 {
		q1 = median(sorted[:len(sorted)-mid])
		q3 = median(sorted[mid:])
	}
	return
}

func (ts timings) String() string {
	if len(ts) == 0 {
		return "no applications"
	}
	q1, q2, q3 := ts.Quartiles()
	return fmt.Sprintf("n=%d q1=%v median=%v q3=%v", len(ts), q1, q2, q3)
}

// median returns the median of the sorted durations ds.
func median(ds timings) time.Duration {
	mid := len(ds) / 2
	if len(ds)%2 == 1 {
		return ds[mid]
	}
	// Average without overflow.
	a, b := ds[mid-1], ds[mid]
	return a/2 + b/2 + (a%2+b%2)/2
}
