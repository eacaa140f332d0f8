// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Sizes returns the number of visibilities assigned to each of the n
// partitions. It fails if any label lies outside [0, n).
func Sizes(groups []int, n int) ([]int, error) {
	if n < 1 {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("regroup: invalid partition count %d", n))
	}
	sizes := make([]int, n)
	for i, g := range groups {
		if g < 0 || g >= n {
			return nil, errors.E(errors.Invalid, errors.Fatal,
				fmt.Sprintf("regroup: visibility %d has partition %d, outside [0, %d)", i, g, n))
		}
		sizes[g]++
	}
	return sizes, nil
}

// Regroup permutes set in place so that the visibilities of partition
// b occupy the contiguous range [sum(sizes[:b]), sum(sizes[:b+1])).
// The order of visibilities within a partition is not preserved.
// Groups is not modified. Regroup fails before touching set if groups
// does not match the set's length or holds a label outside [0, n).
func Regroup(set *VisibilitySet, groups []int, n int) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if len(groups) != set.Len() {
		return errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("regroup: %d labels for %d visibilities", len(groups), set.Len()))
	}
	sizes, err := Sizes(groups, n)
	if err != nil {
		return err
	}
	var (
		labels = append([]int(nil), groups...)
		// start[b] is the first index of partition b; cursor[b] is the
		// next slot of partition b not yet known to hold a b.
		start  = make([]int, n+1)
		cursor = make([]int, n)
	)
	for b, size := range sizes {
		start[b+1] = start[b] + size
		cursor[b] = start[b]
	}
	for b := 0; b < n; b++ {
		for cursor[b] < start[b+1] {
			i := cursor[b]
			g := labels[i]
			if g == b {
				cursor[b]++
				continue
			}
			// Move the record at i to the next open slot of its own
			// partition, bringing that slot's record to i.
			j := cursor[g]
			set.Swap(i, j)
			labels[i], labels[j] = labels[j], labels[i]
			cursor[g]++
		}
	}
	return nil
}
