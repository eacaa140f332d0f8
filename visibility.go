// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/spaolacci/murmur3"
)

// Units describes the coordinate system of a VisibilitySet's u and v
// coordinates.
type Units int

const (
	// Lambda coordinates are measured in wavelengths.
	Lambda Units = iota
	// Radians coordinates are phases in [-pi, pi) across the field.
	Radians
	// Pixels coordinates index the oversampled Fourier grid.
	Pixels
)

var unitNames = [...]string{"lambda", "radians", "pixels"}

// String returns the name of the units.
func (u Units) String() string {
	if u < 0 || int(u) >= len(unitNames) {
		return fmt.Sprintf("Units(%d)", int(u))
	}
	return unitNames[u]
}

// ParseUnits returns the units with the provided name.
func ParseUnits(name string) (Units, error) {
	for i, n := range unitNames {
		if strings.EqualFold(n, name) {
			return Units(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("unrecognized units %q", name))
}

// A VisibilitySet is a collection of measurements. Index i of each of
// U, V, W, Vis and Weights refers to the same measurement; any
// permutation of a set is applied to all five sequences together.
type VisibilitySet struct {
	// U, V and W are the Fourier-plane coordinates of each measurement.
	U, V, W []float64
	// Vis holds the measured values.
	Vis []complex128
	// Weights holds the per-measurement weighting.
	Weights []complex128

	// Units describes U and V. W is always in wavelengths.
	Units Units
	// RA and Dec give the pointing, in degrees.
	RA, Dec float64
	// AverageFrequency is the mean observing frequency, in MHz.
	AverageFrequency float64
}

// Len returns the number of measurements in the set.
func (s *VisibilitySet) Len() int { return len(s.U) }

// Validate checks that the five sequences have the same length.
func (s *VisibilitySet) Validate() error {
	n := len(s.U)
	if len(s.V) != n || len(s.W) != n || len(s.Vis) != n || len(s.Weights) != n {
		return errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("visibility set: mismatched lengths u=%d v=%d w=%d vis=%d weights=%d",
				len(s.U), len(s.V), len(s.W), len(s.Vis), len(s.Weights)))
	}
	return nil
}

// Swap exchanges measurements i and j in all five sequences.
func (s *VisibilitySet) Swap(i, j int) {
	s.U[i], s.U[j] = s.U[j], s.U[i]
	s.V[i], s.V[j] = s.V[j], s.V[i]
	s.W[i], s.W[j] = s.W[j], s.W[i]
	s.Vis[i], s.Vis[j] = s.Vis[j], s.Vis[i]
	s.Weights[i], s.Weights[j] = s.Weights[j], s.Weights[i]
}

// Copy returns a deep copy of the set.
func (s *VisibilitySet) Copy() *VisibilitySet {
	c := s.withMetadata()
	c.U = append([]float64(nil), s.U...)
	c.V = append([]float64(nil), s.V...)
	c.W = append([]float64(nil), s.W...)
	c.Vis = append([]complex128(nil), s.Vis...)
	c.Weights = append([]complex128(nil), s.Weights...)
	return c
}

// Slice returns the measurements [i, j) of s. The returned set shares
// storage with s.
func (s *VisibilitySet) Slice(i, j int) *VisibilitySet {
	c := s.withMetadata()
	c.U, c.V, c.W = s.U[i:j], s.V[i:j], s.W[i:j]
	c.Vis, c.Weights = s.Vis[i:j], s.Weights[i:j]
	return c
}

// withMetadata returns an empty set carrying the metadata of s.
func (s *VisibilitySet) withMetadata() *VisibilitySet {
	return &VisibilitySet{
		Units:            s.Units,
		RA:               s.RA,
		Dec:              s.Dec,
		AverageFrequency: s.AverageFrequency,
	}
}

// Concat returns the concatenation of the provided sets, in order.
// The metadata of the result is taken from the first set.
func Concat(sets ...*VisibilitySet) (*VisibilitySet, error) {
	if len(sets) == 0 {
		return &VisibilitySet{}, nil
	}
	c := sets[0].withMetadata()
	for i, s := range sets {
		if err := s.Validate(); err != nil {
			return nil, errors.E(err, fmt.Sprintf("concat: set %d", i))
		}
		c.U = append(c.U, s.U...)
		c.V = append(c.V, s.V...)
		c.W = append(c.W, s.W...)
		c.Vis = append(c.Vis, s.Vis...)
		c.Weights = append(c.Weights, s.Weights...)
	}
	return c, nil
}

// Fingerprint returns a murmur3 hash of the set's measurements and
// units. Sets with identical contents in identical order have equal
// fingerprints.
func (s *VisibilitySet) Fingerprint() uint64 {
	var (
		h   = murmur3.New64()
		buf [8]byte
	)
	put := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(s.Units))
	h.Write(buf[:])
	for _, col := range [][]float64{s.U, s.V, s.W} {
		for _, f := range col {
			put(f)
		}
	}
	for _, col := range [][]complex128{s.Vis, s.Weights} {
		for _, c := range col {
			put(real(c))
			put(imag(c))
		}
	}
	return h.Sum64()
}
