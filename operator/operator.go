// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package operator implements the measurement operator of a radio
// interferometer and its adjoint. The forward operator maps an image
// to the visibilities an instrument would measure:
//
//	y = W · G · F · Z · S · x
//
// where S corrects the image for the gridding kernel (and optionally
// the w-term of a w-stack), Z zero pads it onto an oversampled grid,
// F is the unitary 2-D Fourier transform, G interpolates the grid at
// the visibility coordinates and W weights the result. The adjoint
// applies the conjugate transposes in reverse order.
//
// Each factor is a Pair of functions; pairs compose with Chain, and
// builders such as NewDegrid assemble the full operator into a
// LinearTransform. Distributed builders split the work across the
// ranks of a comm.Comm.
package operator

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify/metrics"
)

var (
	// ForwardCalls counts applications of forward measurement
	// operators.
	ForwardCalls = metrics.NewCounter("operator.forward")
	// AdjointCalls counts applications of adjoint measurement
	// operators.
	AdjointCalls = metrics.NewCounter("operator.adjoint")
)

// An Op is a linear map. Ops never modify their input.
type Op func(ctx context.Context, x []complex128) ([]complex128, error)

// A Pair holds a linear map and its adjoint.
type Pair struct {
	Forward, Adjoint Op
}

// Identity is the pair of identity maps.
var Identity = Pair{Forward: identity, Adjoint: identity}

func identity(_ context.Context, x []complex128) ([]complex128, error) { return x, nil }

// Chain composes the provided pairs. The forward map applies the
// forward maps in the order given; the adjoint map applies the
// adjoint maps in the reverse order. Chain(a, b).Forward is thus
// b.Forward ∘ a.Forward.
func Chain(pairs ...Pair) Pair {
	forward := make([]Op, len(pairs))
	adjoint := make([]Op, len(pairs))
	for i, p := range pairs {
		forward[i] = p.Forward
		adjoint[len(pairs)-1-i] = p.Adjoint
	}
	return Pair{Forward: sequence(forward), Adjoint: sequence(adjoint)}
}

func sequence(ops []Op) Op {
	return func(ctx context.Context, x []complex128) ([]complex128, error) {
		var err error
		for _, op := range ops {
			if x, err = op(ctx, x); err != nil {
				return nil, err
			}
		}
		return x, nil
	}
}

// Swap returns the pair with its maps exchanged.
func (p Pair) Swap() Pair {
	return Pair{Forward: p.Adjoint, Adjoint: p.Forward}
}

// Shape describes the layout of a vector in one of an operator's
// spaces: Size elements starting at Offset, Stride apart.
type Shape struct {
	Offset, Stride, Size int
}

// Contiguous returns the shape of a dense vector of n elements.
func Contiguous(n int) Shape { return Shape{Offset: 0, Stride: 1, Size: n} }

// A LinearTransform is a measurement operator: Forward maps an image
// of shape Image to visibilities of shape Vis; Adjoint maps back.
type LinearTransform struct {
	Pair
	Image, Vis Shape
}

// Apply applies the forward operator after checking the shape of x.
func (lt *LinearTransform) Apply(ctx context.Context, x []complex128) ([]complex128, error) {
	if err := checkLen("forward", x, lt.Image.Size); err != nil {
		return nil, err
	}
	return lt.Forward(ctx, x)
}

// ApplyAdjoint applies the adjoint operator after checking the shape
// of y.
func (lt *LinearTransform) ApplyAdjoint(ctx context.Context, y []complex128) ([]complex128, error) {
	if err := checkLen("adjoint", y, lt.Vis.Size); err != nil {
		return nil, err
	}
	return lt.Adjoint(ctx, y)
}

// counted returns a pair that increments the forward and adjoint call
// counters in the context's scope.
func counted(p Pair) Pair {
	return Pair{
		Forward: func(ctx context.Context, x []complex128) ([]complex128, error) {
			ForwardCalls.Incr(metrics.ContextScope(ctx), 1)
			return p.Forward(ctx, x)
		},
		Adjoint: func(ctx context.Context, x []complex128) ([]complex128, error) {
			AdjointCalls.Incr(metrics.ContextScope(ctx), 1)
			return p.Adjoint(ctx, x)
		},
	}
}

func checkLen(stage string, x []complex128, n int) error {
	if len(x) != n {
		return errors.E(errors.Invalid, fmt.Sprintf("%s: input of length %d, expected %d", stage, len(x), n))
	}
	return nil
}
