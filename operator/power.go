// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package operator

import (
	"context"
	"math"
	"math/rand"

	"github.com/grailbio/base/errors"
	"gonum.org/v1/gonum/cmplxs"
)

// PowerMethod estimates the operator norm of lt, its largest singular
// value, by power iteration on lt.Adjoint ∘ lt.Forward. Iteration
// stops after iters rounds or once the estimate changes by less than
// tol relative to its value. The starting vector is pseudo-random
// with a fixed seed, so that every rank of a distributed operator
// starts from the same vector. For distributed operators PowerMethod
// is collective.
func PowerMethod(ctx context.Context, lt *LinearTransform, iters int, tol float64) (float64, error) {
	var (
		r = rand.New(rand.NewSource(1))
		x = make([]complex128, lt.Image.Size)
	)
	for i := range x {
		x[i] = complex(r.NormFloat64(), r.NormFloat64())
	}
	norm := cmplxs.Norm(x, 2)
	if norm == 0 {
		return 0, errors.E(errors.Invalid, "power method: empty image")
	}
	cmplxs.ScaleReal(1/norm, x)
	var estimate float64
	for i := 0; i < iters; i++ {
		y, err := lt.Forward(ctx, x)
		if err != nil {
			return 0, err
		}
		if x, err = lt.Adjoint(ctx, y); err != nil {
			return 0, err
		}
		norm = cmplxs.Norm(x, 2)
		if norm == 0 {
			return 0, nil
		}
		cmplxs.ScaleReal(1/norm, x)
		next := math.Sqrt(norm)
		if i > 0 && math.Abs(next-estimate) <= tol*next {
			return next, nil
		}
		estimate = next
	}
	return estimate, nil
}
