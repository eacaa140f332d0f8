// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package operator

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/grailbio/base/errors"
	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2 is a plan for unitary two-dimensional Fourier transforms of
// row-major rows×cols arrays. Plans hold work buffers and serialize
// their transforms.
type fft2 struct {
	rows, cols int

	mu     sync.Mutex
	rowFFT *fourier.CmplxFFT
	colFFT *fourier.CmplxFFT
	column []complex128
}

func newFFT2(rows, cols int) *fft2 {
	return &fft2{
		rows:   rows,
		cols:   cols,
		rowFFT: fourier.NewCmplxFFT(cols),
		colFFT: fourier.NewCmplxFFT(rows),
		column: make([]complex128, rows),
	}
}

// transform replaces x with its unitary forward (e^{-2πi}) or inverse
// transform.
func (f *fft2) transform(x []complex128, inverse bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply := func(plan *fourier.CmplxFFT, v []complex128) {
		if inverse {
			plan.Sequence(v, v)
		} else {
			plan.Coefficients(v, v)
		}
	}
	for r := 0; r < f.rows; r++ {
		apply(f.rowFFT, x[r*f.cols:(r+1)*f.cols])
	}
	for c := 0; c < f.cols; c++ {
		for r := range f.column {
			f.column[r] = x[r*f.cols+c]
		}
		apply(f.colFFT, f.column)
		for r, v := range f.column {
			x[r*f.cols+c] = v
		}
	}
	cmplxs.ScaleReal(1/math.Sqrt(float64(f.rows*f.cols)), x)
}

// FFT returns the pair computing the unitary 2-D Fourier transform of
// the imsizey×imsizex image oversampled by the provided factor, and
// its inverse.
func FFT(imsizey, imsizex int, oversample float64) (Pair, error) {
	g, err := newGeometry(imsizey, imsizex, oversample)
	if err != nil {
		return Pair{}, err
	}
	return g.fft(), nil
}

func (g geometry) fft() Pair {
	var (
		forward = newFFT2(g.ftsizev, g.ftsizeu)
		inverse = newFFT2(g.ftsizev, g.ftsizeu)
	)
	op := func(plan *fft2, inv bool) Op {
		return func(_ context.Context, x []complex128) ([]complex128, error) {
			if len(x) != g.gridSize() {
				return nil, errors.E(errors.Invalid,
					fmt.Sprintf("fft: input of length %d for %dx%d grid", len(x), g.ftsizev, g.ftsizeu))
			}
			out := append([]complex128(nil), x...)
			plan.transform(out, inv)
			return out, nil
		}
	}
	return Pair{Forward: op(forward, false), Adjoint: op(inverse, true)}
}
