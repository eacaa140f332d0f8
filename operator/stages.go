// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package operator

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/kernels"
	"github.com/grailbio/purify/sparse"
	"gonum.org/v1/gonum/cmplxs"
	"golang.org/x/sync/errgroup"
)

// geometry describes an image and the oversampled grid it is padded
// onto. Images and grids are stored row-major: pixel (y, x) of the
// image is element y*imsizex+x.
type geometry struct {
	imsizey, imsizex int
	ftsizev, ftsizeu int
	// ystart and xstart locate the image's first pixel on the grid.
	ystart, xstart int
}

func newGeometry(imsizey, imsizex int, oversample float64) (geometry, error) {
	if imsizey < 1 || imsizex < 1 || !(oversample >= 1) {
		return geometry{}, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("invalid image %dx%d with oversampling %g", imsizey, imsizex, oversample))
	}
	g := geometry{
		imsizey: imsizey,
		imsizex: imsizex,
		ftsizev: int(math.Floor(float64(imsizey) * oversample)),
		ftsizeu: int(math.Floor(float64(imsizex) * oversample)),
	}
	g.ystart = int(math.Floor(float64(g.ftsizev)*0.5 - float64(imsizey)*0.5))
	g.xstart = int(math.Floor(float64(g.ftsizeu)*0.5 - float64(imsizex)*0.5))
	return g, nil
}

func (g geometry) imageSize() int { return g.imsizey * g.imsizex }
func (g geometry) gridSize() int  { return g.ftsizev * g.ftsizeu }

// l and m return the direction cosines of grid position (gy, gx)
// relative to the image center, for cell sizes in radians.
func (g geometry) l(gx int, cellx float64) float64 {
	return float64(gx-g.xstart-g.imsizex/2) * cellx
}

func (g geometry) m(gy int, celly float64) float64 {
	return float64(gy-g.ystart-g.imsizey/2) * celly
}

// chirp returns the w-term phase of direction (l, m) for the provided
// w, in wavelengths. For nonzero w, directions beyond the horizon have
// no emission.
func chirp(l, m, w float64) complex128 {
	if w == 0 {
		return 1
	}
	n2 := 1 - l*l - m*m
	if n2 < 0 {
		return 0
	}
	return cmplx.Exp(complex(0, -2*math.Pi*w*(math.Sqrt(n2)-1)))
}

// Correction returns the image-domain factor S applied before zero
// padding: the reciprocal of the gridding kernels' Fourier transforms
// evaluated at each pixel's position on the oversampled grid, times
// the w-term chirp of wMean. Cell sizes are in arcseconds; they only
// matter when wMean is nonzero.
func Correction(oversample float64, imsizey, imsizex int, ftu, ftv kernels.Func, wMean, cellx, celly float64) ([]complex128, error) {
	g, err := newGeometry(imsizey, imsizex, oversample)
	if err != nil {
		return nil, err
	}
	return g.correction(ftu, ftv, wMean, cellx*purify.ArcsecToRadians, celly*purify.ArcsecToRadians), nil
}

func (g geometry) correction(ftu, ftv kernels.Func, wMean, cellx, celly float64) []complex128 {
	var (
		s     = make([]complex128, g.imageSize())
		corru = make([]float64, g.imsizex)
	)
	for x := range corru {
		corru[x] = ftu(float64(g.xstart+x) + 0.5)
	}
	for y := 0; y < g.imsizey; y++ {
		corrv := ftv(float64(g.ystart+y) + 0.5)
		m := g.m(g.ystart+y, celly)
		for x := 0; x < g.imsizex; x++ {
			c := chirp(g.l(g.xstart+x, cellx), m, wMean)
			s[y*g.imsizex+x] = c / complex(corrv*corru[x], 0)
		}
	}
	return s
}

// ZeroPadding returns the pair that multiplies an image by s and
// places it at the center of the zero-filled oversampled grid. The
// adjoint extracts the image window and multiplies it by conj(s).
func ZeroPadding(s []complex128, imsizey, imsizex int, oversample float64) (Pair, error) {
	g, err := newGeometry(imsizey, imsizex, oversample)
	if err != nil {
		return Pair{}, err
	}
	if len(s) != g.imageSize() {
		return Pair{}, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("zero padding: correction of length %d for %dx%d image", len(s), imsizey, imsizex))
	}
	return g.zeroPadding(s), nil
}

func (g geometry) zeroPadding(s []complex128) Pair {
	forward := func(ctx context.Context, x []complex128) ([]complex128, error) {
		if err := checkLen("zero padding", x, g.imageSize()); err != nil {
			return nil, err
		}
		out := make([]complex128, g.gridSize())
		err := g.rows(ctx, func(y int) {
			var (
				src = y * g.imsizex
				dst = (g.ystart+y)*g.ftsizeu + g.xstart
			)
			cmplxs.MulTo(out[dst:dst+g.imsizex], s[src:src+g.imsizex], x[src:src+g.imsizex])
		})
		return out, err
	}
	adjoint := func(ctx context.Context, x []complex128) ([]complex128, error) {
		if err := checkLen("zero padding adjoint", x, g.gridSize()); err != nil {
			return nil, err
		}
		out := make([]complex128, g.imageSize())
		err := g.rows(ctx, func(y int) {
			var (
				dst = y * g.imsizex
				src = (g.ystart+y)*g.ftsizeu + g.xstart
			)
			cmplxs.MulConjTo(out[dst:dst+g.imsizex], x[src:src+g.imsizex], s[dst:dst+g.imsizex])
		})
		return out, err
	}
	return Pair{Forward: forward, Adjoint: adjoint}
}

// rows calls fn for every image row, spreading the rows across
// goroutines.
func (g geometry) rows(ctx context.Context, fn func(y int)) error {
	var (
		grp, gctx = errgroup.WithContext(ctx)
		workers   = runtime.GOMAXPROCS(0)
		chunk     = (g.imsizey + workers - 1) / workers
	)
	for lo := 0; lo < g.imsizey; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > g.imsizey {
			hi = g.imsizey
		}
		grp.Go(func() error {
			for y := lo; y < hi; y++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				fn(y)
			}
			return nil
		})
	}
	return grp.Wait()
}

// Gridding returns the pair that multiplies by the interpolation
// matrix m and by its precomputed conjugate transpose.
func Gridding(m *sparse.Matrix) Pair {
	adjoint := m.Adjoint()
	return Pair{
		Forward: func(_ context.Context, x []complex128) ([]complex128, error) {
			return m.Mul(x)
		},
		Adjoint: func(_ context.Context, y []complex128) ([]complex128, error) {
			return adjoint.Mul(y)
		},
	}
}

// Weights returns the pair that multiplies elementwise by w, and by
// conj(w) in the adjoint.
func Weights(w []complex128) Pair {
	return Pair{
		Forward: func(_ context.Context, x []complex128) ([]complex128, error) {
			if err := checkLen("weights", x, len(w)); err != nil {
				return nil, err
			}
			return cmplxs.MulTo(make([]complex128, len(x)), x, w), nil
		},
		Adjoint: func(_ context.Context, x []complex128) ([]complex128, error) {
			if err := checkLen("weights adjoint", x, len(w)); err != nil {
				return nil, err
			}
			return cmplxs.MulConjTo(make([]complex128, len(x)), x, w), nil
		},
	}
}

// Normalise returns the pair that divides by norm in both directions.
// It fails unless norm is positive.
func Normalise(norm float64) (Pair, error) {
	if !(norm > 0) {
		return Pair{}, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("normalise: operator norm %g is not positive", norm))
	}
	scale := func(_ context.Context, x []complex128) ([]complex128, error) {
		out := append([]complex128(nil), x...)
		cmplxs.ScaleReal(1/norm, out)
		return out, nil
	}
	return Pair{Forward: scale, Adjoint: scale}, nil
}

// Broadcast returns the pair that replaces its input with the root's
// input in both directions. It is a collective stage.
func Broadcast(c *comm.Comm) Pair {
	broadcast := func(ctx context.Context, x []complex128) ([]complex128, error) {
		return c.BroadcastComplex(ctx, x)
	}
	return Pair{Forward: broadcast, Adjoint: broadcast}
}

// AllSum returns the pair that sums its input across the ranks of c
// in both directions. It is a collective stage.
func AllSum(c *comm.Comm) Pair {
	sum := func(ctx context.Context, x []complex128) ([]complex128, error) {
		return c.AllSumComplex(ctx, x)
	}
	return Pair{Forward: sum, Adjoint: sum}
}
