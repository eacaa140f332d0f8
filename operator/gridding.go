// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package operator

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/kernels"
	"github.com/grailbio/purify/sparse"
)

// GriddingMatrix returns the interpolation matrix mapping the
// oversampled Fourier grid of p's image to the visibilities of set,
// whose coordinates must be in pixels. Row i holds the kernel weights
// of visibility i, multiplied by its weight and by the checkerboard
// phase that centers the image on the grid. With p.Jw > 0 each row is
// further convolved with the w-projection kernel of the visibility's
// w (less the mean w under p.WStacking).
func GriddingMatrix(set *purify.VisibilitySet, p Params) (*sparse.Matrix, error) {
	b, err := newMatrixBuilder(set, p)
	if err != nil {
		return nil, err
	}
	var wMean float64
	if p.WStacking {
		wMean = mean(set.W)
	}
	return b.single(wMean)
}

// StackedGriddingMatrix returns the interpolation matrix of a
// w-stacked operator: the Fourier grids of len(centers) images, one
// per w-stack, are laid end to end, and visibility i interpolates the
// grid of stack assignment[i]. With p.Jw > 0 the w-projection kernel
// of each visibility corrects its offset from its stack's center.
func StackedGriddingMatrix(set *purify.VisibilitySet, centers []float64, assignment []int, p Params) (*sparse.Matrix, error) {
	b, err := newMatrixBuilder(set, p)
	if err != nil {
		return nil, err
	}
	return b.stacked(centers, assignment)
}

// Mix returns the product m·g of a mixing matrix and an interpolation
// matrix.
func Mix(m, g *sparse.Matrix) (*sparse.Matrix, error) {
	if m.Cols() != g.Rows() {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("gridding: mixing matrix has %d columns for %d visibilities", m.Cols(), g.Rows()))
	}
	return m.MulMatrix(g)
}

type matrixBuilder struct {
	geometry
	set     *purify.VisibilitySet
	p       Params
	kernels kernels.Set
	w       *wKernels
}

func newMatrixBuilder(set *purify.VisibilitySet, p Params) (*matrixBuilder, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if set.Units != purify.Pixels {
		return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("gridding: coordinates in %s, expected pixels", set.Units))
	}
	g, _ := newGeometry(p.ImSizeY, p.ImSizeX, p.Oversample)
	k, err := kernels.Create(p.Kernel, p.Ju, p.Jv, p.ImSizeY, p.ImSizeX, p.Oversample)
	if err != nil {
		return nil, err
	}
	b := &matrixBuilder{geometry: g, set: set, p: p, kernels: k}
	if p.Jw > 0 {
		if !(p.CellX > 0 && p.CellY > 0) {
			return nil, errors.E(errors.Invalid, errors.Fatal, "gridding: w-projection requires cell sizes")
		}
		b.w = newWKernels(g, p.Jw, p.CellX*purify.ArcsecToRadians, p.CellY*purify.ArcsecToRadians, p.AbsoluteError, p.RelativeError)
	}
	return b, nil
}

// single returns the matrix over one grid, with w-projection
// correcting w - wMean.
func (b *matrixBuilder) single(wMean float64) (*sparse.Matrix, error) {
	return b.build(1, func(int) (int, float64) { return 0, wMean })
}

// stacked returns the matrix over one grid per center.
func (b *matrixBuilder) stacked(centers []float64, assignment []int) (*sparse.Matrix, error) {
	if len(assignment) != b.set.Len() {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("gridding: %d stack assignments for %d visibilities", len(assignment), b.set.Len()))
	}
	for i, a := range assignment {
		if a < 0 || a >= len(centers) {
			return nil, errors.E(errors.Invalid, errors.Fatal,
				fmt.Sprintf("gridding: visibility %d assigned to stack %d of %d", i, a, len(centers)))
		}
	}
	return b.build(len(centers), func(i int) (int, float64) {
		return assignment[i], centers[assignment[i]]
	})
}

// build returns the matrix over the provided number of grid blocks.
// Column returns the block of visibility i and the w already
// corrected for it.
func (b *matrixBuilder) build(blocks int, column func(i int) (block int, wCorrected float64)) (*sparse.Matrix, error) {
	var (
		n       = b.set.Len()
		builder = sparse.NewBuilder(n, blocks*b.gridSize())
		center  = []wTap{{value: 1}}
	)
	builder.Reserve(n * b.p.Ju * b.p.Jv)
	for i := 0; i < n; i++ {
		var (
			u, v      = b.set.U[i], b.set.V[i]
			ku        = int(math.Floor(u - float64(b.p.Ju)/2))
			kv        = int(math.Floor(v - float64(b.p.Jv)/2))
			block, wc = column(i)
			base      = block * b.gridSize()
			taps      = center
		)
		if b.w != nil {
			taps = b.w.taps(b.set.W[i] - wc)
		}
		for jv := 1; jv <= b.p.Jv; jv++ {
			kvv := b.kernels.V(v - float64(kv+jv))
			for ju := 1; ju <= b.p.Ju; ju++ {
				val := complex(b.kernels.U(u-float64(ku+ju))*kvv, 0) * b.set.Weights[i]
				for _, tap := range taps {
					tu, tv := ku+ju-tap.du, kv+jv-tap.dv
					q, p := mod(tu, b.ftsizeu), mod(tv, b.ftsizev)
					builder.Add(i, base+p*b.ftsizeu+q, val*tap.value*checkerboard(tu+tv))
				}
			}
		}
	}
	m := builder.Build()
	b.p.observer().Observe(purify.Event{Kind: purify.StageBuilt, Stage: "gridding matrix", Count: m.NNZ()})
	return m, nil
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}

func checkerboard(k int) complex128 {
	if k%2 == 0 {
		return 1
	}
	return -1
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// A wTap is one coefficient of a w-projection kernel, at grid offset
// (du, dv) from the visibility's uv kernel.
type wTap struct {
	du, dv int
	value  complex128
}

// wKernels computes and caches the truncated w-projection kernels of
// a grid. The kernel for w is the discrete Fourier transform of the
// w-term chirp across the grid, centred on the image, restricted to
// the jw×jw offsets around zero frequency.
type wKernels struct {
	geometry
	jw           int
	cellx, celly float64
	abs, rel     float64
	plan         *fft2

	mu    sync.Mutex
	cache map[float64][]wTap
}

func newWKernels(g geometry, jw int, cellx, celly, abs, rel float64) *wKernels {
	return &wKernels{
		geometry: g,
		jw:       jw,
		cellx:    cellx,
		celly:    celly,
		abs:      abs,
		rel:      rel,
		plan:     newFFT2(g.ftsizev, g.ftsizeu),
		cache:    make(map[float64][]wTap),
	}
}

func (k *wKernels) taps(w float64) []wTap {
	if w == 0 {
		return []wTap{{value: 1}}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if taps, ok := k.cache[w]; ok {
		return taps
	}
	taps := k.compute(w)
	k.cache[w] = taps
	return taps
}

func (k *wKernels) compute(w float64) []wTap {
	c := make([]complex128, k.gridSize())
	for gy := 0; gy < k.ftsizev; gy++ {
		m := k.m(gy, k.celly)
		for gx := 0; gx < k.ftsizeu; gx++ {
			c[gy*k.ftsizeu+gx] = chirp(k.l(gx, k.cellx), m, w)
		}
	}
	k.plan.transform(c, false)
	var (
		ju    = min(k.jw, k.ftsizeu)
		jv    = min(k.jw, k.ftsizev)
		scale = 1 / math.Sqrt(float64(k.gridSize()))
		cu    = float64(k.xstart + k.imsizex/2)
		cv    = float64(k.ystart + k.imsizey/2)
		taps  = make([]wTap, 0, ju*jv)
		max   float64
	)
	for dv := -jv / 2; dv < jv-jv/2; dv++ {
		for du := -ju / 2; du < ju-ju/2; du++ {
			phase := 2 * math.Pi * (float64(du)*cu/float64(k.ftsizeu) + float64(dv)*cv/float64(k.ftsizev))
			value := c[mod(dv, k.ftsizev)*k.ftsizeu+mod(du, k.ftsizeu)] * complex(scale, 0) * cmplx.Exp(complex(0, phase))
			taps = append(taps, wTap{du, dv, value})
			max = math.Max(max, cmplx.Abs(value))
		}
	}
	kept := taps[:0]
	for _, tap := range taps {
		if a := cmplx.Abs(tap.value); a >= k.abs && a >= k.rel*max {
			kept = append(kept, tap)
		}
	}
	return kept
}
