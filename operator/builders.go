// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package operator

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/comm"
	"github.com/grailbio/purify/kernels"
	"github.com/grailbio/purify/sparse"
)

// NewDegrid returns the measurement operator of the visibilities in
// set. Coordinates in wavelengths are converted to radians using
// p's cell sizes (derived from the data when zero), and radians to
// grid pixels.
func NewDegrid(set *purify.VisibilitySet, p Params) (*LinearTransform, error) {
	pix, p, err := toPixels(context.Background(), nil, set, p)
	if err != nil {
		return nil, err
	}
	var wMean float64
	if p.WStacking {
		wMean = mean(pix.W)
	}
	s, err := newStages(pix, p, wMean, func(b *matrixBuilder) (*sparse.Matrix, error) { return b.single(wMean) })
	if err != nil {
		return nil, err
	}
	return s.transform(Chain(s.pad, s.fft, s.grid, s.norm)), nil
}

// NewDegridUVW is NewDegrid for visibilities given as coordinate
// vectors in the provided units.
func NewDegridUVW(u, v, w []float64, weights []complex128, units purify.Units, p Params) (*LinearTransform, error) {
	set := &purify.VisibilitySet{
		U:       u,
		V:       v,
		W:       w,
		Vis:     make([]complex128, len(u)),
		Weights: weights,
		Units:   units,
	}
	return NewDegrid(set, p)
}

// NewAllSumDegrid returns the measurement operator of visibilities
// spread across the ranks of c. Every rank holds the full image; the
// forward operator produces the rank's own visibilities, and the
// adjoint sums the images of every rank's visibilities. With
// p.WStacking each rank corrects the mean w of its own visibilities,
// so that its forward operator is that of NewDegrid on its shard.
// Construction and both maps are collective.
func NewAllSumDegrid(ctx context.Context, c *comm.Comm, set *purify.VisibilitySet, p Params) (*LinearTransform, error) {
	pix, p, err := toPixels(ctx, c, set, p)
	if err != nil {
		return nil, err
	}
	var wMean float64
	if p.WStacking {
		wMean = mean(pix.W)
	}
	s, err := newStages(pix, p, wMean, func(b *matrixBuilder) (*sparse.Matrix, error) { return b.single(wMean) })
	if err != nil {
		return nil, err
	}
	return s.transform(Chain(adjointOnly(AllSum(c).Adjoint), s.pad, s.fft, s.grid, s.norm)), nil
}

// NewDistributedGridDegrid returns the measurement operator of
// visibilities spread across the ranks of c, with the image-domain
// stages computed on the root only. In the forward direction the root
// transforms the image and sends each rank the grid cells its
// visibilities touch; in the adjoint direction the ranks' gridded
// contributions are summed on the root, transformed back, and the
// image is broadcast. The forward operator ignores its input on
// non-root ranks. W-stacking is not supported. Construction and both
// maps are collective.
func NewDistributedGridDegrid(ctx context.Context, c *comm.Comm, set *purify.VisibilitySet, p Params) (*LinearTransform, error) {
	if p.WStacking {
		return nil, errors.E(errors.Invalid, errors.Fatal, "operator: w-stacking is not supported with a distributed grid")
	}
	pix, p, err := toPixels(ctx, c, set, p)
	if err != nil {
		return nil, err
	}
	s, err := newStages(pix, p, 0, func(b *matrixBuilder) (*sparse.Matrix, error) { return b.single(0) })
	if err != nil {
		return nil, err
	}
	columns := s.matrix.NonzeroColumns()
	compressed, err := s.matrix.CompressColumns(columns)
	if err != nil {
		return nil, err
	}
	d, err := sparse.NewDistributor(ctx, c, columns, s.gridSize())
	if err != nil {
		return nil, err
	}
	var (
		grid    = Gridding(compressed)
		fourier = discard
	)
	distributed := Pair{
		Forward: func(ctx context.Context, x []complex128) ([]complex128, error) {
			local, err := d.Scatter(ctx, x)
			if err != nil {
				return nil, err
			}
			return grid.Forward(ctx, local)
		},
		Adjoint: func(ctx context.Context, y []complex128) ([]complex128, error) {
			local, err := grid.Adjoint(ctx, y)
			if err != nil {
				return nil, err
			}
			return d.Gather(ctx, local)
		},
	}
	if c.IsRoot() {
		fourier = Chain(s.pad, s.fft)
	}
	s.p.observer().Observe(purify.Event{Kind: purify.StageBuilt, Stage: "distributed grid", Count: len(columns)})
	return s.transform(Chain(adjointOnly(Broadcast(c).Adjoint), fourier, distributed, s.norm)), nil
}

// NewWStacking returns the measurement operator of w-stacked
// visibilities: visibility i belongs to stack assignment[i], whose
// w-term at centers[assignment[i]] is corrected in the image domain.
// Each stack has its own copy of the padded grid. With p.Jw > 0 the
// remaining offset of each visibility from its stack's center is
// corrected by w-projection.
func NewWStacking(set *purify.VisibilitySet, centers []float64, assignment []int, p Params) (*LinearTransform, error) {
	pix, p, err := toPixels(context.Background(), nil, set, p)
	if err != nil {
		return nil, err
	}
	return newWStacking(pix, centers, assignment, p)
}

// NewAllSumWStacking is NewWStacking for visibilities spread across
// the ranks of c, typically clustered by purify.KMeansGroup so that
// centers agree on every rank. The adjoint sums every rank's image.
// Construction and both maps are collective.
func NewAllSumWStacking(ctx context.Context, c *comm.Comm, set *purify.VisibilitySet, centers []float64, assignment []int, p Params) (*LinearTransform, error) {
	pix, p, err := toPixels(ctx, c, set, p)
	if err != nil {
		return nil, err
	}
	lt, err := newWStacking(pix, centers, assignment, p)
	if err != nil {
		return nil, err
	}
	lt.Pair = Chain(adjointOnly(AllSum(c).Adjoint), lt.Pair)
	return lt, nil
}

func newWStacking(pix *purify.VisibilitySet, centers []float64, assignment []int, p Params) (*LinearTransform, error) {
	if len(centers) == 0 {
		return nil, errors.E(errors.Invalid, errors.Fatal, "operator: no w-stacks")
	}
	if !(p.CellX > 0 && p.CellY > 0) {
		return nil, errors.E(errors.Invalid, errors.Fatal, "operator: w-stacking requires cell sizes")
	}
	s, err := newStages(pix, p, 0, func(b *matrixBuilder) (*sparse.Matrix, error) { return b.stacked(centers, assignment) })
	if err != nil {
		return nil, err
	}
	pads := make([]Pair, len(centers))
	for i, w := range centers {
		pads[i] = s.zeroPadding(s.correction(s.kernels.FTU, s.kernels.FTV, w, s.cellx, s.celly))
	}
	var (
		gs      = s.gridSize()
		stacked = Pair{
			Forward: func(ctx context.Context, x []complex128) ([]complex128, error) {
				out := make([]complex128, len(pads)*gs)
				for i, pad := range pads {
					grid, err := Chain(pad, s.fft).Forward(ctx, x)
					if err != nil {
						return nil, err
					}
					copy(out[i*gs:], grid)
				}
				return out, nil
			},
			Adjoint: func(ctx context.Context, y []complex128) ([]complex128, error) {
				if err := checkLen("w-stacks adjoint", y, len(pads)*gs); err != nil {
					return nil, err
				}
				out := make([]complex128, s.imageSize())
				for i, pad := range pads {
					img, err := Chain(pad, s.fft).Adjoint(ctx, y[i*gs:(i+1)*gs])
					if err != nil {
						return nil, err
					}
					for j, v := range img {
						out[j] += v
					}
				}
				return out, nil
			},
		}
	)
	s.p.observer().Observe(purify.Event{Kind: purify.StageBuilt, Stage: fmt.Sprintf("%d w-stacks", len(centers))})
	return s.transform(Chain(stacked, s.grid, s.norm)), nil
}

// stages holds the factors of a measurement operator.
type stages struct {
	geometry
	p            Params
	kernels      kernels.Set
	cellx, celly float64
	matrix       *sparse.Matrix
	pad, fft     Pair
	grid, norm   Pair
}

// newStages builds the factors of the operator of pix, whose
// coordinates are in pixels. The image-domain correction includes the
// chirp of wMean; the interpolation matrix is built by matrix.
func newStages(pix *purify.VisibilitySet, p Params, wMean float64, matrix func(*matrixBuilder) (*sparse.Matrix, error)) (*stages, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if wMean != 0 && !(p.CellX > 0 && p.CellY > 0) {
		return nil, errors.E(errors.Invalid, errors.Fatal, "operator: w-stacking requires cell sizes")
	}
	g, _ := newGeometry(p.ImSizeY, p.ImSizeX, p.Oversample)
	k, err := kernels.Create(p.Kernel, p.Ju, p.Jv, p.ImSizeY, p.ImSizeX, p.Oversample)
	if err != nil {
		return nil, err
	}
	s := &stages{
		geometry: g,
		p:        p,
		kernels:  k,
		cellx:    p.CellX * purify.ArcsecToRadians,
		celly:    p.CellY * purify.ArcsecToRadians,
	}
	obs := p.observer()
	s.pad = g.zeroPadding(g.correction(k.FTU, k.FTV, wMean, s.cellx, s.celly))
	obs.Observe(purify.Event{Kind: purify.StageBuilt, Stage: "zero padding"})
	s.fft = g.fft()
	obs.Observe(purify.Event{Kind: purify.StageBuilt, Stage: "FFT"})
	b, err := newMatrixBuilder(pix, p)
	if err != nil {
		return nil, err
	}
	if s.matrix, err = matrix(b); err != nil {
		return nil, err
	}
	if p.Mixing != nil {
		if s.matrix, err = Mix(p.Mixing, s.matrix); err != nil {
			return nil, err
		}
	}
	s.grid = Gridding(s.matrix)
	if s.norm, err = Normalise(p.OperatorNorm); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *stages) transform(p Pair) *LinearTransform {
	return &LinearTransform{
		Pair:  counted(p),
		Image: Contiguous(s.imageSize()),
		Vis:   Contiguous(s.matrix.Rows()),
	}
}

// adjointOnly returns the pair applying op in the adjoint direction
// only.
func adjointOnly(op Op) Pair {
	return Pair{Forward: identity, Adjoint: op}
}

// discard is the pair of maps returning nil, standing in for stages
// computed on another rank.
var discard = Pair{
	Forward: func(context.Context, []complex128) ([]complex128, error) { return nil, nil },
	Adjoint: func(context.Context, []complex128) ([]complex128, error) { return nil, nil },
}

// toPixels converts the coordinates of set to grid pixels, filling in
// derived cell sizes in the returned parameters. With a non-nil c the
// cell sizes are derived from the whole group's baselines, and the
// call is collective.
func toPixels(ctx context.Context, c *comm.Comm, set *purify.VisibilitySet, p Params) (*purify.VisibilitySet, Params, error) {
	if err := p.validate(); err != nil {
		return nil, p, err
	}
	if err := set.Validate(); err != nil {
		return nil, p, err
	}
	g, _ := newGeometry(p.ImSizeY, p.ImSizeX, p.Oversample)
	switch set.Units {
	case purify.Pixels:
		return set, p, nil
	case purify.Radians:
		pix, err := purify.UVScale(set, g.ftsizev, g.ftsizeu)
		return pix, p, err
	case purify.Lambda:
	default:
		return nil, p, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("operator: unknown units %v", set.Units))
	}
	if p.CellX == 0 || p.CellY == 0 {
		longest := []float64{maxAbs(set.U), maxAbs(set.V)}
		if c != nil {
			var err error
			if longest, err = c.AllReduceReals(ctx, longest, comm.Max); err != nil {
				return nil, p, errors.E(err, "operator: reduce baselines")
			}
		}
		for i, cell := range []*float64{&p.CellX, &p.CellY} {
			if *cell != 0 {
				continue
			}
			if !(longest[i] > 0) {
				return nil, p, errors.E(errors.Invalid, errors.Fatal, "operator: cannot derive a cell size from zero baselines")
			}
			*cell = purify.DefaultCellSize(longest[i])
		}
	}
	rad, err := purify.SetCellSize(set, p.CellX, p.CellY)
	if err != nil {
		return nil, p, err
	}
	pix, err := purify.UVScale(rad, g.ftsizev, g.ftsizeu)
	return pix, p, err
}

func maxAbs(x []float64) float64 {
	var max float64
	for _, v := range x {
		max = math.Max(max, math.Abs(v))
	}
	return max
}
