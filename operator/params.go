// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package operator

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify"
	"github.com/grailbio/purify/kernels"
	"github.com/grailbio/purify/sparse"
)

// Params configures the construction of a measurement operator.
type Params struct {
	// ImSizeY and ImSizeX give the image size in pixels.
	ImSizeY, ImSizeX int
	// Oversample is the ratio of the Fourier grid size to the image
	// size along each axis.
	Oversample float64
	// Kernel selects the gridding kernel family.
	Kernel kernels.Kind
	// Ju and Jv are the kernel supports, in grid pixels.
	Ju, Jv int
	// Jw is the support of the w-projection kernel, in grid pixels.
	// Zero disables w-projection.
	Jw int
	// CellX and CellY are the pixel sizes in arcseconds. Zero derives
	// them from the longest baseline of lambda-unit data.
	CellX, CellY float64
	// WStacking corrects the mean w of the visibilities in the image
	// domain; remaining offsets are handled by w-projection if Jw > 0.
	WStacking bool
	// AbsoluteError and RelativeError truncate w-projection kernels:
	// taps below either threshold are dropped.
	AbsoluteError, RelativeError float64
	// OperatorNorm divides the operator's output in both directions.
	OperatorNorm float64
	// Mixing, if set, is applied to the visibilities after gridding.
	// Its column count must equal the number of visibilities.
	Mixing *sparse.Matrix
	// Observer receives construction events. Nil discards them.
	Observer purify.Observer
}

// DefaultParams returns the default parameters for an imsizey×imsizex
// image: two-fold oversampling with a Kaiser-Bessel kernel of support
// 4×4 and no w correction.
func DefaultParams(imsizey, imsizex int) Params {
	return Params{
		ImSizeY:       imsizey,
		ImSizeX:       imsizex,
		Oversample:    2,
		Kernel:        kernels.KaiserBessel,
		Ju:            4,
		Jv:            4,
		RelativeError: 1e-6,
		OperatorNorm:  1,
	}
}

func (p Params) validate() error {
	if p.Ju < 1 || p.Jv < 1 || p.Jw < 0 {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("operator: invalid kernel supports %d, %d, %d", p.Ju, p.Jv, p.Jw))
	}
	if p.CellX < 0 || p.CellY < 0 {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("operator: negative cell size %gx%g", p.CellX, p.CellY))
	}
	if p.AbsoluteError < 0 || p.RelativeError < 0 {
		return errors.E(errors.Invalid, errors.Fatal, "operator: negative w-kernel error threshold")
	}
	if !(p.OperatorNorm > 0) {
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("operator: operator norm %g is not positive", p.OperatorNorm))
	}
	_, err := newGeometry(p.ImSizeY, p.ImSizeX, p.Oversample)
	return err
}

func (p Params) observer() purify.Observer {
	if p.Observer == nil {
		return purify.NopObserver
	}
	return p.Observer
}

// wCorrected tells whether the operator depends on w.
func (p Params) wCorrected() bool { return p.WStacking || p.Jw > 0 }
