// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package kernels provides the interpolation kernels used to grid
// visibilities, together with the Fourier transforms needed to
// correct for them in the image domain.
package kernels

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// Kind names a kernel family.
type Kind int

const (
	// KaiserBessel is the Kaiser-Bessel window with alpha = 2.34·J.
	KaiserBessel Kind = iota
	// KaiserBesselInterp is KaiserBessel, tabulated and linearly
	// interpolated.
	KaiserBesselInterp
	// Gaussian is a Gaussian with standard deviation 0.31·J^0.52.
	Gaussian
)

var kindNames = [...]string{"kb", "kb_interp", "gauss"}

// String returns the kind's name, as accepted by ParseKind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind returns the kernel kind with the provided name.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("kernel %q not recognized", name))
}

// A Func is a real function of one variable.
type Func func(x float64) float64

// Set holds the gridding kernels along each axis and the Fourier
// transforms used by the image-domain correction. U and V take an
// offset from a visibility in grid pixels. FTU and FTV take a
// position in [0, ftsize] across the oversampled grid, whose center
// corresponds to zero frequency.
type Set struct {
	U, V     Func
	FTU, FTV Func
}

// tableSize is the number of samples per unit support of the
// interpolated kernels.
const tableSize = 1 << 10

// Create returns the kernels of the provided kind with supports ju
// and jv, for an imsizey×imsizex image oversampled by the provided
// factor.
func Create(kind Kind, ju, jv, imsizey, imsizex int, oversample float64) (Set, error) {
	if ju < 1 || jv < 1 {
		return Set{}, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("kernels: invalid support %dx%d", ju, jv))
	}
	if imsizex < 1 || imsizey < 1 || !(oversample >= 1) {
		return Set{}, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("kernels: invalid image %dx%d with oversampling %g", imsizey, imsizex, oversample))
	}
	var (
		ftsizeu = math.Floor(oversample * float64(imsizex))
		ftsizev = math.Floor(oversample * float64(imsizey))
		kernel  func(x float64, j int) float64
		ft      func(x float64, j int) float64
	)
	switch kind {
	case KaiserBessel:
		kernel, ft = KB, FTKB
	case KaiserBesselInterp:
		return Set{
			U:   Tabulate(func(x float64) float64 { return KB(x, ju) }, float64(ju), tableSize*ju),
			V:   Tabulate(func(x float64) float64 { return KB(x, jv) }, float64(jv), tableSize*jv),
			FTU: func(x float64) float64 { return FTKB(x/ftsizeu-0.5, ju) },
			FTV: func(x float64) float64 { return FTKB(x/ftsizev-0.5, jv) },
		}, nil
	case Gaussian:
		kernel, ft = Gauss, FTGauss
	default:
		return Set{}, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("kernels: %v not recognized", kind))
	}
	return Set{
		U:   func(x float64) float64 { return kernel(x, ju) },
		V:   func(x float64) float64 { return kernel(x, jv) },
		FTU: func(x float64) float64 { return ft(x/ftsizeu-0.5, ju) },
		FTV: func(x float64) float64 { return ft(x/ftsizev-0.5, jv) },
	}, nil
}

func kbAlpha(j int) float64 { return 2.34 * float64(j) }

// KB evaluates the Kaiser-Bessel kernel of support j at offset x. It
// is zero for |x| > j/2.
func KB(x float64, j int) float64 {
	r := 2 * x / float64(j)
	if math.Abs(r) > 1 {
		return 0
	}
	alpha := kbAlpha(j)
	return BesselI0(alpha*math.Sqrt(1-r*r)) / BesselI0(alpha)
}

// FTKB evaluates the Fourier transform of KB at frequency x (in
// cycles per grid pixel), normalised to 1 at x = 0.
func FTKB(x float64, j int) float64 {
	var (
		alpha = kbAlpha(j)
		a     = math.Pi * float64(j) * x
		d     = alpha*alpha - a*a
	)
	return sinhc(d) / sinhc(alpha*alpha)
}

// sinhc returns sinh(sqrt(d))/sqrt(d), continued to sin(sqrt(-d))/sqrt(-d)
// for negative d.
func sinhc(d float64) float64 {
	switch {
	case d > 0:
		s := math.Sqrt(d)
		return math.Sinh(s) / s
	case d < 0:
		s := math.Sqrt(-d)
		return math.Sin(s) / s
	default:
		return 1
	}
}

func gaussSigma(j int) float64 { return 0.31 * math.Pow(float64(j), 0.52) }

// Gauss evaluates the Gaussian kernel of support j at offset x. It is
// zero for |x| > j/2.
func Gauss(x float64, j int) float64 {
	if math.Abs(x) > float64(j)/2 {
		return 0
	}
	sigma := gaussSigma(j)
	return math.Exp(-x * x / (2 * sigma * sigma))
}

// FTGauss evaluates the Fourier transform of Gauss at frequency x,
// normalised to 1 at x = 0.
func FTGauss(x float64, j int) float64 {
	sigma := gaussSigma(j)
	return math.Exp(-2 * math.Pi * math.Pi * sigma * sigma * x * x)
}

// BesselI0 evaluates the modified Bessel function of the first kind
// of order zero.
func BesselI0(x float64) float64 {
	var (
		q    = x * x / 4
		term = 1.0
		sum  = 1.0
	)
	for k := 1; k < 500; k++ {
		term *= q / float64(k*k)
		sum += term
		if term < sum*1e-17 {
			break
		}
	}
	return sum
}

// Tabulate samples f at n+1 evenly spaced points across
// [-support/2, support/2] and returns a function that linearly
// interpolates the samples. The returned function is zero outside the
// support.
func Tabulate(f Func, support float64, n int) Func {
	var (
		half  = support / 2
		step  = support / float64(n)
		table = make([]float64, n+1)
	)
	for i := range table {
		table[i] = f(-half + float64(i)*step)
	}
	return func(x float64) float64 {
		if x < -half || x > half {
			return 0
		}
		pos := (x + half) / step
		i := int(pos)
		if i >= n {
			return table[n]
		}
		frac := pos - float64(i)
		return table[i]*(1-frac) + table[i+1]*frac
	}
}
