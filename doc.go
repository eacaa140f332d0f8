// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package purify implements the data plumbing of distributed
	radio-interferometric measurement operators. An interferometer
	samples the sky's Fourier transform at irregular (u, v, w)
	coordinates ("visibilities"); reconstructing an image means
	repeatedly applying a measurement operator that maps an image to
	those samples, and its adjoint.

	This package holds the visibility data model and the algorithms
	that decide where each visibility lives when the operator is
	spread over a group of ranks:

	- Distribute assigns every visibility to one of n partitions using
	one of several plans (by index, by uv density, by radius, or by w).

	- Regroup permutes a VisibilitySet in place so that the records of
	each partition are contiguous, ready to be scattered (see package
	distribute).

	- KMeans and KMeansGroup cluster w coordinates into w-stacks whose
	centers drive per-stack w-term corrections (see package operator).

	Communication between ranks is provided by package comm; the
	operators themselves live in package operator.
*/
package purify
