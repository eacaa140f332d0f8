// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package comm implements the collective communication used to
// distribute measurement operators across a group of ranks. A Comm
// is one rank's view of its group: its identity, the group size and
// the root, and a set of collective operations (broadcast,
// variable-length scatter, gather, all-reduce) built on a
// point-to-point Transport.
//
// Collectives are blocking and must be called by every rank of the
// group in the same order. A rank that never arrives blocks the
// others until their contexts are done.
package comm

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/purify/metrics"
)

var (
	// MessagesSent counts the point-to-point messages sent by a rank.
	MessagesSent = metrics.NewCounter("comm.messages")
	// ValuesSent counts the scalar values carried by those messages.
	ValuesSent = metrics.NewCounter("comm.values")
)

// Op is a reduction operator.
type Op int

const (
	// Sum adds values.
	Sum Op = iota
	// Min selects the smallest value.
	Min
	// Max selects the largest value.
	Max
)

// String returns the operator's name.
func (op Op) String() string {
	switch op {
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

func (op Op) apply(x, y float64) float64 {
	switch op {
	case Sum:
		return x + y
	case Min:
		return math.Min(x, y)
	case Max:
		return math.Max(x, y)
	default:
		panic(fmt.Sprintf("comm: invalid reduction %v", op))
	}
}

// Comm is a rank's handle on its communication group.
type Comm struct {
	rank, size, root int
	transport        Transport
}

// New returns the communicator for rank in a group of the given size
// rooted at root, exchanging messages over transport.
func New(rank, size, root int, transport Transport) *Comm {
	if size < 1 || rank < 0 || rank >= size || root < 0 || root >= size {
		panic(fmt.Sprintf("comm.New: invalid rank %d, root %d for group of %d", rank, root, size))
	}
	return &Comm{rank: rank, size: size, root: root, transport: transport}
}

// Rank returns the rank of this member.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of members in the group.
func (c *Comm) Size() int { return c.size }

// Root returns the rank of the group's root.
func (c *Comm) Root() int { return c.root }

// IsRoot tells whether this member is the group's root.
func (c *Comm) IsRoot() bool { return c.rank == c.root }

// String returns a short description of the communicator.
func (c *Comm) String() string {
	return fmt.Sprintf("rank %d/%d (root %d)", c.rank, c.size, c.root)
}

func (c *Comm) send(ctx context.Context, to int, m *Message) error {
	scope := metrics.ContextScope(ctx)
	MessagesSent.Incr(scope, 1)
	ValuesSent.Incr(scope, int64(m.Len()))
	if err := c.transport.Send(ctx, c.rank, to, m); err != nil {
		return errors.E(err, fmt.Sprintf("send %d->%d", c.rank, to))
	}
	return nil
}

func (c *Comm) recv(ctx context.Context, from int) (*Message, error) {
	m, err := c.transport.Recv(ctx, from, c.rank)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("receive %d->%d", from, c.rank))
	}
	return m, nil
}

// broadcast sends the root's message to every rank. The argument is
// ignored on non-root ranks.
func (c *Comm) broadcast(ctx context.Context, m *Message) (*Message, error) {
	if !c.IsRoot() {
		return c.recv(ctx, c.root)
	}
	for rank := 0; rank < c.size; rank++ {
		if rank == c.root {
			continue
		}
		if err := c.send(ctx, rank, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// scatter sends parts[r] from the root to rank r. The argument is
// ignored on non-root ranks.
func (c *Comm) scatter(ctx context.Context, parts []*Message) (*Message, error) {
	if !c.IsRoot() {
		return c.recv(ctx, c.root)
	}
	if len(parts) != c.size {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("scatter: %d parts for group of %d", len(parts), c.size))
	}
	for rank, part := range parts {
		if rank == c.root {
			continue
		}
		if err := c.send(ctx, rank, part); err != nil {
			return nil, err
		}
	}
	return parts[c.root].Clone(), nil
}

// gather collects every rank's message on the root, in rank order.
// Non-root ranks receive nil.
func (c *Comm) gather(ctx context.Context, m *Message) ([]*Message, error) {
	if !c.IsRoot() {
		return nil, c.send(ctx, c.root, m)
	}
	parts := make([]*Message, c.size)
	for rank := range parts {
		if rank == c.root {
			parts[rank] = m
			continue
		}
		var err error
		if parts[rank], err = c.recv(ctx, rank); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// BroadcastInts broadcasts the root's x to all ranks.
func (c *Comm) BroadcastInts(ctx context.Context, x []int) ([]int, error) {
	m, err := c.broadcast(ctx, &Message{Ints: x})
	if err != nil {
		return nil, err
	}
	return m.Ints, nil
}

// BroadcastReals broadcasts the root's x to all ranks.
func (c *Comm) BroadcastReals(ctx context.Context, x []float64) ([]float64, error) {
	m, err := c.broadcast(ctx, &Message{Reals: x})
	if err != nil {
		return nil, err
	}
	return m.Reals, nil
}

// BroadcastComplex broadcasts the root's x to all ranks.
func (c *Comm) BroadcastComplex(ctx context.Context, x []complex128) ([]complex128, error) {
	m, err := c.broadcast(ctx, &Message{Complex: x})
	if err != nil {
		return nil, err
	}
	return m.Complex, nil
}

// BroadcastFloat broadcasts the root's scalar v to all ranks.
func (c *Comm) BroadcastFloat(ctx context.Context, v float64) (float64, error) {
	m, err := c.broadcast(ctx, &Message{Reals: []float64{v}})
	if err != nil {
		return 0, err
	}
	if len(m.Reals) != 1 {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("broadcast: expected 1 value, got %d", len(m.Reals)))
	}
	return m.Reals[0], nil
}

// BroadcastString broadcasts the root's s to all ranks.
func (c *Comm) BroadcastString(ctx context.Context, s string) (string, error) {
	m, err := c.broadcast(ctx, &Message{Text: s})
	if err != nil {
		return "", err
	}
	return m.Text, nil
}

// ScatterOne sends values[r] from the root to rank r. The argument is
// ignored on non-root ranks.
func (c *Comm) ScatterOne(ctx context.Context, values []int) (int, error) {
	var parts []*Message
	if c.IsRoot() {
		if len(values) != c.size {
			return 0, errors.E(errors.Invalid, errors.Fatal,
				fmt.Sprintf("scatter: %d values for group of %d", len(values), c.size))
		}
		parts = make([]*Message, c.size)
		for i, v := range values {
			parts[i] = &Message{Ints: []int{v}}
		}
	}
	m, err := c.scatter(ctx, parts)
	if err != nil {
		return 0, err
	}
	if len(m.Ints) != 1 {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("scatter: expected 1 value, got %d", len(m.Ints)))
	}
	return m.Ints[0], nil
}

// offsets validates per-rank sizes against a total length n and
// returns their prefix sums.
func (c *Comm) offsets(sizes []int, n int) ([]int, error) {
	if len(sizes) != c.size {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("scatterv: %d sizes for group of %d", len(sizes), c.size))
	}
	offsets := make([]int, c.size+1)
	for i, size := range sizes {
		if size < 0 {
			return nil, errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("scatterv: negative size %d for rank %d", size, i))
		}
		offsets[i+1] = offsets[i] + size
	}
	if offsets[c.size] != n {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("scatterv: sizes sum to %d, have %d values", offsets[c.size], n))
	}
	return offsets, nil
}

// ScattervReals sends the contiguous range of x of length sizes[r]
// (in rank order) from the root to rank r. Both arguments are
// ignored on non-root ranks.
func (c *Comm) ScattervReals(ctx context.Context, x []float64, sizes []int) ([]float64, error) {
	var parts []*Message
	if c.IsRoot() {
		off, err := c.offsets(sizes, len(x))
		if err != nil {
			return nil, err
		}
		parts = make([]*Message, c.size)
		for i := range parts {
			parts[i] = &Message{Reals: x[off[i]:off[i+1]]}
		}
	}
	m, err := c.scatter(ctx, parts)
	if err != nil {
		return nil, err
	}
	return m.Reals, nil
}

// ScattervComplex is ScattervReals for complex values.
func (c *Comm) ScattervComplex(ctx context.Context, x []complex128, sizes []int) ([]complex128, error) {
	var parts []*Message
	if c.IsRoot() {
		off, err := c.offsets(sizes, len(x))
		if err != nil {
			return nil, err
		}
		parts = make([]*Message, c.size)
		for i := range parts {
			parts[i] = &Message{Complex: x[off[i]:off[i+1]]}
		}
	}
	m, err := c.scatter(ctx, parts)
	if err != nil {
		return nil, err
	}
	return m.Complex, nil
}

// ScatterComplexParts sends parts[r] from the root to rank r. The
// argument is ignored on non-root ranks.
func (c *Comm) ScatterComplexParts(ctx context.Context, parts [][]complex128) ([]complex128, error) {
	var msgs []*Message
	if c.IsRoot() {
		msgs = make([]*Message, len(parts))
		for i, part := range parts {
			msgs[i] = &Message{Complex: part}
		}
	}
	m, err := c.scatter(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return m.Complex, nil
}

// GatherInts collects every rank's x on the root, in rank order.
// Non-root ranks receive nil.
func (c *Comm) GatherInts(ctx context.Context, x []int) ([][]int, error) {
	parts, err := c.gather(ctx, &Message{Ints: x})
	if err != nil || parts == nil {
		return nil, err
	}
	out := make([][]int, len(parts))
	for i, p := range parts {
		out[i] = p.Ints
	}
	return out, nil
}

// GatherComplex collects every rank's x on the root, in rank order.
// Non-root ranks receive nil.
func (c *Comm) GatherComplex(ctx context.Context, x []complex128) ([][]complex128, error) {
	parts, err := c.gather(ctx, &Message{Complex: x})
	if err != nil || parts == nil {
		return nil, err
	}
	out := make([][]complex128, len(parts))
	for i, p := range parts {
		out[i] = p.Complex
	}
	return out, nil
}

// AllReduceFloat reduces v across all ranks with op and returns the
// result on every rank.
func (c *Comm) AllReduceFloat(ctx context.Context, v float64, op Op) (float64, error) {
	x, err := c.AllReduceReals(ctx, []float64{v}, op)
	if err != nil {
		return 0, err
	}
	return x[0], nil
}

// AllReduceReals reduces x elementwise across all ranks with op and
// returns the result on every rank. Every rank must pass a vector of
// the same length.
func (c *Comm) AllReduceReals(ctx context.Context, x []float64, op Op) ([]float64, error) {
	parts, err := c.gather(ctx, &Message{Reals: x})
	if err != nil {
		return nil, err
	}
	var out []float64
	if c.IsRoot() {
		out = append([]float64(nil), x...)
		for rank, p := range parts {
			if rank == c.root {
				continue
			}
			if len(p.Reals) != len(out) {
				return nil, errors.E(errors.Invalid, errors.Fatal,
					fmt.Sprintf("all-reduce: rank %d has %d values, root has %d", rank, len(p.Reals), len(out)))
			}
			for i, v := range p.Reals {
				out[i] = op.apply(out[i], v)
			}
		}
	}
	return c.BroadcastReals(ctx, out)
}

// AllSumComplex sums x elementwise across all ranks and returns the
// result on every rank.
func (c *Comm) AllSumComplex(ctx context.Context, x []complex128) ([]complex128, error) {
	parts, err := c.gather(ctx, &Message{Complex: x})
	if err != nil {
		return nil, err
	}
	var out []complex128
	if c.IsRoot() {
		out = append([]complex128(nil), x...)
		for rank, p := range parts {
			if rank == c.root {
				continue
			}
			if len(p.Complex) != len(out) {
				return nil, errors.E(errors.Invalid, errors.Fatal,
					fmt.Sprintf("all-sum: rank %d has %d values, root has %d", rank, len(p.Complex), len(out)))
			}
			for i, v := range p.Complex {
				out[i] += v
			}
		}
	}
	return c.BroadcastComplex(ctx, out)
}

// AllGatherReals concatenates every rank's x in rank order and
// returns the result on every rank.
func (c *Comm) AllGatherReals(ctx context.Context, x []float64) ([]float64, error) {
	parts, err := c.gather(ctx, &Message{Reals: x})
	if err != nil {
		return nil, err
	}
	var out []float64
	if c.IsRoot() {
		for _, p := range parts {
			out = append(out, p.Reals...)
		}
	}
	return c.BroadcastReals(ctx, out)
}

// AllGatherComplex concatenates every rank's x in rank order and
// returns the result on every rank.
func (c *Comm) AllGatherComplex(ctx context.Context, x []complex128) ([]complex128, error) {
	parts, err := c.gather(ctx, &Message{Complex: x})
	if err != nil {
		return nil, err
	}
	var out []complex128
	if c.IsRoot() {
		for _, p := range parts {
			out = append(out, p.Complex...)
		}
	}
	return c.BroadcastComplex(ctx, out)
}
