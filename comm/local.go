// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"golang.org/x/sync/errgroup"
)

// localTransport delivers messages between ranks in the same
// process. Messages are copied on send.
type localTransport struct {
	boxes []*mailbox
}

func (t *localTransport) Send(ctx context.Context, from, to int, m *Message) error {
	if to < 0 || to >= len(t.boxes) {
		return errors.E(errors.Invalid, fmt.Sprintf("send to rank %d in group of %d", to, len(t.boxes)))
	}
	t.boxes[to].put(from, m.Clone())
	return nil
}

func (t *localTransport) Recv(ctx context.Context, from, to int) (*Message, error) {
	if to < 0 || to >= len(t.boxes) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("receive on rank %d in group of %d", to, len(t.boxes)))
	}
	v, err := t.boxes[to].take(ctx, from)
	if err != nil {
		return nil, err
	}
	return v.(*Message), nil
}

// NewLocalTransport returns a transport connecting size ranks within
// the current process.
func NewLocalTransport(size int) Transport {
	if size < 1 {
		panic(fmt.Sprintf("comm.NewLocalTransport: invalid group size %d", size))
	}
	t := &localTransport{boxes: make([]*mailbox, size)}
	for i := range t.boxes {
		t.boxes[i] = newMailbox()
	}
	return t
}

// Local returns the communicators of an in-process group of the
// given size, rooted at rank 0. Each communicator should be driven by
// its own goroutine; see Run.
func Local(size int) []*Comm {
	t := NewLocalTransport(size)
	comms := make([]*Comm, size)
	for rank := range comms {
		comms[rank] = New(rank, size, 0, t)
	}
	return comms
}

// Single returns the communicator of a group with one member. All
// collectives on it are local no-ops.
func Single() *Comm {
	return Local(1)[0]
}

// Run invokes fn once for each communicator, each in its own
// goroutine, and waits for them all to complete. The context passed
// to fn is canceled as soon as any invocation fails, so that ranks
// blocked in a collective call do not wait forever on a rank that
// has given up. Run returns the first error encountered.
func Run(ctx context.Context, comms []*Comm, fn func(ctx context.Context, c *Comm) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range comms {
		c := c
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return errors.E(err, fmt.Sprintf("rank %d", c.Rank()))
			}
			return nil
		})
	}
	return g.Wait()
}
