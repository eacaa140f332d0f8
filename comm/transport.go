// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"sync"
)

// A Message is the unit exchanged between ranks. Collectives place
// their payload in the field matching the payload's element type.
type Message struct {
	Ints    []int
	Reals   []float64
	Complex []complex128
	Text    string
}

// Len returns the number of values carried by the message.
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Ints) + len(m.Reals) + len(m.Complex)
}

// Clone returns a deep copy of the message, so that a receiver never
// aliases the sender's memory.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := &Message{Text: m.Text}
	if m.Ints != nil {
		c.Ints = append([]int(nil), m.Ints...)
	}
	if m.Reals != nil {
		c.Reals = append([]float64(nil), m.Reals...)
	}
	if m.Complex != nil {
		c.Complex = append([]complex128(nil), m.Complex...)
	}
	return c
}

// A Transport delivers messages between the ranks of a group.
// Messages sent from one rank to another must be received in the
// order they were sent. Send must not block on the receiver.
type Transport interface {
	// Send delivers message m from rank from to rank to.
	Send(ctx context.Context, from, to int, m *Message) error
	// Recv returns the next message sent from rank from to rank to,
	// blocking until one is available or the context is done.
	Recv(ctx context.Context, from, to int) (*Message, error)
}

// A mailbox holds unbounded, per-sender FIFO queues of payloads
// addressed to a single rank. Take waits on a context-aware
// condition.
type mailbox struct {
	mu     sync.Mutex
	waitc  chan struct{}
	queues map[int][]interface{}
}

func newMailbox() *mailbox {
	return &mailbox{queues: make(map[int][]interface{})}
}

// Put enqueues v as sent from rank from and wakes any waiters.
func (b *mailbox) put(from int, v interface{}) {
	b.mu.Lock()
	b.queues[from] = append(b.queues[from], v)
	if b.waitc != nil {
		close(b.waitc)
		b.waitc = nil
	}
	b.mu.Unlock()
}

// Take dequeues the oldest payload sent from rank from, waiting for
// one to arrive.
func (b *mailbox) take(ctx context.Context, from int) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queues[from]) == 0 {
		if err := b.wait(ctx); err != nil {
			return nil, err
		}
	}
	q := b.queues[from]
	v := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(b.queues, from)
	} else {
		b.queues[from] = q[1:]
	}
	return v, nil
}

// Wait returns after the next put, or when the context is done. The
// mailbox's lock must be held when calling wait.
func (b *mailbox) wait(ctx context.Context) error {
	if b.waitc == nil {
		b.waitc = make(chan struct{})
	}
	waitc := b.waitc
	b.mu.Unlock()
	var err error
	select {
	case <-waitc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.mu.Lock()
	return err
}
