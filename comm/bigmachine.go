// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
)

func init() {
	gob.Register(&mailboxService{})
}

// mailboxService is the bigmachine service that holds the messages
// addressed to the rank hosted by its machine.
type mailboxService struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	box *mailbox
}

// Envelope is an encoded message in transit to a mailbox.
type Envelope struct {
	From    int
	Payload []byte
}

func (s *mailboxService) Init(b *bigmachine.B) error {
	s.box = newMailbox()
	return nil
}

// Put deposits an envelope in the mailbox.
func (s *mailboxService) Put(ctx context.Context, env Envelope, _ *struct{}) error {
	s.box.put(env.From, env.Payload)
	return nil
}

// Take returns the oldest payload sent by rank from, waiting for it
// to arrive.
func (s *mailboxService) Take(ctx context.Context, from int, payload *[]byte) error {
	p, err := s.box.take(ctx, from)
	if err != nil {
		return err
	}
	*payload = p.([]byte)
	return nil
}

// bigmachineTransport hosts rank r's mailbox on machines[r]. Ranks
// themselves may run anywhere that can reach the machines.
type bigmachineTransport struct {
	machines []*bigmachine.Machine
}

func (t *bigmachineTransport) machine(rank int) (*bigmachine.Machine, error) {
	if rank < 0 || rank >= len(t.machines) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("rank %d in group of %d", rank, len(t.machines)))
	}
	return t.machines[rank], nil
}

func (t *bigmachineTransport) Send(ctx context.Context, from, to int, m *Message) error {
	machine, err := t.machine(to)
	if err != nil {
		return err
	}
	p, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	return machine.Call(ctx, "Mailbox.Put", Envelope{From: from, Payload: p}, nil)
}

func (t *bigmachineTransport) Recv(ctx context.Context, from, to int) (*Message, error) {
	machine, err := t.machine(to)
	if err != nil {
		return nil, err
	}
	var p []byte
	if err := machine.Call(ctx, "Mailbox.Take", from, &p); err != nil {
		return nil, err
	}
	return DecodeMessage(p)
}

// StartBigmachine starts one machine per rank on b, installs a
// mailbox service on each, and returns the communicators of the
// resulting group, rooted at rank 0. StartBigmachine fails if any
// machine fails to start.
func StartBigmachine(ctx context.Context, b *bigmachine.B, size int, params ...bigmachine.Param) ([]*Comm, error) {
	if size < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid group size %d", size))
	}
	params = append([]bigmachine.Param{bigmachine.Services{"Mailbox": &mailboxService{}}}, params...)
	machines, err := b.Start(ctx, size, params...)
	if err != nil {
		return nil, errors.E(err, "starting mailbox machines")
	}
	if len(machines) != size {
		return nil, errors.E(errors.Unavailable, fmt.Sprintf("started %d of %d machines", len(machines), size))
	}
	var (
		wg   sync.WaitGroup
		errs = make([]error, size)
	)
	for i := range machines {
		i, m := i, machines[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-m.Wait(bigmachine.Running):
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			if err := m.Err(); err != nil {
				log.Printf("machine %s failed to start: %v", m.Addr, err)
				errs[i] = err
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, errors.E(err, "starting mailbox machines")
		}
	}
	t := &bigmachineTransport{machines: machines}
	comms := make([]*Comm, size)
	for rank := range comms {
		comms[rank] = New(rank, size, 0, t)
	}
	return comms, nil
}
