// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type opKind int

const (
	opReduce opKind = iota + 1
	opGather
)

func (op opKind) String() string {
	switch op {
	case opReduce:
		return "AllReduceSum"
	case opGather:
		return "AllGather"
	}
	return "unknown"
}

type message struct {
	op   opKind
	data []float64
	err  error
}

// hub connects the ranks of a Group. Contributions travel to Root on up,
// results travel back on down. done[r] is closed when rank r stops.
type hub struct {
	ctx  context.Context
	up   []chan message
	down []chan message
	done []chan struct{}
}

// Member is one rank of an in-process Group. It implements Comm.
//
// Each Member must be used by a single goroutine.
type Member struct {
	rank int
	h    *hub
}

// NewGroup returns size connected ranks of a computation running within one
// process. Collectives of the returned members return ctx.Err() once ctx is
// done and ErrClosed once a peer they wait for has been closed.
func NewGroup(ctx context.Context, size int) []*Member {
	if size <= 0 {
		panic("comm: group size not positive")
	}
	h := &hub{
		ctx:  ctx,
		up:   make([]chan message, size),
		down: make([]chan message, size),
		done: make([]chan struct{}, size),
	}
	members := make([]*Member, size)
	for r := range members {
		h.up[r] = make(chan message, 1)
		h.down[r] = make(chan message, 1)
		h.done[r] = make(chan struct{})
		members[r] = &Member{rank: r, h: h}
	}
	return members
}

// Rank implements the Comm interface.
func (m *Member) Rank() int { return m.rank }

// Size implements the Comm interface.
func (m *Member) Size() int { return len(m.h.up) }

// Close marks the rank as stopped. Peers waiting for it are released with
// ErrClosed. Close must be called once, after the last collective.
func (m *Member) Close() {
	close(m.h.done[m.rank])
}

// AllReduceSum implements the Comm interface. Root adds the contributions
// in rank order, so the result does not depend on goroutine scheduling.
func (m *Member) AllReduceSum(buf []float64) error {
	res, err := m.collective(opReduce, buf)
	if err != nil {
		return err
	}
	copy(buf, res)
	return nil
}

// AllGather implements the Comm interface.
func (m *Member) AllGather(local []float64) ([]float64, error) {
	return m.collective(opGather, local)
}

func (m *Member) collective(op opKind, data []float64) ([]float64, error) {
	if m.rank == Root {
		return m.combine(op, data)
	}
	h := m.h
	select {
	case h.up[m.rank] <- message{op: op, data: data}:
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	}
	msg, err := h.recv(h.down[m.rank], Root)
	if err != nil {
		return nil, err
	}
	return msg.data, msg.err
}

// combine runs on Root. It collects the contributions of all ranks,
// combines them and sends every rank its own copy of the result.
func (m *Member) combine(op opKind, data []float64) ([]float64, error) {
	h := m.h
	size := len(h.up)
	res := make([]float64, len(data))
	copy(res, data)
	var bad error
	for r := 1; r < size; r++ {
		msg, err := h.recv(h.up[r], r)
		if err != nil {
			return nil, err
		}
		if bad != nil {
			continue
		}
		switch {
		case msg.op != op:
			bad = fmt.Errorf("%w: rank %d called %v, rank %d called %v", ErrMismatch, Root, op, r, msg.op)
		case op == opReduce && len(msg.data) != len(res):
			bad = fmt.Errorf("%w: %v length %d on rank %d, %d on rank %d", ErrMismatch, op, len(res), Root, len(msg.data), r)
		case op == opReduce:
			for i, v := range msg.data {
				res[i] += v
			}
		default:
			res = append(res, msg.data...)
		}
	}
	for r := 1; r < size; r++ {
		out := message{op: op, err: bad}
		if bad == nil {
			out.data = make([]float64, len(res))
			copy(out.data, res)
		}
		select {
		case h.down[r] <- out:
		case <-h.ctx.Done():
			return nil, h.ctx.Err()
		}
	}
	if bad != nil {
		return nil, bad
	}
	return res, nil
}

// recv receives from ch, which is fed by rank peer.
func (h *hub) recv(ch chan message, peer int) (message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-h.done[peer]:
		// A message sent just before stopping or cancellation still counts.
		select {
		case msg := <-ch:
			return msg, nil
		default:
			return message{}, fmt.Errorf("%w: rank %d stopped", ErrClosed, peer)
		}
	case <-h.ctx.Done():
		select {
		case msg := <-ch:
			return msg, nil
		default:
			return message{}, h.ctx.Err()
		}
	}
}

// Run runs f on size ranks of a new Group, each in its own goroutine, and
// waits for all of them to return. The first non-nil error cancels the
// context seen by the group and is returned.
func Run(ctx context.Context, size int, f func(c Comm) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range NewGroup(ctx, size) {
		g.Go(func() error {
			err := f(m)
			if err == nil {
				m.Close()
			}
			// On error the cancellation of ctx releases the peers.
			return err
		})
	}
	return g.Wait()
}
