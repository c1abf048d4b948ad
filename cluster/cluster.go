// Package cluster runs a set of ranks as goroutines and provides the
// collective and point-to-point operations the solver needs between them.
package cluster

import (
	"errors"
	"fmt"
	"sync"

	"github.com/notargets/chemhydro/utils"
)

var (
	ErrAborted = errors.New("cluster: run aborted by another rank")
)

type ReduceOp uint8

const (
	OpSum ReduceOp = iota
	OpMin
	OpMax
)

// Message is a tagged payload sent between ranks
type Message struct {
	From, Tag int
	Data      []float64
}

type world struct {
	size    int
	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	phase   uint64
	aborted error
	slots   []any
	mb      *utils.MailBox[*Message]
}

func newWorld(size int) (w *world) {
	w = &world{
		size:  size,
		slots: make([]any, size),
		mb:    utils.NewMailBox[*Message](size),
	}
	w.cond = sync.NewCond(&w.mu)
	return
}

// Context is the per-rank handle passed to every component that needs to
// know its rank or talk to other ranks.
type Context struct {
	Rank, Size int
	w          *world
	inbox      map[int][]*Message // Received messages by tag
}

// Run starts nprocs ranks, each calling fn with its own Context, and
// returns the first error reported by any rank.
func Run(nprocs int, fn func(c *Context) error) (err error) {
	if nprocs < 1 {
		return fmt.Errorf("cluster: process count must be positive, have %d", nprocs)
	}
	var (
		w    = newWorld(nprocs)
		errs = make([]error, nprocs)
		wg   = sync.WaitGroup{}
	)
	for np := 0; np < nprocs; np++ {
		wg.Add(1)
		go func(np int) {
			defer wg.Done()
			c := &Context{Rank: np, Size: nprocs, w: w, inbox: make(map[int][]*Message)}
			errs[np] = c.protect(fn)
			if errs[np] != nil {
				c.Abort(errs[np])
			}
		}(np)
	}
	wg.Wait()
	// Report the root cause rather than the ranks that were unwound by it
	for _, e := range errs {
		if e != nil && !errors.Is(e, ErrAborted) {
			return e
		}
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return
}

// Single is a one rank Context, for serial use and tests
func Single() *Context {
	return &Context{Rank: 0, Size: 1, w: newWorld(1), inbox: make(map[int][]*Message)}
}

func (c *Context) protect(fn func(c *Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(abortSignal); ok {
				err = e.err
				return
			}
			panic(r)
		}
	}()
	return fn(c)
}

type abortSignal struct{ err error }

func (c *Context) IsRoot() bool { return c.Rank == 0 }

// Abort marks the run as failed. Ranks blocked in, or later entering, a
// collective unwind with ErrAborted.
func (c *Context) Abort(err error) {
	w := c.w
	w.mu.Lock()
	if w.aborted == nil {
		w.aborted = fmt.Errorf("%w: rank %d: %v", ErrAborted, c.Rank, err)
	}
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Barrier blocks until every rank has entered it
func (c *Context) Barrier() {
	w := c.w
	w.mu.Lock()
	if w.aborted != nil {
		err := w.aborted
		w.mu.Unlock()
		panic(abortSignal{err})
	}
	phase := w.phase
	w.arrived++
	if w.arrived == w.size {
		w.arrived = 0
		w.phase++
		w.cond.Broadcast()
	} else {
		for phase == w.phase && w.aborted == nil {
			w.cond.Wait()
		}
	}
	err := w.aborted
	w.mu.Unlock()
	if err != nil {
		panic(abortSignal{err})
	}
}

// gather places v in this rank's slot and returns a snapshot of all slots
func (c *Context) gather(v any) (all []any) {
	c.w.slots[c.Rank] = v
	c.Barrier()
	all = make([]any, c.Size)
	copy(all, c.w.slots)
	c.Barrier()
	return
}

type Number interface {
	~int | ~int32 | ~int64 | ~float64
}

// Allreduce combines send element-wise across all ranks with op
func Allreduce[T Number](c *Context, op ReduceOp, send []T) (recv []T) {
	local := make([]T, len(send))
	copy(local, send)
	all := c.gather(local)
	recv = make([]T, len(send))
	copy(recv, all[0].([]T))
	for r := 1; r < len(all); r++ {
		other := all[r].([]T)
		if len(other) != len(recv) {
			panic(fmt.Errorf("allreduce length mismatch: rank %d sent %d, rank 0 sent %d",
				r, len(other), len(recv)))
		}
		for i, v := range other {
			switch op {
			case OpSum:
				recv[i] += v
			case OpMin:
				if v < recv[i] {
					recv[i] = v
				}
			case OpMax:
				if v > recv[i] {
					recv[i] = v
				}
			}
		}
	}
	return
}

func AllreduceScalar[T Number](c *Context, op ReduceOp, v T) T {
	return Allreduce(c, op, []T{v})[0]
}

// Bcast returns root's value of data on every rank
func Bcast[T any](c *Context, root int, data T) (out T) {
	all := c.gather(data)
	out = all[root].(T)
	return
}

// Post queues a copy of data for the target rank under tag
func (c *Context) Post(target, tag int, data []float64) {
	d := make([]float64, len(data))
	copy(d, data)
	c.w.mb.PostMessage(c.Rank, target, &Message{From: c.Rank, Tag: tag, Data: d})
}

// Exchange delivers every posted message and collects those addressed to
// this rank. It is collective.
func (c *Context) Exchange() {
	mb := c.w.mb
	mb.DeliverMyMessages(c.Rank)
	c.Barrier()
	mb.ReceiveMyMessages(c.Rank)
	for _, msg := range mb.ReceiveMsgQs[c.Rank].Cells() {
		c.inbox[msg.Tag] = append(c.inbox[msg.Tag], msg)
	}
	mb.ClearMyMessages(c.Rank)
	c.Barrier()
}

// Receive removes and returns the message from rank `from` with tag
func (c *Context) Receive(from, tag int) (data []float64, err error) {
	msgs := c.inbox[tag]
	for i, msg := range msgs {
		if msg.From == from {
			c.inbox[tag] = append(msgs[:i], msgs[i+1:]...)
			return msg.Data, nil
		}
	}
	err = fmt.Errorf("rank %d: no message from rank %d with tag %d", c.Rank, from, tag)
	return
}
