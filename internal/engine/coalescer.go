package engine

import (
	"time"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/reconcile"
)

// Coalescer defaults.
const (
	DefaultDebounce = 250 * time.Millisecond
	DefaultMaxWait  = 2 * time.Second
)

// Coalescer buffers contact updates so bursts of notifications become one
// batched write. It holds no timer itself: Notify returns the delay after
// which the caller should flush, and the caller owns the timer.
//
// A flush is due debounce after the latest notification, but never later
// than maxWait after the first notification of the batch.
type Coalescer struct {
	debounce time.Duration
	maxWait  time.Duration

	pending []reconcile.Update
	index   map[address.Address]int

	waiting  bool
	first    time.Time
	deadline time.Time
}

// NewCoalescer creates a Coalescer. Non-positive durations select the
// defaults.
func NewCoalescer(debounce, maxWait time.Duration) *Coalescer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Coalescer{
		debounce: debounce,
		maxWait:  maxWait,
		index:    make(map[address.Address]int),
	}
}

// Notify buffers u, merging its mask into any pending update for the same
// address. It returns the delay until the batch is due and whether the
// caller has to (re)arm its timer.
func (c *Coalescer) Notify(u reconcile.Update, now time.Time) (time.Duration, bool) {
	if i, ok := c.index[u.Address]; ok {
		c.pending[i].Mask = c.pending[i].Mask.Union(u.Mask)
	} else {
		c.index[u.Address] = len(c.pending)
		c.pending = append(c.pending, u)
	}

	if !c.waiting {
		c.waiting = true
		c.first = now
	}
	budget := c.maxWait - now.Sub(c.first)
	if budget <= 0 {
		// Overdue: the timer armed earlier has already expired.
		return 0, false
	}
	delay := min(c.debounce, budget)
	c.deadline = now.Add(delay)
	return delay, true
}

// Due reports whether a batch is waiting and its deadline has passed.
func (c *Coalescer) Due(now time.Time) bool {
	return c.waiting && !now.Before(c.deadline)
}

// Deadline returns when the pending batch is due.
func (c *Coalescer) Deadline() (time.Time, bool) {
	return c.deadline, c.waiting
}

// Flush returns the buffered updates in the order their addresses were
// first notified and resets the coalescer.
func (c *Coalescer) Flush() []reconcile.Update {
	out := c.pending
	c.pending = nil
	clear(c.index)
	c.waiting = false
	c.first = time.Time{}
	c.deadline = time.Time{}
	return out
}

// Cancel drops buffered updates for contacts of the account at path and
// returns how many were dropped.
func (c *Coalescer) Cancel(path string) int {
	kept := c.pending[:0]
	dropped := 0
	for _, u := range c.pending {
		if u.Address.AccountPath() == path {
			dropped++
			continue
		}
		kept = append(kept, u)
	}
	if dropped == 0 {
		return 0
	}
	clear(c.pending[len(kept):])
	c.pending = kept
	clear(c.index)
	for i, u := range c.pending {
		c.index[u.Address] = i
	}
	if len(c.pending) == 0 {
		c.waiting = false
		c.first = time.Time{}
		c.deadline = time.Time{}
	}
	return dropped
}

// Pending returns the number of buffered addresses.
func (c *Coalescer) Pending() int {
	return len(c.pending)
}
