package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/reconcile"
	"github.com/roach88/rosterd/internal/testutil"
)

func update(path, id string, cs ...change.Category) reconcile.Update {
	return reconcile.Update{Address: address.Resolve(path, id), Mask: change.Of(cs...)}
}

func TestCoalescer_Defaults(t *testing.T) {
	c := NewCoalescer(0, -1)
	delay, arm := c.Notify(update("/a", "x", change.Presence), testutil.Epoch)
	assert.True(t, arm)
	assert.Equal(t, DefaultDebounce, delay)
}

func TestCoalescer_MergesMasksInInsertionOrder(t *testing.T) {
	c := NewCoalescer(250*time.Millisecond, 2*time.Second)
	now := testutil.Epoch

	c.Notify(update("/a", "bob", change.Presence), now)
	c.Notify(update("/a", "carol", change.Alias), now)
	c.Notify(update("/a", "bob", change.Avatar), now)
	assert.Equal(t, 2, c.Pending())

	out := c.Flush()
	require.Len(t, out, 2)
	assert.Equal(t, address.Resolve("/a", "bob"), out[0].Address)
	assert.Equal(t, change.Of(change.Presence, change.Avatar), out[0].Mask)
	assert.Equal(t, address.Resolve("/a", "carol"), out[1].Address)
	assert.Zero(t, c.Pending())

	_, waiting := c.Deadline()
	assert.False(t, waiting)
}

func TestCoalescer_DebounceRestarts(t *testing.T) {
	c := NewCoalescer(250*time.Millisecond, 2*time.Second)
	now := testutil.Epoch

	c.Notify(update("/a", "bob", change.Presence), now)
	assert.False(t, c.Due(now.Add(200*time.Millisecond)))

	delay, arm := c.Notify(update("/a", "bob", change.Presence), now.Add(200*time.Millisecond))
	assert.True(t, arm)
	assert.Equal(t, 250*time.Millisecond, delay)
	assert.False(t, c.Due(now.Add(300*time.Millisecond)))
	assert.True(t, c.Due(now.Add(450*time.Millisecond)))
}

// Notifications every 100ms never let the debounce expire; the batch is
// still due no later than max wait after the first one.
func TestCoalescer_MaxWaitBoundsSteadyStream(t *testing.T) {
	c := NewCoalescer(250*time.Millisecond, 2*time.Second)
	start := testutil.Epoch

	var deadline time.Time
	for i := 0; i < 30; i++ {
		now := start.Add(time.Duration(i) * 100 * time.Millisecond)
		if c.Due(now) {
			break
		}
		delay, arm := c.Notify(update("/a", "bob", change.Presence), now)
		if arm {
			deadline = now.Add(delay)
		}
	}
	assert.False(t, deadline.After(start.Add(2*time.Second)))
	assert.True(t, c.Due(start.Add(2*time.Second)))
}

func TestCoalescer_ClampsDelayToBudget(t *testing.T) {
	c := NewCoalescer(250*time.Millisecond, 2*time.Second)
	start := testutil.Epoch

	c.Notify(update("/a", "bob", change.Presence), start)
	delay, arm := c.Notify(update("/a", "bob", change.Presence), start.Add(1900*time.Millisecond))
	assert.True(t, arm)
	assert.Equal(t, 100*time.Millisecond, delay)

	_, arm = c.Notify(update("/a", "bob", change.Presence), start.Add(2100*time.Millisecond))
	assert.False(t, arm, "an overdue batch keeps its expired deadline")
	assert.True(t, c.Due(start.Add(2100*time.Millisecond)))
}

func TestCoalescer_Cancel(t *testing.T) {
	c := NewCoalescer(0, 0)
	now := testutil.Epoch

	c.Notify(update("/a", "bob", change.Presence), now)
	c.Notify(update("/b", "dave", change.Presence), now)
	c.Notify(update("/a", "carol", change.Presence), now)

	assert.Equal(t, 2, c.Cancel("/a"))
	assert.Equal(t, 0, c.Cancel("/a"))
	assert.Equal(t, 1, c.Pending())

	// Merging still finds the surviving entry after reindexing.
	c.Notify(update("/b", "dave", change.Alias), now)
	out := c.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, change.Of(change.Presence, change.Alias), out[0].Mask)

	c.Notify(update("/a", "bob", change.Presence), now)
	c.Cancel("/a")
	_, waiting := c.Deadline()
	assert.False(t, waiting)
}
