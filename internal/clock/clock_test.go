package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealTimerFires(t *testing.T) {
	timer := Real{}.NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop(), "fired timer is no longer pending")
}

func TestRealTimerStop(t *testing.T) {
	timer := Real{}.NewTimer(time.Hour)
	assert.True(t, timer.Stop())
}
