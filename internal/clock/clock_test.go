package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []string
	c.AfterFunc(500*time.Millisecond, func() { order = append(order, "late") })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "early") })

	c.Advance(199 * time.Millisecond)
	assert.Empty(t, order)

	c.Advance(time.Second)
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFakeNestedTimersWithinWindow(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var at []time.Duration
	start := c.Now()
	c.AfterFunc(200*time.Millisecond, func() {
		at = append(at, c.Now().Sub(start))
		c.AfterFunc(500*time.Millisecond, func() {
			at = append(at, c.Now().Sub(start))
		})
	})

	c.Advance(time.Second)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 700 * time.Millisecond}, at)
	assert.Equal(t, start.Add(time.Second), c.Now())
}
