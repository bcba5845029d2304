package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualAdvanceAndSet(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewManual(start)
	require.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	require.Equal(t, start.Add(90*time.Second), c.Now())

	c.Set(start)
	require.Equal(t, start, c.Now())
}

func TestSystemIsMonotonicEnough(t *testing.T) {
	var c Clock = System{}
	a := c.Now()
	b := c.Now()
	require.False(t, b.Before(a))
}
