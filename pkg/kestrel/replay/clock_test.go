package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMockClockSetAndAdvance(t *testing.T) {
	c := NewMockClock(1000)
	assert.Equal(t, int64(1000), c.NowNs())

	c.Set(5000)
	assert.Equal(t, int64(5000), c.NowNs())

	got := c.Advance(250)
	assert.Equal(t, int64(5250), got)
	assert.Equal(t, int64(5250), c.NowNs())
}
