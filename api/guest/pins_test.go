package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinTable(t *testing.T) {
	p := newPinTable()

	assert.Zero(t, p.alloc(0))

	a := p.alloc(16)
	b := p.alloc(8)
	require.NotZero(t, a)
	require.NotZero(t, b)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, p.len())

	buf, ok := p.bytes(a, 16)
	require.True(t, ok)
	assert.Len(t, buf, 16)
	buf[0] = 0xAB

	again, ok := p.bytes(a, 4)
	require.True(t, ok)
	assert.Equal(t, byte(0xAB), again[0])

	_, ok = p.bytes(a, 17)
	assert.False(t, ok)

	assert.True(t, p.free(a))
	assert.False(t, p.free(a))
	_, ok = p.bytes(a, 1)
	assert.False(t, ok)
	assert.Equal(t, 1, p.len())
}
