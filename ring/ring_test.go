package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushUnderCapacity(t *testing.T) {
	b := New[int](3)
	_, evicted := b.Push(1)
	require.False(t, evicted)
	b.Push(2)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 3, b.Cap())
	assert.Equal(t, []int{1, 2}, b.Values())
}

func TestPushEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 3; i++ {
		b.Push(i)
	}
	old, evicted := b.Push(4)
	require.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, b.Values())

	for i := 5; i <= 9; i++ {
		b.Push(i)
	}
	assert.Equal(t, []int{7, 8, 9}, b.Values())
	assert.Equal(t, 3, b.Len())
}

func TestLast(t *testing.T) {
	b := New[float64](5)
	for _, v := range []float64{1, 2, 3, 4} {
		b.Push(v)
	}
	assert.Equal(t, []float64{3, 4}, b.Last(2))
	assert.Equal(t, []float64{1, 2, 3, 4}, b.Last(10))
	assert.Empty(t, b.Last(0))
}

func TestValuesIsACopy(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	values := b.Values()
	values[0] = 42
	assert.Equal(t, []int{1}, b.Values())
}

func TestReset(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Values())
	b.Push(7)
	assert.Equal(t, []int{7}, b.Values())
}

func TestMinimumCapacity(t *testing.T) {
	b := New[int](0)
	assert.Equal(t, 1, b.Cap())
	b.Push(1)
	b.Push(2)
	assert.Equal(t, []int{2}, b.Values())
}
