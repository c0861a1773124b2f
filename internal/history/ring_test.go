package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldestFIFO(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := NewRing[int](10)
	for i := 0; i < 1000; i++ {
		r.Push(i)
		require.LessOrEqual(t, r.Len(), 10)
	}
	assert.Equal(t, 10, r.Len())
}

func TestRingLast(t *testing.T) {
	r := NewRing[int](5)
	for i := 1; i <= 4; i++ {
		r.Push(i)
	}

	assert.Equal(t, []int{3, 4}, r.Last(2))
	assert.Equal(t, []int{1, 2, 3, 4}, r.Last(10), "asking for more than stored returns everything")
	assert.Empty(t, r.Last(0))
}

func TestRingClear(t *testing.T) {
	r := NewRing[string](4)
	r.Push("a")
	r.Push("b")
	r.Clear()

	assert.Zero(t, r.Len())
	assert.Empty(t, r.Items())
}

func TestRingConcurrentPush(t *testing.T) {
	r := NewRing[int](50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Push(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
}
