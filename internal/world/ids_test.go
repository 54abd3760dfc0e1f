package world

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDAllocator_EpochTag(t *testing.T) {
	a := NewIDAllocator(5)
	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, uint8(5), EpochOf(id))
	assert.Equal(t, int32(5<<24|1), id)
}

func TestIDAllocator_ClampsEpoch(t *testing.T) {
	assert.Equal(t, uint8(1), NewIDAllocator(0).Epoch())
	assert.Equal(t, uint8(127), NewIDAllocator(200).Epoch())
}

func TestIDAllocator_RollsOverToNextEpoch(t *testing.T) {
	a := NewIDAllocator(3)
	a.counter = counterMask

	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, uint8(4), EpochOf(id))
	assert.Equal(t, int32(4<<24|1), id)
}

func TestIDAllocator_Exhausted(t *testing.T) {
	a := NewIDAllocator(127)
	a.counter = counterMask

	_, err := a.Next()
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
	_, err = a.Next()
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestIDAllocator_Observe(t *testing.T) {
	a := NewIDAllocator(1)
	a.Observe(1<<24 | 500)
	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, int32(1<<24|501), id)

	// older ids never move the allocator back
	a.Observe(1<<24 | 3)
	a.Observe(-1)
	id, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, int32(1<<24|502), id)
}

func TestIDAllocator_ConcurrentUnique(t *testing.T) {
	a := NewIDAllocator(1)
	var mu sync.Mutex
	seen := make(map[int32]bool)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id, err := a.Next()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8000)
}
