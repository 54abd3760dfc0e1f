package world

import (
	"errors"
	"sync"
)

const (
	counterBits = 24
	counterMask = 1<<counterBits - 1
	maxEpoch    = 127
)

// ErrIDSpaceExhausted is returned once every epoch has been used up.
var ErrIDSpaceExhausted = errors.New("id space exhausted")

// IDAllocator hands out positive int32 ids laid out as epoch<<24 | counter.
// Different epochs keep separate namespaces apart (server ids, client local ids).
type IDAllocator struct {
	mu      sync.Mutex
	epoch   uint32
	counter uint32
}

// NewIDAllocator creates an allocator starting at the given epoch (clamped to 1..127).
func NewIDAllocator(epoch uint8) *IDAllocator {
	e := uint32(epoch)
	if e == 0 {
		e = 1
	}
	if e > maxEpoch {
		e = maxEpoch
	}
	return &IDAllocator{epoch: e}
}

// Next returns the next unused id.
func (a *IDAllocator) Next() (int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counter++
	if a.counter > counterMask {
		if a.epoch >= maxEpoch {
			a.counter = counterMask
			return 0, ErrIDSpaceExhausted
		}
		a.epoch++
		a.counter = 1
	}
	return int32(a.epoch<<counterBits | a.counter), nil
}

// Observe moves the allocator past an id allocated elsewhere, so restored
// worlds never get their ids handed out again.
func (a *IDAllocator) Observe(id int32) {
	if id <= 0 {
		return
	}
	epoch := uint32(id) >> counterBits
	counter := uint32(id) & counterMask

	a.mu.Lock()
	defer a.mu.Unlock()
	if epoch > a.epoch || (epoch == a.epoch && counter > a.counter) {
		a.epoch = epoch
		a.counter = counter
	}
}

// Epoch returns the epoch of the next id.
func (a *IDAllocator) Epoch() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint8(a.epoch)
}

// EpochOf extracts the epoch tag from an id.
func EpochOf(id int32) uint8 {
	return uint8(uint32(id) >> counterBits)
}
