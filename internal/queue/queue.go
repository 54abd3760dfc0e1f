// Package queue provides small thread-safe buffers.
package queue

import (
	"sort"
	"sync"
)

// Queue is a generic thread-safe FIFO queue. A bounded queue drops its
// oldest items to make room for new ones.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
}

// New creates a new empty unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
	}
}

// NewBounded creates a queue holding at most capacity items.
func NewBounded[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		return New[T]()
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends items to the queue and returns how many old items were dropped.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if q.capacity == 0 || len(q.items) <= q.capacity {
		return 0
	}
	dropped := len(q.items) - q.capacity
	q.items = append(q.items[:0], q.items[dropped:]...)
	return dropped
}

// Pop removes and returns the first item. Returns zero value if empty.
func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Peek returns the first item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Last returns the most recently pushed item.
func (q *Queue[T]) Last() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[len(q.items)-1], true
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all items from the queue.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// GetAndEmpty returns all items and clears the queue.
func (q *Queue[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}

// Sorted is a thread-safe list kept ordered by less. Items comparing equal
// keep their insertion order.
type Sorted[T any] struct {
	mu    sync.Mutex
	items []T
	less  func(a, b T) bool
}

// NewSorted creates an empty sorted list.
func NewSorted[T any](less func(a, b T) bool) *Sorted[T] {
	return &Sorted[T]{less: less}
}

// Insert adds an item after every item not greater than it.
func (s *Sorted[T]) Insert(item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.items), func(i int) bool { return s.less(item, s.items[i]) })
	var zero T
	s.items = append(s.items, zero)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = item
}

// PopWhile removes and returns the leading items for which ok holds.
func (s *Sorted[T]) PopWhile(ok func(T) bool) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(s.items) && ok(s.items[n]) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	copy(out, s.items[:n])
	s.items = append(s.items[:0], s.items[n:]...)
	return out
}

// Len returns the number of items in the list.
func (s *Sorted[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// GetAndEmpty returns all items in order and clears the list.
func (s *Sorted[T]) GetAndEmpty() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.items
	s.items = nil
	return result
}
