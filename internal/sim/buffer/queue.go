// Package buffer holds the fixed-capacity containers that carry material
// between stations. Full and empty are ordinary outcomes: callers branch on
// the returned bool instead of handling errors.
package buffer

// Queue is a fixed-capacity FIFO backed by a ring.
type Queue[T any] struct {
	items []T
	head  int
	n     int
}

// NewQueue returns an empty queue. Capacities below 1 are clamped to 1.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Enqueue appends v and reports whether it was accepted.
// A full queue refuses the item; the caller keeps it and may retry later.
func (q *Queue[T]) Enqueue(v T) bool {
	if q.n == len(q.items) {
		return false
	}
	q.items[(q.head+q.n)%len(q.items)] = v
	q.n++
	return true
}

func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.n--
	return v, true
}

func (q *Queue[T]) Peek() (T, bool) {
	if q.n == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

func (q *Queue[T]) IsFull() bool  { return q.n == len(q.items) }
func (q *Queue[T]) IsEmpty() bool { return q.n == 0 }
func (q *Queue[T]) Len() int      { return q.n }
func (q *Queue[T]) Cap() int      { return len(q.items) }
func (q *Queue[T]) Free() int     { return len(q.items) - q.n }

// Items returns a copy of the queued values, head first.
func (q *Queue[T]) Items() []T {
	out := make([]T, 0, q.n)
	for i := 0; i < q.n; i++ {
		out = append(out, q.items[(q.head+i)%len(q.items)])
	}
	return out
}
