package buffer

// Stack is the LIFO companion of Queue with the same refusal contract.
type Stack[T any] struct {
	items []T
	cap   int
}

// NewStack returns an empty stack. Capacities below 1 are clamped to 1.
func NewStack[T any](capacity int) *Stack[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Stack[T]{items: make([]T, 0, capacity), cap: capacity}
}

func (s *Stack[T]) Push(v T) bool {
	if len(s.items) >= s.cap {
		return false
	}
	s.items = append(s.items, v)
	return true
}

func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	last := len(s.items) - 1
	v := s.items[last]
	s.items[last] = zero
	s.items = s.items[:last]
	return v, true
}

func (s *Stack[T]) Peek() (T, bool) {
	if len(s.items) == 0 {
		var zero T
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

func (s *Stack[T]) IsFull() bool  { return len(s.items) >= s.cap }
func (s *Stack[T]) IsEmpty() bool { return len(s.items) == 0 }
func (s *Stack[T]) Len() int      { return len(s.items) }
func (s *Stack[T]) Cap() int      { return s.cap }
