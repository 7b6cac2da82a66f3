package bridge

import "sync"

// Handle identifies a native resource owned by a Native implementation. The
// zero Handle is never issued.
type Handle uint64

// Arena maps handles to the values they stand for. Native pointers stay
// inside the arena; everything above the bridge only sees Handles.
type Arena[T any] struct {
	mu    sync.Mutex
	next  Handle
	items map[Handle]T
}

// NewArena creates an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{items: make(map[Handle]T)}
}

// Insert stores v and returns its new handle.
func (a *Arena[T]) Insert(v T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.next++
	a.items[a.next] = v
	return a.next
}

// Get returns the value for h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.items[h]
	return v, ok
}

// Remove deletes h and returns the value it held.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.items[h]
	if ok {
		delete(a.items, h)
	}
	return v, ok
}

// Len returns the number of live handles.
func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}
