// Package ref implements strong/weak reference semantics for values that are
// shared across threads but owned by none of them in particular, the way an
// Output is held by callers, encoder callbacks, and sink callbacks at once.
package ref

import "sync/atomic"

// Control is a reference-counted control block. The strong count governs
// destruction of the target; the weak count governs whether the block
// itself may be released once no strong or weak holder remains.
type Control[T any] struct {
	strong atomic.Int32
	weak   atomic.Int32
	target T
}

// New creates a control block for target with one strong and one weak
// reference already held by the caller.
func New[T any](target T) *Control[T] {
	c := &Control[T]{target: target}
	c.strong.Store(1)
	c.weak.Store(1)
	return c
}

// Strong is an owning handle. Multiple Strong values may share one Control.
type Strong[T any] struct {
	c *Control[T]
}

// Weak is a non-owning handle that can be upgraded to a Strong only while
// at least one Strong handle is still alive.
type Weak[T any] struct {
	c *Control[T]
}

// Get returns the target value.
func (s Strong[T]) Get() T { return s.c.target }

// Clone increments the strong count and returns a new Strong handle sharing
// the same control block.
func (s Strong[T]) Clone() Strong[T] {
	s.c.strong.Add(1)
	return Strong[T]{c: s.c}
}

// Weaken returns a Weak handle to the same control block, incrementing the
// weak count.
func (s Strong[T]) Weaken() Weak[T] {
	s.c.weak.Add(1)
	return Weak[T]{c: s.c}
}

// Release drops one strong reference. destroy is invoked exactly once, when
// the strong count reaches zero. The control block's own allocation is
// reclaimed by the garbage collector once the last Weak is also released;
// there is nothing to free explicitly.
func (s Strong[T]) Release(destroy func(T)) {
	if s.c.strong.Add(-1) == 0 && destroy != nil {
		destroy(s.c.target)
	}
}

// Upgrade attempts to produce a Strong handle from a Weak one. It fails
// (ok == false) once the strong count has already reached zero; it never
// resurrects a destroyed target.
func (w Weak[T]) Upgrade() (s Strong[T], ok bool) {
	for {
		cur := w.c.strong.Load()
		if cur <= 0 {
			return Strong[T]{}, false
		}
		if w.c.strong.CompareAndSwap(cur, cur+1) {
			return Strong[T]{c: w.c}, true
		}
	}
}

// Release drops one weak reference.
func (w Weak[T]) Release() {
	w.c.weak.Add(-1)
}

// FromControl wraps an existing control block as a Strong handle without
// adjusting refcounts; used by New's caller to obtain the initial handle.
func FromControl[T any](c *Control[T]) Strong[T] {
	return Strong[T]{c: c}
}

// WeakFromControl mirrors FromControl for the initial weak handle.
func WeakFromControl[T any](c *Control[T]) Weak[T] {
	return Weak[T]{c: c}
}
