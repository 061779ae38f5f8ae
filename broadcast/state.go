package broadcast

// State is a value holder with the delivery semantics of a Broadcaster but
// no producer: values are pushed in with Set or Update. Every subscriber
// first receives the current value.
type State[T any] struct {
	*Broadcaster[T]
}

// NewState returns a holder seeded with initial. WithInitial is ignored.
func NewState[T any](initial T, opts ...Option) (*State[T], error) {
	cfg, err := resolve[T](opts)
	if err != nil {
		return nil, err
	}
	cfg.initial, cfg.hasInitial = initial, true
	return &State[T]{Broadcaster: newBroadcaster[T](nil, Eager(), nil, cfg)}, nil
}

// Value returns the current value.
func (s *State[T]) Value() T {
	v, _ := s.Broadcaster.Value()
	return v
}

// Set replaces the current value and reports whether subscribers were
// notified; with WithEqual an equal value is dropped.
func (s *State[T]) Set(v T) bool {
	b := s.Broadcaster
	b.mu.Lock()
	changed := b.publishLocked(v)
	b.mu.Unlock()
	if changed {
		b.obs.Emitted(b.info)
	}
	return changed
}

// Update atomically replaces the current value with fn applied to it. fn
// runs under the holder's lock and must not call back into it.
func (s *State[T]) Update(fn func(T) T) bool {
	b := s.Broadcaster
	b.mu.Lock()
	changed := b.publishLocked(fn(b.value))
	b.mu.Unlock()
	if changed {
		b.obs.Emitted(b.info)
	}
	return changed
}
