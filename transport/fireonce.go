package transport

import "sync"

// FireOnce is a latch holding a set of callbacks that run exactly once.
// Adding a callback after the latch fired returns ErrAlreadyFired so the
// caller learns it missed the event.
type FireOnce struct {
	mu       sync.Mutex
	fired    bool
	handlers []func()
}

// Add registers h to run when the latch fires.
func (f *FireOnce) Add(h func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired {
		return ErrAlreadyFired
	}
	f.handlers = append(f.handlers, h)
	return nil
}

// Fire runs the registered callbacks outside the lock. Only the first call
// returns true.
func (f *FireOnce) Fire() bool {
	f.mu.Lock()
	if f.fired {
		f.mu.Unlock()
		return false
	}
	f.fired = true
	handlers := f.handlers
	f.handlers = nil
	f.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	return true
}

// HasFired reports whether Fire has been called.
func (f *FireOnce) HasFired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired
}
