package controller

import "sync"

// Signal is a single-fire cancellation flag safe for concurrent use.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire sets the signal. Only the first call has an effect and returns true.
func (s *Signal) Fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}

// Done is closed once the signal fired.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
