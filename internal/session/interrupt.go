package session

import "sync/atomic"

// Interrupt is the user's request to stop the countdown and pick by hand. It
// is polled at countdown ticks only.
type Interrupt struct {
	raised atomic.Bool
}

// Raise sets the flag.
func (i *Interrupt) Raise() { i.raised.Store(true) }

// Raised reports whether the flag is set.
func (i *Interrupt) Raised() bool { return i.raised.Load() }

// Clear resets the flag.
func (i *Interrupt) Clear() { i.raised.Store(false) }
