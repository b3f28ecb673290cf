// Package typing turns raw keystroke events into discrete started/stopped
// typing signals with a fixed quiet period.
package typing

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is how long a composer stays silent before a stop
// signal is emitted.
const DefaultQuietPeriod = 2 * time.Second

// Notifier debounces one composition box. The first keystroke of a burst
// emits exactly one start signal; the stop signal fires either after the
// quiet period elapses without keystrokes or immediately on Flush.
type Notifier struct {
	quiet   time.Duration
	onStart func()
	onStop  func()

	mu     sync.Mutex
	timer  *time.Timer
	typing bool
}

// NewNotifier returns a notifier with the given quiet period. A quiet
// period <= 0 falls back to DefaultQuietPeriod.
func NewNotifier(quiet time.Duration, onStart, onStop func()) *Notifier {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Notifier{quiet: quiet, onStart: onStart, onStop: onStop}
}

// Keystroke records composer activity. It emits a start signal on the first
// keystroke of a burst and resets the quiet-period timer on every one.
func (n *Notifier) Keystroke() {
	n.mu.Lock()
	started := false
	if !n.typing {
		n.typing = true
		started = true
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.quiet, n.timeout)
	n.mu.Unlock()

	if started {
		n.onStart()
	}
}

func (n *Notifier) timeout() {
	n.mu.Lock()
	if !n.typing {
		n.mu.Unlock()
		return
	}
	n.typing = false
	n.timer = nil
	n.mu.Unlock()

	n.onStop()
}

// Flush emits the stop signal immediately if a burst is in progress and
// cancels the pending timer. Called on explicit send so the recipient's
// indicator clears right away.
func (n *Notifier) Flush() {
	n.mu.Lock()
	wasTyping := n.typing
	n.typing = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	if wasTyping {
		n.onStop()
	}
}
