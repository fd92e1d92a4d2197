// Package notify provides a process-local, one-shot completion signal
// per flow, letting the status endpoint block briefly instead of the UI
// polling on a fixed timer.
package notify

import (
	"sync"
	"time"
)

// nowFunc returns the current time. Overridden in tests.
var nowFunc = time.Now

type entry struct {
	ch      chan struct{}
	waiters int
	done    bool
	doneAt  time.Time
}

// Notifier broadcasts one-shot completion events keyed by flow. Waiting
// on a key that was already completed returns a closed channel, so late
// waiters never block. Completion marks are retained at most as long as
// the credential they signalled stays retrievable; a mark that outlives
// its credential is meaningless.
type Notifier struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
}

// NewNotifier creates a notifier keeping completion marks for at most
// retention. A non-positive retention keeps marks until Reset.
func NewNotifier(retention time.Duration) *Notifier {
	return &Notifier{
		entries:   make(map[string]*entry),
		retention: retention,
	}
}

// Wait returns a channel that is closed once Done(key) has been called,
// plus a release function the caller must invoke when it stops waiting.
// Release drops the entry again when nothing completed and nobody else
// waits, so abandoned flows do not accumulate entries.
func (n *Notifier) Wait(key string) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sweepLocked()

	e, ok := n.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{})}
		n.entries[key] = e
	}
	e.waiters++

	var once sync.Once
	release := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()

			e.waiters--
			// The entry may have been replaced by a Reset in between
			if e.waiters == 0 && !e.done && n.entries[key] == e {
				delete(n.entries, key)
			}
		})
	}
	return e.ch, release
}

// Done marks key complete and wakes all current and future waiters.
// Calling Done twice for one key is a no-op.
func (n *Notifier) Done(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sweepLocked()

	e, ok := n.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{})}
		n.entries[key] = e
	}
	if e.done {
		return
	}

	e.done = true
	e.doneAt = nowFunc()
	close(e.ch)
}

// Reset clears the completion mark for key so the identity can run a
// fresh flow. Called when a stored credential is consumed and when a
// new flow is issued. Waiters still holding the old channel time out on
// their own.
func (n *Notifier) Reset(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.entries, key)
}

// sweepLocked drops completed entries whose mark has outlived the
// retention window and that nobody waits on.
func (n *Notifier) sweepLocked() {
	if n.retention <= 0 {
		return
	}

	now := nowFunc()
	for key, e := range n.entries {
		if e.done && e.waiters == 0 && now.Sub(e.doneAt) > n.retention {
			delete(n.entries, key)
		}
	}
}
