/**
 * @description
 * This file models the identity collaborator the subscription state container
 * binds to. Authentication itself is owned by the platform's identity
 * provider; this package only tracks who is signed in right now and notifies
 * observers when that changes.
 */
package identity

import "sync"

// User identifies the signed-in principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Source provides the current user and a feed of identity changes. A nil
// user means nobody is signed in.
type Source interface {
	Current() *User
	Subscribe() (<-chan *User, func())
}

// Broadcaster is an in-process identity source. The auth integration calls
// SetUser as sessions begin and end; subscribers receive each change.
type Broadcaster struct {
	mu      sync.Mutex
	current *User
	subs    map[chan *User]struct{}
}

// NewBroadcaster creates a Broadcaster with nobody signed in.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan *User]struct{})}
}

// Current returns the signed-in user, or nil.
func (b *Broadcaster) Current() *User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// SetUser records an identity change and notifies subscribers. Passing nil
// signals sign-out.
func (b *Broadcaster) SetUser(u *User) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = u
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			// Subscriber is behind. Drop its oldest queued change so the
			// newest identity always gets through.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
}

// Subscribe registers for identity changes. The returned cancel function
// releases the subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan *User, func()) {
	ch := make(chan *User, 4)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; !ok {
			return
		}
		delete(b.subs, ch)
		close(ch)
	}
	return ch, cancel
}
