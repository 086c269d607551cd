/**
 * @description
 * This file implements the client-side subscription state container. It holds
 * the signed-in user's subscription, the plan catalog, and a loading flag,
 * and exposes the plan-change operations consuming components call. The
 * container takes its backend client as an explicit dependency and reacts to
 * identity changes from an identity source; it never looks anything up
 * ambiently.
 */
package state

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/veltra/subscription-service/internal/domain"
	"github.com/veltra/subscription-service/internal/identity"
)

// ErrNoIdentity is returned when an operation requires a signed-in user and
// the container has none bound.
var ErrNoIdentity = errors.New("no authenticated user")

// BackendClient is the seam to the subscription backend. FetchSubscription
// returns (nil, nil) when the user has no subscription; absence is a valid
// state, not an error.
type BackendClient interface {
	FetchSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	CreateSubscription(ctx context.Context, userID, planID string) (*domain.Subscription, error)
	CancelSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
}

// Store holds the subscription state for the currently signed-in user.
//
// Operations may overlap: there is no mutual exclusion across them, so two
// racing SubscribeToPlan calls leave the last-to-complete's write as final
// state, and the loading flag is one boolean shared by every in-flight
// operation rather than a reference count. The mutex guards individual field
// access for memory safety only.
type Store struct {
	client BackendClient

	mu           sync.RWMutex
	userID       string
	subscription *domain.Subscription
	loading      bool
}

// NewStore creates a state container backed by the given client.
func NewStore(client BackendClient) *Store {
	return &Store{client: client}
}

// Plans returns the static plan catalog.
func (s *Store) Plans() []domain.Plan {
	return domain.Plans()
}

// Subscription returns a copy of the held subscription, or nil when the user
// has none or nobody is signed in.
func (s *Store) Subscription() *domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.subscription == nil {
		return nil
	}
	c := *s.subscription
	return &c
}

// Loading reports whether a backend call is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Watch consumes identity changes from the source until the context is
// cancelled. The current identity is applied immediately, then every change
// refetches or clears the subscription.
func (s *Store) Watch(ctx context.Context, source identity.Source) {
	changes, cancel := source.Subscribe()
	defer cancel()

	s.SetUser(ctx, source.Current())

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-changes:
			if !ok {
				return
			}
			s.SetUser(ctx, u)
		}
	}
}

// SetUser applies an identity change. A nil user signals sign-out and clears
// the subscription and the loading flag; a present user is bound and their
// subscription fetched.
func (s *Store) SetUser(ctx context.Context, u *identity.User) {
	if u == nil {
		s.mu.Lock()
		s.userID = ""
		s.subscription = nil
		s.loading = false
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.userID = u.ID
	s.mu.Unlock()

	s.fetch(ctx, u.ID)
}

// Refresh refetches the subscription for the bound user. Without a bound
// user it is a no-op.
func (s *Store) Refresh(ctx context.Context) {
	s.mu.RLock()
	userID := s.userID
	s.mu.RUnlock()

	if userID == "" {
		return
	}
	s.fetch(ctx, userID)
}

// fetch loads the user's subscription from the backend. Failures are logged
// and swallowed, leaving the subscription absent; callers cannot distinguish
// "no subscription" from "fetch failed".
func (s *Store) fetch(ctx context.Context, userID string) {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	sub, err := s.client.FetchSubscription(ctx, userID)
	if err != nil {
		log.Printf("Failed to fetch subscription for user %s: %v", userID, err)
		sub = nil
	}

	s.mu.Lock()
	// A completion that arrives after the identity has changed again is
	// stale; the state now belongs to someone else (or nobody).
	if s.userID == userID {
		s.subscription = sub
		s.loading = false
	}
	s.mu.Unlock()
}

// SubscribeToPlan replaces the user's subscription with a fresh one on the
// given plan. On failure the held subscription is unchanged, the loading
// flag is still cleared, and the error is returned after logging.
func (s *Store) SubscribeToPlan(ctx context.Context, planID string) (*domain.Subscription, error) {
	s.mu.Lock()
	userID := s.userID
	if userID == "" {
		s.mu.Unlock()
		return nil, ErrNoIdentity
	}
	s.loading = true
	s.mu.Unlock()

	sub, err := s.client.CreateSubscription(ctx, userID, planID)

	s.mu.Lock()
	if err == nil && s.userID == userID {
		c := *sub
		s.subscription = &c
	}
	s.loading = false
	s.mu.Unlock()

	if err != nil {
		log.Printf("Failed to subscribe user %s to plan %s: %v", userID, planID, err)
		return nil, err
	}
	return sub, nil
}

// CancelSubscription marks the held subscription cancelled. Remaining
// credits and the current period end are untouched; cancellation forfeits
// nothing under current billing rules.
func (s *Store) CancelSubscription(ctx context.Context) (*domain.Subscription, error) {
	s.mu.Lock()
	userID := s.userID
	if userID == "" {
		s.mu.Unlock()
		return nil, ErrNoIdentity
	}
	if s.subscription == nil {
		s.mu.Unlock()
		log.Printf("Cannot cancel: user %s has no active subscription", userID)
		return nil, domain.ErrNoActiveSubscription
	}
	s.loading = true
	s.mu.Unlock()

	sub, err := s.client.CancelSubscription(ctx, userID)

	s.mu.Lock()
	if err == nil && s.userID == userID {
		c := *sub
		s.subscription = &c
	}
	s.loading = false
	s.mu.Unlock()

	if err != nil {
		log.Printf("Failed to cancel subscription for user %s: %v", userID, err)
		return nil, err
	}
	return sub, nil
}

// CreditUsage derives the usage snapshot from the held subscription and the
// plan catalog. Pure read: zeros when there is no subscription or the plan
// reference dangles.
func (s *Store) CreditUsage() domain.CreditUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.UsageFor(s.subscription)
}
