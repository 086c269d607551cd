/**
 * @description
 * This file implements the data access layer for the subscription-service.
 * Storage is an in-memory map keyed by user id; real persistence is out of
 * scope for this service, so the repository stands in for a database while
 * keeping database-shaped semantics (copies in and out, id assignment on
 * insert, a not-found sentinel).
 */
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veltra/subscription-service/internal/domain"
)

// ErrSubscriptionNotFound is returned when a user has no subscription record.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Repository handles storage operations for subscriptions.
type Repository struct {
	mu   sync.RWMutex
	subs map[string]*domain.Subscription // keyed by user id
}

// NewRepository creates a new, empty repository.
func NewRepository() *Repository {
	return &Repository{subs: make(map[string]*domain.Subscription)}
}

// GetSubscriptionByUserID retrieves a subscription for a given user ID.
func (r *Repository) GetSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

// CreateOrUpdateSubscription creates a new subscription or replaces an
// existing one for the user. A record without an id is assigned a fresh one,
// mirroring how a database would on insert.
func (r *Repository) CreateOrUpdateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneSubscription(sub)
	if strings.TrimSpace(stored.ID) == "" {
		stored.ID = "sub_" + uuid.New().String()
	}
	r.subs[stored.UserID] = stored

	return cloneSubscription(stored), nil
}

// DecrementCredits atomically reduces a user's remaining credits by amount,
// clamping at zero, and returns the updated record.
func (r *Repository) DecrementCredits(ctx context.Context, userID string, amount int) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}

	sub.CreditsRemaining -= amount
	if sub.CreditsRemaining < 0 {
		sub.CreditsRemaining = 0
	}

	return cloneSubscription(sub), nil
}

// GetOverdueSubscriptions returns every active subscription whose current
// period ended before asOf. Used by the billing sweep.
func (r *Repository) GetOverdueSubscriptions(ctx context.Context, asOf time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var overdue []domain.Subscription
	for _, sub := range r.subs {
		if sub.Status == domain.StatusActive && sub.CurrentPeriodEnd.Before(asOf) {
			overdue = append(overdue, *cloneSubscription(sub))
		}
	}
	return overdue, nil
}

// UpdateSubscriptionStatus sets the status field of a user's subscription,
// leaving every other field untouched.
func (r *Repository) UpdateSubscriptionStatus(ctx context.Context, userID string, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[userID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Status = status
	return nil
}

// cloneSubscription copies a record so callers never alias stored state.
func cloneSubscription(sub *domain.Subscription) *domain.Subscription {
	c := *sub
	return &c
}
