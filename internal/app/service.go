/**
 * @description
 * This file contains the core business logic for the subscription-service.
 * The Service layer orchestrates data from the repository, applies business
 * rules, publishes billing events, and feeds subscription changes to
 * watchers. It also implements the backend client interface the client-side
 * state container depends on, so it can be wired directly as the in-process
 * backend.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/veltra/subscription-service/internal/domain"
	"github.com/veltra/subscription-service/internal/store"
	"github.com/veltra/subscription-service/pkg/rabbitmq"
)

// BillingEventsExchange is the topic exchange subscription lifecycle events
// are published to.
const BillingEventsExchange = "billing_events"

// Routing keys for billing events.
const (
	RoutingKeySubscriptionCreated   = "subscription.created"
	RoutingKeySubscriptionCancelled = "subscription.cancelled"
	RoutingKeySubscriptionPastDue   = "subscription.past_due"
)

// ErrInvalidCreditAmount is returned when a credit consumption request does
// not carry a positive amount.
var ErrInvalidCreditAmount = errors.New("credit amount must be positive")

// Repository defines the interface for storage operations that the service needs.
type Repository interface {
	GetSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
	CreateOrUpdateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	DecrementCredits(ctx context.Context, userID string, amount int) (*domain.Subscription, error)
	GetOverdueSubscriptions(ctx context.Context, asOf time.Time) ([]domain.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, userID string, status string) error
}

// Service provides the business logic for subscription management.
type Service struct {
	repo      Repository
	publisher rabbitmq.Publisher

	mu       sync.Mutex
	watchers map[string]map[chan *domain.Subscription]struct{}
}

// NewService creates a new subscription service.
func NewService(repo Repository, publisher rabbitmq.Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		watchers:  make(map[string]map[chan *domain.Subscription]struct{}),
	}
}

// ListPlans returns the static plan catalog.
func (s *Service) ListPlans() []domain.Plan {
	return domain.Plans()
}

// FetchSubscription returns the user's subscription, or nil when the user has
// none. Absence is a valid state, not an error.
func (s *Service) FetchSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// CreateSubscription replaces the user's subscription with a fresh record on
// the given plan: new id, active status, a period ending 30 days from now,
// and the plan's full monthly credit allotment.
func (s *Service) CreateSubscription(ctx context.Context, userID, planID string) (*domain.Subscription, error) {
	plan, ok := domain.PlanByID(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, planID)
	}

	sub := &domain.Subscription{
		UserID:           userID,
		PlanID:           plan.ID,
		Status:           domain.StatusActive,
		CurrentPeriodEnd: time.Now().AddDate(0, 0, 30),
		CreditsRemaining: plan.CreditsPerMonth,
	}

	created, err := s.repo.CreateOrUpdateSubscription(ctx, sub)
	if err != nil {
		log.Printf("Failed to store subscription for user %s: %v", userID, err)
		return nil, err
	}

	s.publishEvent(ctx, RoutingKeySubscriptionCreated, created)
	s.notifyWatchers(created)
	return created, nil
}

// CancelSubscription sets the user's subscription status to cancelled.
// Remaining credits and the current period end are left untouched;
// cancellation does not forfeit anything under current billing rules.
func (s *Service) CancelSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, domain.ErrNoActiveSubscription
		}
		return nil, err
	}

	sub.Status = domain.StatusCancelled
	updated, err := s.repo.CreateOrUpdateSubscription(ctx, sub)
	if err != nil {
		log.Printf("Failed to cancel subscription for user %s: %v", userID, err)
		return nil, err
	}

	s.publishEvent(ctx, RoutingKeySubscriptionCancelled, updated)
	s.notifyWatchers(updated)
	return updated, nil
}

// GetUsage derives the credit usage for a user's current subscription.
// A missing subscription yields the zero-valued usage.
func (s *Service) GetUsage(ctx context.Context, userID string) (domain.CreditUsage, error) {
	sub, err := s.FetchSubscription(ctx, userID)
	if err != nil {
		return domain.CreditUsage{}, err
	}
	return domain.UsageFor(sub), nil
}

// ConsumeCredits decrements a user's remaining credits, clamping at zero, and
// returns the updated record.
func (s *Service) ConsumeCredits(ctx context.Context, userID string, amount int) (*domain.Subscription, error) {
	if amount <= 0 {
		return nil, ErrInvalidCreditAmount
	}

	updated, err := s.repo.DecrementCredits(ctx, userID, amount)
	if err != nil {
		return nil, err
	}

	s.notifyWatchers(updated)
	return updated, nil
}

// ExpireOverdueSubscriptions marks every active subscription whose current
// period has lapsed as past_due and returns how many were swept. This sweep
// is the only producer of the past_due status.
func (s *Service) ExpireOverdueSubscriptions(ctx context.Context) (int, error) {
	overdue, err := s.repo.GetOverdueSubscriptions(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range overdue {
		sub := overdue[i]
		if err := s.repo.UpdateSubscriptionStatus(ctx, sub.UserID, domain.StatusPastDue); err != nil {
			log.Printf("Failed to mark subscription past_due for user %s: %v", sub.UserID, err)
			continue
		}
		sub.Status = domain.StatusPastDue
		s.publishEvent(ctx, RoutingKeySubscriptionPastDue, &sub)
		s.notifyWatchers(&sub)
		swept++
	}
	return swept, nil
}

// Watch returns a channel that receives the post-change record every time the
// user's subscription changes, plus a cancel function that releases the
// watcher. Slow consumers miss intermediate states rather than block
// mutations.
func (s *Service) Watch(userID string) (<-chan *domain.Subscription, func()) {
	ch := make(chan *domain.Subscription, 8)

	s.mu.Lock()
	if s.watchers[userID] == nil {
		s.watchers[userID] = make(map[chan *domain.Subscription]struct{})
	}
	s.watchers[userID][ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		set, ok := s.watchers[userID]
		if !ok {
			return
		}
		if _, registered := set[ch]; !registered {
			return
		}
		delete(set, ch)
		close(ch)
		if len(set) == 0 {
			delete(s.watchers, userID)
		}
	}
	return ch, cancel
}

// notifyWatchers pushes the updated record to every watcher of the user.
func (s *Service) notifyWatchers(sub *domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.watchers[sub.UserID] {
		select {
		case ch <- sub:
		default:
			// Watcher is behind; drop rather than block the mutation.
		}
	}
}

// publishEvent emits a billing event for a subscription change. Publish
// failures are logged and never fail the operation that triggered them.
func (s *Service) publishEvent(ctx context.Context, routingKey string, sub *domain.Subscription) {
	event := domain.SubscriptionEvent{
		UserID:           sub.UserID,
		SubscriptionID:   sub.ID,
		PlanID:           sub.PlanID,
		Status:           sub.Status,
		CreditsRemaining: sub.CreditsRemaining,
	}
	if err := s.publisher.Publish(ctx, BillingEventsExchange, routingKey, event); err != nil {
		log.Printf("Failed to publish %s event for user %s: %v", routingKey, sub.UserID, err)
	}
}
