package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/veltra/subscription-service/internal/domain"
)

func newActiveSubscription(userID string) *domain.Subscription {
	return &domain.Subscription{
		UserID:           userID,
		PlanID:           "plan_pro",
		Status:           domain.StatusActive,
		CurrentPeriodEnd: time.Now().AddDate(0, 0, 30),
		CreditsRemaining: 100,
	}
}

func TestGetSubscriptionByUserID_NotFound(t *testing.T) {
	repo := NewRepository()

	_, err := repo.GetSubscriptionByUserID(context.Background(), "user_absent")
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestCreateOrUpdateSubscription_AssignsID(t *testing.T) {
	repo := NewRepository()

	created, err := repo.CreateOrUpdateSubscription(context.Background(), newActiveSubscription("user_1"))
	if err != nil {
		t.Fatalf("CreateOrUpdateSubscription returned error: %v", err)
	}
	if !strings.HasPrefix(created.ID, "sub_") {
		t.Fatalf("expected assigned id with sub_ prefix, got %q", created.ID)
	}

	fetched, err := repo.GetSubscriptionByUserID(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("GetSubscriptionByUserID returned error: %v", err)
	}
	if fetched.ID != created.ID {
		t.Fatalf("expected stored id %q, got %q", created.ID, fetched.ID)
	}
}

func TestCreateOrUpdateSubscription_ReplacesExisting(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	first, err := repo.CreateOrUpdateSubscription(ctx, newActiveSubscription("user_1"))
	if err != nil {
		t.Fatalf("first upsert returned error: %v", err)
	}

	replacement := newActiveSubscription("user_1")
	replacement.PlanID = "plan_enterprise"
	replacement.CreditsRemaining = 1000
	second, err := repo.CreateOrUpdateSubscription(ctx, replacement)
	if err != nil {
		t.Fatalf("second upsert returned error: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected replacement to be assigned a fresh id, both were %q", second.ID)
	}

	fetched, err := repo.GetSubscriptionByUserID(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetSubscriptionByUserID returned error: %v", err)
	}
	if fetched.PlanID != "plan_enterprise" {
		t.Fatalf("expected stored plan plan_enterprise, got %q", fetched.PlanID)
	}
}

func TestCreateOrUpdateSubscription_KeepsProvidedID(t *testing.T) {
	repo := NewRepository()

	sub := newActiveSubscription("user_1")
	sub.ID = "sub_existing"
	stored, err := repo.CreateOrUpdateSubscription(context.Background(), sub)
	if err != nil {
		t.Fatalf("CreateOrUpdateSubscription returned error: %v", err)
	}
	if stored.ID != "sub_existing" {
		t.Fatalf("expected provided id to be kept, got %q", stored.ID)
	}
}

func TestRepositoryReturnsCopies(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	created, err := repo.CreateOrUpdateSubscription(ctx, newActiveSubscription("user_1"))
	if err != nil {
		t.Fatalf("CreateOrUpdateSubscription returned error: %v", err)
	}

	// Mutating the returned record must not leak into storage.
	created.CreditsRemaining = 1
	created.Status = domain.StatusPastDue

	fetched, err := repo.GetSubscriptionByUserID(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetSubscriptionByUserID returned error: %v", err)
	}
	if fetched.CreditsRemaining != 100 {
		t.Fatalf("expected stored credits 100, got %d", fetched.CreditsRemaining)
	}
	if fetched.Status != domain.StatusActive {
		t.Fatalf("expected stored status %q, got %q", domain.StatusActive, fetched.Status)
	}
}

func TestDecrementCredits(t *testing.T) {
	tests := []struct {
		name   string
		start  int
		amount int
		want   int
	}{
		{name: "partial decrement", start: 100, amount: 40, want: 60},
		{name: "exact decrement", start: 40, amount: 40, want: 0},
		{name: "clamps at zero", start: 10, amount: 40, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewRepository()
			ctx := context.Background()

			sub := newActiveSubscription("user_1")
			sub.CreditsRemaining = tt.start
			if _, err := repo.CreateOrUpdateSubscription(ctx, sub); err != nil {
				t.Fatalf("CreateOrUpdateSubscription returned error: %v", err)
			}

			updated, err := repo.DecrementCredits(ctx, "user_1", tt.amount)
			if err != nil {
				t.Fatalf("DecrementCredits returned error: %v", err)
			}
			if updated.CreditsRemaining != tt.want {
				t.Fatalf("expected %d credits remaining, got %d", tt.want, updated.CreditsRemaining)
			}
		})
	}
}

func TestDecrementCredits_NotFound(t *testing.T) {
	repo := NewRepository()

	_, err := repo.DecrementCredits(context.Background(), "user_absent", 5)
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestGetOverdueSubscriptions(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	now := time.Now()

	overdue := newActiveSubscription("user_overdue")
	overdue.CurrentPeriodEnd = now.Add(-time.Hour)
	if _, err := repo.CreateOrUpdateSubscription(ctx, overdue); err != nil {
		t.Fatalf("upsert overdue returned error: %v", err)
	}

	current := newActiveSubscription("user_current")
	current.CurrentPeriodEnd = now.Add(time.Hour)
	if _, err := repo.CreateOrUpdateSubscription(ctx, current); err != nil {
		t.Fatalf("upsert current returned error: %v", err)
	}

	cancelled := newActiveSubscription("user_cancelled")
	cancelled.Status = domain.StatusCancelled
	cancelled.CurrentPeriodEnd = now.Add(-time.Hour)
	if _, err := repo.CreateOrUpdateSubscription(ctx, cancelled); err != nil {
		t.Fatalf("upsert cancelled returned error: %v", err)
	}

	got, err := repo.GetOverdueSubscriptions(ctx, now)
	if err != nil {
		t.Fatalf("GetOverdueSubscriptions returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 overdue subscription, got %d", len(got))
	}
	if got[0].UserID != "user_overdue" {
		t.Fatalf("expected overdue subscription for user_overdue, got %q", got[0].UserID)
	}
}

func TestUpdateSubscriptionStatus(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	if _, err := repo.CreateOrUpdateSubscription(ctx, newActiveSubscription("user_1")); err != nil {
		t.Fatalf("CreateOrUpdateSubscription returned error: %v", err)
	}

	if err := repo.UpdateSubscriptionStatus(ctx, "user_1", domain.StatusPastDue); err != nil {
		t.Fatalf("UpdateSubscriptionStatus returned error: %v", err)
	}

	fetched, err := repo.GetSubscriptionByUserID(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetSubscriptionByUserID returned error: %v", err)
	}
	if fetched.Status != domain.StatusPastDue {
		t.Fatalf("expected status %q, got %q", domain.StatusPastDue, fetched.Status)
	}
	if fetched.CreditsRemaining != 100 {
		t.Fatalf("expected credits untouched at 100, got %d", fetched.CreditsRemaining)
	}

	if err := repo.UpdateSubscriptionStatus(ctx, "user_absent", domain.StatusPastDue); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}
