package state

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/veltra/subscription-service/internal/app"
	"github.com/veltra/subscription-service/internal/domain"
	"github.com/veltra/subscription-service/internal/identity"
	"github.com/veltra/subscription-service/internal/store"
	"github.com/veltra/subscription-service/pkg/rabbitmq"
)

// clientStub is a canned-response backend client.
type clientStub struct {
	fetchSub   *domain.Subscription
	fetchErr   error
	createSub  *domain.Subscription
	createErr  error
	cancelSub  *domain.Subscription
	cancelErr  error
	fetchCalls int
}

func (c *clientStub) FetchSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	c.fetchCalls++
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return c.fetchSub, nil
}

func (c *clientStub) CreateSubscription(ctx context.Context, userID, planID string) (*domain.Subscription, error) {
	if c.createErr != nil {
		return nil, c.createErr
	}
	return c.createSub, nil
}

func (c *clientStub) CancelSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if c.cancelErr != nil {
		return nil, c.cancelErr
	}
	return c.cancelSub, nil
}

// gatedCreateClient parks CreateSubscription between two channel operations so
// tests can observe the store while the call is in flight.
type gatedCreateClient struct {
	entered chan struct{}
	release chan struct{}
	sub     *domain.Subscription
}

func (c *gatedCreateClient) FetchSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return nil, nil
}

func (c *gatedCreateClient) CreateSubscription(ctx context.Context, userID, planID string) (*domain.Subscription, error) {
	c.entered <- struct{}{}
	<-c.release
	return c.sub, nil
}

func (c *gatedCreateClient) CancelSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return nil, domain.ErrNoActiveSubscription
}

// gatedFetchClient parks FetchSubscription the same way.
type gatedFetchClient struct {
	entered chan struct{}
	release chan struct{}
	sub     *domain.Subscription
}

func (c *gatedFetchClient) FetchSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	c.entered <- struct{}{}
	<-c.release
	return c.sub, nil
}

func (c *gatedFetchClient) CreateSubscription(ctx context.Context, userID, planID string) (*domain.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (c *gatedFetchClient) CancelSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return nil, errors.New("not implemented")
}

// newBackedStore wires a store to a real service so state transitions flow
// through actual backend semantics.
func newBackedStore() (*Store, *app.Service) {
	svc := app.NewService(store.NewRepository(), &rabbitmq.FallbackPublisher{})
	return NewStore(svc), svc
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestStoreWithoutIdentity(t *testing.T) {
	client := &clientStub{}
	st := NewStore(client)
	ctx := context.Background()

	if st.Subscription() != nil {
		t.Fatal("expected no subscription before a user is bound")
	}
	if st.Loading() {
		t.Fatal("expected loading to be false before any operation")
	}
	if usage := st.CreditUsage(); usage != (domain.CreditUsage{}) {
		t.Fatalf("expected zero usage, got %+v", usage)
	}
	if plans := st.Plans(); len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}

	if _, err := st.SubscribeToPlan(ctx, "plan_pro"); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity from subscribe, got %v", err)
	}
	if _, err := st.CancelSubscription(ctx); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity from cancel, got %v", err)
	}

	st.Refresh(ctx)
	if client.fetchCalls != 0 {
		t.Fatalf("expected Refresh to be a no-op without a user, got %d fetches", client.fetchCalls)
	}
}

func TestSetUserFetchesSubscription(t *testing.T) {
	st, svc := newBackedStore()
	ctx := context.Background()

	if _, err := svc.CreateSubscription(ctx, "user_1", "plan_pro"); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	st.SetUser(ctx, &identity.User{ID: "user_1"})

	sub := st.Subscription()
	if sub == nil {
		t.Fatal("expected the existing subscription to be loaded")
	}
	if sub.PlanID != "plan_pro" {
		t.Fatalf("expected plan %q, got %q", "plan_pro", sub.PlanID)
	}
	if st.Loading() {
		t.Fatal("expected loading to be cleared after the fetch")
	}
}

func TestSetUserWithoutSubscription(t *testing.T) {
	st, _ := newBackedStore()
	ctx := context.Background()

	st.SetUser(ctx, &identity.User{ID: "user_new"})

	if st.Subscription() != nil {
		t.Fatal("expected no subscription for a fresh user")
	}
	if st.Loading() {
		t.Fatal("expected loading to be cleared even when nothing was found")
	}
}

func TestSetUserNilClearsState(t *testing.T) {
	st, svc := newBackedStore()
	ctx := context.Background()

	if _, err := svc.CreateSubscription(ctx, "user_1", "plan_free"); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	st.SetUser(ctx, &identity.User{ID: "user_1"})
	if st.Subscription() == nil {
		t.Fatal("expected subscription to be loaded before sign-out")
	}

	st.SetUser(ctx, nil)

	if st.Subscription() != nil {
		t.Fatal("expected sign-out to clear the subscription")
	}
	if st.Loading() {
		t.Fatal("expected sign-out to clear the loading flag")
	}
	if _, err := st.SubscribeToPlan(ctx, "plan_pro"); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity after sign-out, got %v", err)
	}
}

func TestSubscribeToPlan_AllCatalogPlans(t *testing.T) {
	for _, plan := range domain.Plans() {
		t.Run(plan.ID, func(t *testing.T) {
			st, _ := newBackedStore()
			ctx := context.Background()
			st.SetUser(ctx, &identity.User{ID: "user_1"})

			sub, err := st.SubscribeToPlan(ctx, plan.ID)
			if err != nil {
				t.Fatalf("SubscribeToPlan(%q) returned error: %v", plan.ID, err)
			}
			if !strings.HasPrefix(sub.ID, "sub_") {
				t.Fatalf("expected a generated subscription id, got %q", sub.ID)
			}
			if sub.Status != domain.StatusActive {
				t.Fatalf("expected status %q, got %q", domain.StatusActive, sub.Status)
			}
			if sub.CreditsRemaining != plan.CreditsPerMonth {
				t.Fatalf("expected full allotment %d, got %d", plan.CreditsPerMonth, sub.CreditsRemaining)
			}
			wantEnd := time.Now().AddDate(0, 0, 30)
			if sub.CurrentPeriodEnd.Before(wantEnd.Add(-time.Minute)) || sub.CurrentPeriodEnd.After(wantEnd.Add(time.Minute)) {
				t.Fatalf("expected period end near %v, got %v", wantEnd, sub.CurrentPeriodEnd)
			}

			held := st.Subscription()
			if held == nil || held.ID != sub.ID {
				t.Fatalf("expected store to hold the new subscription %q, got %+v", sub.ID, held)
			}
			if st.Loading() {
				t.Fatal("expected loading to be cleared after subscribing")
			}

			usage := st.CreditUsage()
			want := domain.CreditUsage{Total: plan.CreditsPerMonth, Used: 0, Remaining: plan.CreditsPerMonth, Percentage: 0}
			if usage != want {
				t.Fatalf("expected fresh usage %+v, got %+v", want, usage)
			}
		})
	}
}

func TestSubscribeToPlan_UnknownPlan(t *testing.T) {
	st, _ := newBackedStore()
	ctx := context.Background()
	st.SetUser(ctx, &identity.User{ID: "user_1"})

	if _, err := st.SubscribeToPlan(ctx, "plan_pro"); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	before := st.Subscription()

	_, err := st.SubscribeToPlan(ctx, "plan_unknown")
	if !errors.Is(err, domain.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}

	after := st.Subscription()
	if after == nil || after.ID != before.ID {
		t.Fatalf("expected held subscription to be unchanged, got %+v", after)
	}
	if st.Loading() {
		t.Fatal("expected loading to be cleared after the failed subscribe")
	}
}

func TestSubscribeToPlan_ReplacesExisting(t *testing.T) {
	st, svc := newBackedStore()
	ctx := context.Background()
	st.SetUser(ctx, &identity.User{ID: "user_1"})

	first, err := st.SubscribeToPlan(ctx, "plan_pro")
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := svc.ConsumeCredits(ctx, "user_1", 40); err != nil {
		t.Fatalf("consume credits: %v", err)
	}
	st.Refresh(ctx)
	if got := st.Subscription().CreditsRemaining; got != 60 {
		t.Fatalf("expected 60 credits after consumption, got %d", got)
	}

	second, err := st.SubscribeToPlan(ctx, "plan_pro")
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected re-subscribing to mint a fresh subscription id")
	}
	if second.CreditsRemaining != 100 {
		t.Fatalf("expected the allotment to reset to 100, got %d", second.CreditsRemaining)
	}
}

func TestCancelSubscription_NoSubscription(t *testing.T) {
	st, _ := newBackedStore()
	ctx := context.Background()
	st.SetUser(ctx, &identity.User{ID: "user_1"})

	_, err := st.CancelSubscription(ctx)
	if !errors.Is(err, domain.ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
	if st.Loading() {
		t.Fatal("expected loading to stay false after the precondition failure")
	}
}

func TestCancelSubscription_PreservesCreditsAndPeriod(t *testing.T) {
	st, svc := newBackedStore()
	ctx := context.Background()
	st.SetUser(ctx, &identity.User{ID: "user_1"})

	if _, err := st.SubscribeToPlan(ctx, "plan_pro"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := svc.ConsumeCredits(ctx, "user_1", 40); err != nil {
		t.Fatalf("consume credits: %v", err)
	}
	st.Refresh(ctx)
	before := st.Subscription()

	cancelled, err := st.CancelSubscription(ctx)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected status %q, got %q", domain.StatusCancelled, cancelled.Status)
	}
	if cancelled.ID != before.ID {
		t.Fatalf("expected cancellation to keep id %q, got %q", before.ID, cancelled.ID)
	}
	if cancelled.CreditsRemaining != 60 {
		t.Fatalf("expected remaining credits untouched at 60, got %d", cancelled.CreditsRemaining)
	}
	if !cancelled.CurrentPeriodEnd.Equal(before.CurrentPeriodEnd) {
		t.Fatalf("expected period end untouched, got %v want %v", cancelled.CurrentPeriodEnd, before.CurrentPeriodEnd)
	}

	// Usage reads the same after cancellation; status plays no part in it.
	usage := st.CreditUsage()
	want := domain.CreditUsage{Total: 100, Used: 40, Remaining: 60, Percentage: 40}
	if usage != want {
		t.Fatalf("expected usage %+v after cancel, got %+v", want, usage)
	}
}

func TestCreditUsage_Lifecycle(t *testing.T) {
	st, svc := newBackedStore()
	ctx := context.Background()
	st.SetUser(ctx, &identity.User{ID: "user_1"})

	if usage := st.CreditUsage(); usage != (domain.CreditUsage{}) {
		t.Fatalf("expected zero usage before subscribing, got %+v", usage)
	}

	if _, err := st.SubscribeToPlan(ctx, "plan_pro"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fresh := st.CreditUsage()
	if want := (domain.CreditUsage{Total: 100, Used: 0, Remaining: 100, Percentage: 0}); fresh != want {
		t.Fatalf("expected fresh usage %+v, got %+v", want, fresh)
	}

	if _, err := svc.ConsumeCredits(ctx, "user_1", 40); err != nil {
		t.Fatalf("consume credits: %v", err)
	}
	st.Refresh(ctx)
	after := st.CreditUsage()
	if want := (domain.CreditUsage{Total: 100, Used: 40, Remaining: 60, Percentage: 40}); after != want {
		t.Fatalf("expected usage %+v after consumption, got %+v", want, after)
	}
}

func TestCreditUsage_DanglingPlan(t *testing.T) {
	client := &clientStub{fetchSub: &domain.Subscription{
		ID:               "sub_1",
		UserID:           "user_1",
		PlanID:           "plan_retired",
		Status:           domain.StatusActive,
		CreditsRemaining: 25,
	}}
	st := NewStore(client)
	ctx := context.Background()

	st.SetUser(ctx, &identity.User{ID: "user_1"})

	if st.Subscription() == nil {
		t.Fatal("expected the record to be held even with an unknown plan")
	}
	if usage := st.CreditUsage(); usage != (domain.CreditUsage{}) {
		t.Fatalf("expected zero usage for an unknown plan, got %+v", usage)
	}
}

func TestFetchFailureLeavesSubscriptionAbsent(t *testing.T) {
	client := &clientStub{fetchErr: errors.New("backend down")}
	st := NewStore(client)
	ctx := context.Background()

	st.SetUser(ctx, &identity.User{ID: "user_1"})

	if st.Subscription() != nil {
		t.Fatal("expected no subscription when the fetch fails")
	}
	if st.Loading() {
		t.Fatal("expected loading to be cleared after a failed fetch")
	}

	st.Refresh(ctx)
	if st.Subscription() != nil || st.Loading() {
		t.Fatal("expected a failed refresh to leave the state absent and settled")
	}
}

func TestSubscribeToPlan_BackendErrorIsReturned(t *testing.T) {
	wantErr := errors.New("payment declined")
	client := &clientStub{createErr: wantErr}
	st := NewStore(client)
	ctx := context.Background()

	st.SetUser(ctx, &identity.User{ID: "user_1"})

	_, err := st.SubscribeToPlan(ctx, "plan_pro")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the backend error to surface, got %v", err)
	}
	if st.Subscription() != nil {
		t.Fatal("expected no subscription after a failed subscribe")
	}
	if st.Loading() {
		t.Fatal("expected loading to be cleared after the failure")
	}
}

func TestLoadingVisibleDuringSubscribe(t *testing.T) {
	client := &gatedCreateClient{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		sub: &domain.Subscription{
			ID:               "sub_gated",
			UserID:           "user_1",
			PlanID:           "plan_pro",
			Status:           domain.StatusActive,
			CreditsRemaining: 100,
		},
	}
	st := NewStore(client)
	ctx := context.Background()
	st.SetUser(ctx, &identity.User{ID: "user_1"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := st.SubscribeToPlan(ctx, "plan_pro"); err != nil {
			t.Errorf("SubscribeToPlan returned error: %v", err)
		}
	}()

	<-client.entered
	if !st.Loading() {
		t.Fatal("expected loading to be true while the backend call is in flight")
	}
	if st.Subscription() != nil {
		t.Fatal("expected the old state to remain visible while in flight")
	}

	close(client.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the subscribe to finish")
	}

	if st.Loading() {
		t.Fatal("expected loading to be cleared after completion")
	}
	if sub := st.Subscription(); sub == nil || sub.ID != "sub_gated" {
		t.Fatalf("expected the new subscription to be held, got %+v", sub)
	}
}

func TestSignOutDuringFetchWins(t *testing.T) {
	client := &gatedFetchClient{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		sub: &domain.Subscription{
			ID:     "sub_stale",
			UserID: "user_1",
			PlanID: "plan_pro",
			Status: domain.StatusActive,
		},
	}
	st := NewStore(client)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		st.SetUser(ctx, &identity.User{ID: "user_1"})
	}()

	<-client.entered
	st.SetUser(ctx, nil)
	close(client.release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the fetch to finish")
	}

	if st.Subscription() != nil {
		t.Fatal("expected the stale fetch result to be discarded after sign-out")
	}
	if st.Loading() {
		t.Fatal("expected loading to stay false after sign-out")
	}
}

func TestWatchFollowsIdentitySource(t *testing.T) {
	st, svc := newBackedStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := svc.CreateSubscription(ctx, "user_1", "plan_free"); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	ids := identity.NewBroadcaster()
	ids.SetUser(&identity.User{ID: "user_1"})
	go st.Watch(ctx, ids)

	waitFor(t, func() bool {
		sub := st.Subscription()
		return sub != nil && sub.PlanID == "plan_free"
	}, "the current user's subscription to load")

	ids.SetUser(nil)
	waitFor(t, func() bool {
		return st.Subscription() == nil && !st.Loading()
	}, "sign-out to clear the state")

	ids.SetUser(&identity.User{ID: "user_1"})
	waitFor(t, func() bool {
		return st.Subscription() != nil
	}, "sign-in to reload the subscription")
}
