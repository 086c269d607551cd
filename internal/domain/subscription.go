/**
 * @description
 * This file defines the core domain models for the subscription-service.
 * It includes the Subscription record held per user and the derived
 * CreditUsage view computed from a subscription and its matched plan.
 */
package domain

import (
	"math"
	"time"
)

// Subscription status values. A subscription is created as 'active', moves to
// 'cancelled' when the user cancels, and to 'past_due' when the billing sweep
// finds its period has lapsed. Subscribing again replaces the whole record.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusPastDue   = "past_due"
)

// Subscription represents a user's binding to a plan.
type Subscription struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	PlanID           string    `json:"plan_id"` // References Plan.ID; not enforced.
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	CreditsRemaining int       `json:"credits_remaining"`
}

// CreditUsage summarizes credit consumption for the current billing period.
type CreditUsage struct {
	Total      int `json:"total"`
	Used       int `json:"used"`
	Remaining  int `json:"remaining"`
	Percentage int `json:"percentage"`
}

// UsageFor derives the credit usage for a subscription against the plan
// catalog. A nil subscription or a plan id with no catalog entry yields the
// zero value rather than an error. A zero-credit plan is not guarded against;
// no such plan exists in the catalog.
func UsageFor(sub *Subscription) CreditUsage {
	if sub == nil {
		return CreditUsage{}
	}
	plan, ok := PlanByID(sub.PlanID)
	if !ok {
		return CreditUsage{}
	}

	total := plan.CreditsPerMonth
	remaining := sub.CreditsRemaining
	used := total - remaining

	return CreditUsage{
		Total:      total,
		Used:       used,
		Remaining:  remaining,
		Percentage: int(math.Round(float64(used) / float64(total) * 100)),
	}
}
