/**
 * @description
 * This file defines the static plan catalog for the subscription-service.
 * Plans are defined at process start and never mutated; every other layer
 * resolves plan references against this catalog.
 */
package domain

// PlanType identifies the pricing tier of a plan.
type PlanType string

const (
	PlanTypeFree       PlanType = "free"
	PlanTypePro        PlanType = "pro"
	PlanTypeEnterprise PlanType = "enterprise"
)

// Plan describes a purchasable subscription tier.
type Plan struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Type            PlanType `json:"type"`
	PriceCents      int64    `json:"price_cents"` // Monthly price in minor units.
	CreditsPerMonth int      `json:"credits_per_month"`
	Features        []string `json:"features"`
}

// planCatalog is the source of truth for available plans.
var planCatalog = []Plan{
	{
		ID:              "plan_free",
		Name:            "Free",
		Type:            PlanTypeFree,
		PriceCents:      0,
		CreditsPerMonth: 10,
		Features: []string{
			"10 credits per month",
			"Community support",
			"Single workspace",
		},
	},
	{
		ID:              "plan_pro",
		Name:            "Pro",
		Type:            PlanTypePro,
		PriceCents:      2900,
		CreditsPerMonth: 100,
		Features: []string{
			"100 credits per month",
			"Priority support",
			"Unlimited workspaces",
			"API access",
		},
	},
	{
		ID:              "plan_enterprise",
		Name:            "Enterprise",
		Type:            PlanTypeEnterprise,
		PriceCents:      19900,
		CreditsPerMonth: 1000,
		Features: []string{
			"1000 credits per month",
			"Dedicated support",
			"Unlimited workspaces",
			"API access",
			"SSO and audit logs",
		},
	},
}

// Plans returns the plan catalog in display order.
func Plans() []Plan {
	out := make([]Plan, len(planCatalog))
	copy(out, planCatalog)
	return out
}

// PlanByID looks up a plan in the catalog by its id.
func PlanByID(id string) (Plan, bool) {
	for _, p := range planCatalog {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
